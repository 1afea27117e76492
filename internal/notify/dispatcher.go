package notify

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	defaultQueueSize = 256
	sendTimeout      = 10 * time.Second
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Providers []Provider `group:"notify.providers"`
}

// Dispatcher queues notifications and delivers them from a single worker.
// A full queue drops the notification.
type Dispatcher struct {
	log       *zap.Logger
	clock     clock.Clock
	providers []Provider

	queue chan Notification
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func NewDispatcher(p Params) *Dispatcher {
	size := p.Config.Notify.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	providers := make([]Provider, 0, len(p.Providers))
	for _, provider := range p.Providers {
		if provider != nil {
			providers = append(providers, provider)
		}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Dispatcher{
		log:       log.Named("notify.dispatcher"),
		clock:     c,
		providers: providers,
		queue:     make(chan Notification, size),
		stop:      make(chan struct{}),
	}
}

func (d *Dispatcher) NotifyAsync(_ context.Context, event Event, payload datatypes.JSONMap) {
	n := Notification{Event: event, Payload: payload, OccurredAt: d.clock.Now().UTC()}
	select {
	case d.queue <- n:
	default:
		d.log.Warn("notify.dropped", zap.String("event", string(event)))
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop drains what is already queued and waits for the worker to exit.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.once.Do(func() { close(d.stop) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.stop:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	for _, provider := range d.providers {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := provider.Send(ctx, n); err != nil {
			d.log.Warn("notify.send.failed",
				zap.String("provider", provider.Name()),
				zap.String("event", string(n.Event)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// LogProvider writes notifications to the application log.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("notify.log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(_ context.Context, n Notification) error {
	p.log.Info(string(n.Event), zap.Any("payload", n.Payload), zap.Time("occurred_at", n.OccurredAt))
	return nil
}
