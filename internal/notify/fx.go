package notify

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("notify",
	fx.Provide(
		fx.Annotate(NewLogProvider, fx.As(new(Provider)), fx.ResultTags(`group:"notify.providers"`)),
		fx.Annotate(newSlackProvider, fx.ResultTags(`group:"notify.providers"`)),
		NewDispatcher,
		func(d *Dispatcher) Notifier { return d },
	),
	fx.Invoke(func(lc fx.Lifecycle, d *Dispatcher) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				d.Start()
				return nil
			},
			OnStop: d.Stop,
		})
	}),
)
