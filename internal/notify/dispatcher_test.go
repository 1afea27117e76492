package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/providers/slack"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type captureProvider struct {
	mu   sync.Mutex
	sent []Notification
}

func (p *captureProvider) Name() string { return "capture" }

func (p *captureProvider) Send(_ context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func TestDispatcherDeliversQueued(t *testing.T) {
	capture := &captureProvider{}
	d := NewDispatcher(Params{
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Config:    config.Config{Notify: config.NotifyConfig{QueueSize: 4}},
		Providers: []Provider{capture, nil},
	})
	d.Start()

	d.NotifyAsync(context.Background(), EventBandwidthWarning, datatypes.JSONMap{"percent": 80})
	d.NotifyAsync(context.Background(), EventAddonApplied, datatypes.JSONMap{"addon_id": "1"})
	require.NoError(t, d.Stop(context.Background()))

	require.Len(t, capture.sent, 2)
	require.Equal(t, EventBandwidthWarning, capture.sent[0].Event)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	capture := &captureProvider{}
	d := NewDispatcher(Params{
		Log:       zap.NewNop(),
		Config:    config.Config{Notify: config.NotifyConfig{QueueSize: 1}},
		Providers: []Provider{capture},
	})

	// Worker not started: the second notification has nowhere to go.
	d.NotifyAsync(context.Background(), EventBandwidthWarning, nil)
	d.NotifyAsync(context.Background(), EventBandwidthWarning, nil)

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	require.Len(t, capture.sent, 1)
}

func TestSlackProviderPostsFormattedMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider := NewSlackProvider(slack.NewWebhook(srv.URL, srv.Client()))
	err := provider.Send(context.Background(), Notification{
		Event:   EventBandwidthWarning,
		Payload: datatypes.JSONMap{"user_id": "1", "percent": 100},
	})
	require.NoError(t, err)
	require.Equal(t, "*quota.bandwidth_warning*\npercent: 100\nuser_id: 1", got["text"])
}

func TestSlackProviderReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := NewSlackProvider(slack.NewWebhook(srv.URL, srv.Client()))
	require.Error(t, provider.Send(context.Background(), Notification{Event: EventAddonApplied}))
}
