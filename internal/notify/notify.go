// Package notify dispatches fire-and-forget notifications to the configured
// providers. Callers never wait for delivery and never see delivery errors.
package notify

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

type Event string

const (
	EventBandwidthWarning Event = "quota.bandwidth_warning"
	EventAddonApplied     Event = "quota.addon_applied"
	EventWithdrawalFailed Event = "tokens.withdrawal_failed"
)

type Notification struct {
	Event      Event             `json:"event"`
	Payload    datatypes.JSONMap `json:"payload"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Notifier interface {
	NotifyAsync(ctx context.Context, event Event, payload datatypes.JSONMap)
}

// Provider delivers a single notification.
type Provider interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) NotifyAsync(context.Context, Event, datatypes.JSONMap) {}
