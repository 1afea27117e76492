package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/providers/slack"
)

type slackProvider struct {
	poster slack.Provider
}

// newSlackProvider returns nil when no webhook is configured.
func newSlackProvider(cfg config.Config) Provider {
	if cfg.Notify.SlackWebhookURL == "" {
		return nil
	}
	return NewSlackProvider(slack.NewWebhook(cfg.Notify.SlackWebhookURL, nil))
}

func NewSlackProvider(poster slack.Provider) Provider {
	return &slackProvider{poster: poster}
}

func (p *slackProvider) Name() string { return "slack" }

func (p *slackProvider) Send(ctx context.Context, n Notification) error {
	return p.poster.PostMessage(ctx, formatMessage(n))
}

func formatMessage(n Notification) string {
	keys := make([]string, 0, len(n.Payload))
	for k := range n.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("*")
	b.WriteString(string(n.Event))
	b.WriteString("*")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, n.Payload[k])
	}
	return b.String()
}
