// Package ops sends operator-facing Slack alerts for the two events
// that mean the pipeline took an autonomous, hard-to-reverse action on
// someone's behalf: an agent auto-contained and a webhook endpoint
// auto-disabled. Both are best-effort — a Slack outage must never
// block the gateway request path, so every call here swallows its own
// error after logging it.
package ops

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier posts alerts to a fixed Slack channel.
type Notifier struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier builds a Notifier. A blank token or channel yields a
// Notifier whose methods are no-ops, so operators can run without
// Slack configured instead of the gateway refusing to start.
func NewNotifier(token, channel string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{channel: channel, logger: logger}
	if token != "" {
		n.client = slack.New(token)
	}
	return n
}

func (n *Notifier) enabled() bool { return n.client != nil && n.channel != "" }

// NotifyAutoContainment alerts that an agent was auto-paused.
func (n *Notifier) NotifyAutoContainment(ctx context.Context, agentID, reason string) {
	n.post(ctx, fmt.Sprintf(":no_entry: Auto-contained agent `%s`: %s", agentID, reason))
}

// NotifyEndpointDisabled alerts that a webhook endpoint was disabled
// after exceeding the consecutive-failure threshold.
func (n *Notifier) NotifyEndpointDisabled(ctx context.Context, endpointID, reason string) {
	n.post(ctx, fmt.Sprintf(":warning: Disabled webhook endpoint `%s`: %s", endpointID, reason))
}

func (n *Notifier) post(ctx context.Context, text string) {
	if !n.enabled() {
		return
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("ops: slack post failed", "error", err)
	}
}
