// Package opsnotify posts on-call visibility messages to Slack when a job
// or webhook delivery reaches terminal failure, grounded on
// pkg/slack/notifier.go's IsEnabled/noop-when-unconfigured pattern.
package opsnotify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/google/uuid"
)

// Notifier posts job/webhook terminal-failure notices to a Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New builds a Notifier. If botToken is empty, the notifier is a noop.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a live Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// JobFailed notifies on-call that a job exhausted its retries and was
// marked permanently failed.
func (n *Notifier) JobFailed(ctx context.Context, jobID, tenantID uuid.UUID, jobType, lastError string) {
	if !n.IsEnabled() {
		n.logger.Debug("ops notifier disabled, skipping job-failed alert", "job_id", jobID)
		return
	}

	text := fmt.Sprintf(":red_circle: Job failed permanently\n*Job:* `%s`\n*Tenant:* `%s`\n*Type:* %s\n*Error:* %s",
		jobID, tenantID, jobType, lastError)

	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Warn("posting job-failed notification", "error", err, "job_id", jobID)
	}
}

// WebhookExhausted notifies on-call that a webhook delivery exhausted its
// retry ladder without ever succeeding.
func (n *Notifier) WebhookExhausted(ctx context.Context, deliveryID, subscriptionID uuid.UUID, eventType string, attempts int) {
	if !n.IsEnabled() {
		n.logger.Debug("ops notifier disabled, skipping webhook-exhausted alert", "delivery_id", deliveryID)
		return
	}

	text := fmt.Sprintf(":warning: Webhook delivery exhausted retries\n*Delivery:* `%s`\n*Subscription:* `%s`\n*Event:* %s\n*Attempts:* %d",
		deliveryID, subscriptionID, eventType, attempts)

	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Warn("posting webhook-exhausted notification", "error", err, "delivery_id", deliveryID)
	}
}
