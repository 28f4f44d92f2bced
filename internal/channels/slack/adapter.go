// Package slack is the one illustrative channel adapter carried into the
// core per SPEC_FULL.md's Domain Stack table: channel-adapter bodies are
// out of scope (spec.md §1 — "channel adapters... are plumbing"), but this
// thin wrapper exercises github.com/slack-go/slack at the C6 hub-method
// boundary so the dependency is more than a stub import. Grounded on
// internal/channels/slack/clients.go's SlackClient interface and
// adapter.go's client construction in the teacher, trimmed to the single
// outbound-send operation channels.send needs.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Adapter wraps a Slack bot-token client for outbound posts only; inbound
// Socket Mode/event handling is channel-adapter plumbing and stays out of
// the core per spec.md §1.
type Adapter struct {
	client *slack.Client
}

// NewAdapter builds an Adapter from a bot token. An empty token yields an
// Adapter whose Send always fails, so callers can construct one
// unconditionally and let Configured gate usage.
func NewAdapter(botToken string) *Adapter {
	if botToken == "" {
		return &Adapter{}
	}
	return &Adapter{client: slack.New(botToken)}
}

// Configured reports whether a bot token was supplied.
func (a *Adapter) Configured() bool {
	return a.client != nil
}

// Send posts text to channelID and returns the message timestamp Slack
// assigns, per internal/channels/slack's PostMessageContext usage in the
// teacher.
func (a *Adapter) Send(ctx context.Context, channelID, text string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("slack adapter: no bot token configured")
	}
	_, timestamp, err := a.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack adapter: post message: %w", err)
	}
	return timestamp, nil
}
