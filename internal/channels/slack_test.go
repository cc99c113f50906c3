package channels

import (
	"context"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"

	"github.com/drover-ai/drover/internal/bus"
	"github.com/drover-ai/drover/internal/config"
)

func newTestSlack(cfg config.SlackConfig) (*SlackChannel, *bus.MessageBus) {
	b := bus.NewMessageBus()
	c := NewSlackChannel(cfg, b, nil)
	c.botID = "BBOT"
	return c, b
}

func consumeOne(t *testing.T, b *bus.MessageBus) *bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("expected an inbound message: %v", err)
	}
	return msg
}

func TestHandleMessagePublishesInbound(t *testing.T) {
	c, b := newTestSlack(config.SlackConfig{Enabled: true})

	c.handleMessage(&slackevents.MessageEvent{
		User:      "U123",
		Channel:   "C456",
		TimeStamp: "1724990000.000100",
		Text:      "  hello drover  ",
	})

	msg := consumeOne(t, b)
	if msg.SenderID != "U123" || msg.ChatID != "C456" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.MessageID != "1724990000.000100" {
		t.Fatalf("expected slack timestamp as message id, got %q", msg.MessageID)
	}
	if msg.Content != "hello drover" {
		t.Fatalf("expected trimmed content, got %q", msg.Content)
	}
	if msg.ReplyToID != "" {
		t.Fatalf("expected no reply id for top-level message, got %q", msg.ReplyToID)
	}
}

func TestHandleMessageThreadReply(t *testing.T) {
	c, b := newTestSlack(config.SlackConfig{Enabled: true})

	c.handleMessage(&slackevents.MessageEvent{
		User:            "U123",
		Channel:         "C456",
		TimeStamp:       "1724990001.000200",
		ThreadTimeStamp: "1724990000.000100",
		Text:            "following up",
	})

	msg := consumeOne(t, b)
	if msg.ReplyToID != "1724990000.000100" {
		t.Fatalf("expected thread root as reply id, got %q", msg.ReplyToID)
	}
}

func TestHandleMessageThreadRootNotAReply(t *testing.T) {
	c, b := newTestSlack(config.SlackConfig{Enabled: true})

	// A thread root carries its own timestamp as ThreadTimeStamp.
	c.handleMessage(&slackevents.MessageEvent{
		User:            "U123",
		Channel:         "C456",
		TimeStamp:       "1724990000.000100",
		ThreadTimeStamp: "1724990000.000100",
		Text:            "starting a thread",
	})

	msg := consumeOne(t, b)
	if msg.ReplyToID != "" {
		t.Fatalf("expected thread root not treated as reply, got %q", msg.ReplyToID)
	}
}

func TestHandleMessageIgnoresOwnAndSubtyped(t *testing.T) {
	c, b := newTestSlack(config.SlackConfig{Enabled: true})

	c.handleMessage(&slackevents.MessageEvent{User: "BBOT", Channel: "C", TimeStamp: "1", Text: "self"})
	c.handleMessage(&slackevents.MessageEvent{User: "", Channel: "C", TimeStamp: "2", Text: "no user"})
	c.handleMessage(&slackevents.MessageEvent{User: "U1", SubType: "message_changed", Channel: "C", TimeStamp: "3", Text: "edit"})
	c.handleMessage(&slackevents.MessageEvent{User: "U1", Channel: "C", TimeStamp: "4", Text: "   "})

	if b.InboundSize() != 0 {
		t.Fatalf("expected all messages filtered, got %d", b.InboundSize())
	}
}

func TestAllowFrom(t *testing.T) {
	cases := []struct {
		name      string
		allowFrom []string
		user      string
		want      bool
	}{
		{"empty list allows everyone", nil, "U1", true},
		{"listed user allowed", []string{"U1", "U2"}, "U1", true},
		{"unlisted user denied", []string{"U1"}, "U9", false},
		{"wildcard allows everyone", []string{"*"}, "U9", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, b := newTestSlack(config.SlackConfig{Enabled: true, AllowFrom: tc.allowFrom})
			c.handleMessage(&slackevents.MessageEvent{
				User: tc.user, Channel: "C", TimeStamp: "1", Text: "hi",
			})
			got := b.InboundSize() == 1
			if got != tc.want {
				t.Fatalf("allowFrom %v user %s: published=%v want %v", tc.allowFrom, tc.user, got, tc.want)
			}
		})
	}
}

func TestStartDisabled(t *testing.T) {
	c, _ := newTestSlack(config.SlackConfig{Enabled: false})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("expected disabled channel to start as no-op, got %v", err)
	}
}

func TestStartMissingTokens(t *testing.T) {
	c, _ := newTestSlack(config.SlackConfig{Enabled: true})
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing tokens")
	}
}
