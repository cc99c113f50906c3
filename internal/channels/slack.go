package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/drover-ai/drover/internal/bus"
	"github.com/drover-ai/drover/internal/config"
)

// SlackChannel is a Socket Mode Slack transport. Inbound messages go to the
// bus; outbound replies are posted via the Web API and their timestamps are
// recorded against the producing session group.
type SlackChannel struct {
	cfg    config.SlackConfig
	bus    *bus.MessageBus
	routes RouteRecorder
	api    *slack.Client
	sock   *socketmode.Client
	botID  string
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus, routes RouteRecorder) *SlackChannel {
	return &SlackChannel{cfg: cfg, bus: messageBus, routes: routes}
}

func (c *SlackChannel) Name() string { return "slack" }

// Start connects to Slack and begins relaying events. Returns immediately;
// the event loop runs until the context is cancelled.
func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if c.cfg.BotToken == "" || c.cfg.AppToken == "" {
		return fmt.Errorf("slack: bot token and app token are required")
	}

	c.api = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	c.sock = socketmode.New(c.api)

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botID = auth.UserID

	c.bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.send(ctx, msg); err != nil {
			slog.Error("Slack send failed", "chat", msg.ChatID, "error", err)
		}
	})

	go c.runEventLoop(ctx)
	go func() {
		if err := c.sock.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()

	slog.Info("Slack channel started", "bot", c.botID)
	return nil
}

func (c *SlackChannel) Stop() error { return nil }

func (c *SlackChannel) runEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sock.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			if evt.Request != nil {
				c.sock.Ack(*evt.Request)
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				c.handleMessage(ev)
			}
		}
	}
}

func (c *SlackChannel) handleMessage(ev *slackevents.MessageEvent) {
	// Ignore our own messages, edits, and other subtyped events.
	if ev.User == "" || ev.User == c.botID || ev.SubType != "" {
		return
	}
	if !c.allowed(ev.User) {
		slog.Debug("Slack message dropped: sender not allowed", "user", ev.User)
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	// A threaded message replies to the thread root.
	replyTo := ""
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		replyTo = ev.ThreadTimeStamp
	}

	c.bus.PublishInbound(&bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		MessageID: ev.TimeStamp,
		ReplyToID: replyTo,
		Content:   text,
	})
}

// send posts a reply and records its timestamp against the session group.
func (c *SlackChannel) send(ctx context.Context, msg *bus.OutboundMessage) error {
	_, ts, err := c.api.PostMessageContext(ctx, msg.ChatID,
		slack.MsgOptionText(msg.Content, false))
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	if msg.Group != "" && c.routes != nil {
		if err := c.routes.Record(ts, msg.Group); err != nil {
			slog.Warn("Reply route record failed", "group", msg.Group, "error", err)
		}
	}
	return nil
}

func (c *SlackChannel) allowed(userID string) bool {
	if len(c.cfg.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range c.cfg.AllowFrom {
		if allowed == userID || allowed == "*" {
			return true
		}
	}
	return false
}
