// Package dispatch consumes inbound messages, resolves their session group,
// and drives agent invocations through the execution queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/bus"
	"github.com/drover-ai/drover/internal/router"
)

// Dispatcher is the daemon's inbound work loop.
type Dispatcher struct {
	bus      *bus.MessageBus
	router   *router.Router
	executor *agent.Executor
}

// New creates a Dispatcher.
func New(b *bus.MessageBus, r *router.Router, e *agent.Executor) *Dispatcher {
	return &Dispatcher{bus: b, router: r, executor: e}
}

// Run consumes inbound messages until the context is cancelled. Each message
// is handled in its own goroutine; ordering within a session group is
// enforced by the execution queue, not here.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher started")
	for {
		msg, err := d.bus.ConsumeInbound(ctx)
		if err != nil {
			slog.Info("Dispatcher stopped")
			return err
		}
		go d.handle(ctx, msg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *bus.InboundMessage) {
	group := d.router.Route(ctx, msg.ReplyToID, msg.Content)
	slog.Info("Message routed", "channel", msg.Channel, "sender", msg.SenderID, "group", group)

	name := fmt.Sprintf("chat:%s:%s", msg.Channel, msg.SenderID)
	res, err := d.executor.Execute(ctx, name, msg.Content, agent.RunOptions{Group: group})
	if err != nil {
		slog.Error("Invocation failed", "name", name, "error", err)
		return
	}

	content := res.Stdout
	if res.ExitCode != 0 && content == "" {
		content = fmt.Sprintf("agent exited with code %d: %s", res.ExitCode, res.Stderr)
	}

	d.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Group:   group,
		Content: content,
	})
}

// SubmitJob runs one scheduled or manual invocation through the executor.
func (d *Dispatcher) SubmitJob(ctx context.Context, name, prompt string, opts agent.RunOptions) (*agent.Result, error) {
	return d.executor.Execute(ctx, name, prompt, opts)
}
