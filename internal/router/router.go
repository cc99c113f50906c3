package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/config"
)

// classifyMaxChars bounds the message text embedded in the classification
// prompt.
const classifyMaxChars = 600

const classifyPrompt = `You are a message router. Reply with a JSON object of the form
{"category": "secretary"} or {"category": "general"} and nothing else.

Classify as "secretary" if the message is about scheduling, reminders,
calendars, email, contacts, or personal admin. Everything else is "general".

Message:
%s`

// Invoker issues the stateless classification call. Satisfied by
// *agent.Executor.
type Invoker interface {
	Execute(ctx context.Context, name, prompt string, opts agent.RunOptions) (*agent.Result, error)
}

// Router resolves the session group for incoming chat messages.
type Router struct {
	cfg     config.RouterConfig
	routes  *ReplyRoutes
	invoker Invoker
}

// New creates a Router over the reply-route map and classifier invoker.
func New(cfg config.RouterConfig, routes *ReplyRoutes, invoker Invoker) *Router {
	return &Router{cfg: cfg, routes: routes, invoker: invoker}
}

// Routes exposes the reply-route map so transports can record sent messages.
func (r *Router) Routes() *ReplyRoutes { return r.routes }

// Route resolves the session group for a message. First match wins:
// reply continuity, then classification, then the fixed default. Every
// failure mode resolves to the default group; Route never fails.
func (r *Router) Route(ctx context.Context, replyToID, text string) string {
	if replyToID != "" {
		if group, ok := r.routes.Lookup(replyToID); ok {
			return group
		}
	}

	category, err := r.classify(ctx, text)
	if err != nil {
		slog.Debug("Classification failed, using default group", "error", err)
		return r.cfg.DefaultGroup
	}
	if category == "secretary" {
		return r.cfg.SecretaryGroup
	}
	return r.cfg.DefaultGroup
}

// classify issues one stateless, single-turn invocation with structured
// output and exactly two category labels.
func (r *Router) classify(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(classifyPrompt, truncate(text, classifyMaxChars))

	res, err := r.invoker.Execute(ctx, "classify", prompt, agent.RunOptions{
		Stateless:        true,
		Model:            r.cfg.ClassifierModel,
		MaxTurns:         1,
		StructuredOutput: true,
	})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("classifier exit code %d", res.ExitCode)
	}

	var out struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(classifierPayload(res.Stdout)), &out); err != nil {
		return "", fmt.Errorf("classifier output not parseable: %w", err)
	}
	switch out.Category {
	case "secretary", "general":
		return out.Category, nil
	default:
		return "", fmt.Errorf("unexpected category %q", out.Category)
	}
}

// classifierPayload extracts the category object from classifier stdout.
// Structured output wraps the agent's text in a result envelope; the category
// object is inside the result field. Leading diagnostics before the JSON are
// tolerated at both levels.
func classifierPayload(stdout string) string {
	payload := strings.TrimSpace(stdout)
	if idx := strings.Index(payload, "{"); idx > 0 {
		payload = payload[idx:]
	}
	var envelope struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && envelope.Result != "" {
		payload = strings.TrimSpace(envelope.Result)
		if idx := strings.Index(payload, "{"); idx > 0 {
			payload = payload[idx:]
		}
	}
	return payload
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
