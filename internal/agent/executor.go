package agent

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/queue"
	"github.com/drover-ai/drover/internal/session"
)

// RunOptions is the per-invocation configuration.
type RunOptions struct {
	// Group selects the session group; empty means the reserved default.
	Group string
	// Stateless invocations never read or write the session registry and are
	// never serialized against other work.
	Stateless bool
	// Model overrides the configured default model.
	Model string
	// AllowedTools restricts the agent's tool use.
	AllowedTools []string
	// Effort is the effort/verbosity hint passed through to the agent.
	Effort string
	// MaxTurns caps agentic turns; 0 means the configured default.
	MaxTurns int
	// StructuredOutput requests machine-parseable output on stateless calls.
	// Persistent new-session invocations always request it.
	StructuredOutput bool
}

// Result is the outcome of one invocation.
type Result struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	SessionID    string
	NewSession   bool
	UsedFallback bool
	RateLimited  bool
}

// Record is the durable per-invocation log entry.
type Record struct {
	Name         string    `json:"name"`
	Group        string    `json:"group"`
	SessionID    string    `json:"session_id,omitempty"`
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	Stdout       string    `json:"stdout"`
	Stderr       string    `json:"stderr,omitempty"`
	ExitCode     int       `json:"exit_code"`
	NewSession   bool      `json:"new_session"`
	UsedFallback bool      `json:"used_fallback"`
	RateLimited  bool      `json:"rate_limited"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordSink receives the durable invocation record. Failures are logged,
// never surfaced to the invocation caller.
type RecordSink interface {
	Record(ctx context.Context, rec *Record) error
}

// Executor issues external agent invocations.
type Executor struct {
	cfg       config.AgentConfig
	workspace string
	store     *session.Store
	rotator   *session.Rotator
	queue     *queue.Queue
	runner    Runner
	detector  *RateLimitDetector
	sinks     []RecordSink
}

// NewExecutor wires an executor. Sinks are optional log surfaces.
func NewExecutor(cfg config.AgentConfig, workspace string, store *session.Store, rotator *session.Rotator, q *queue.Queue, sinks ...RecordSink) *Executor {
	return &Executor{
		cfg:       cfg,
		workspace: workspace,
		store:     store,
		rotator:   rotator,
		queue:     q,
		runner:    ExecRunner{},
		detector:  NewRateLimitDetector(),
		sinks:     sinks,
	}
}

// SetRunner replaces the process runner. Used by tests.
func (e *Executor) SetRunner(r Runner) { e.runner = r }

// SetDetector replaces the rate-limit predicate.
func (e *Executor) SetDetector(d *RateLimitDetector) { e.detector = d }

// Execute routes one invocation through the serialization queue and runs it.
// Grouped invocations use the group name as the queue key; stateless ones
// get a fresh key so nothing serializes against them.
func (e *Executor) Execute(ctx context.Context, name, prompt string, opts RunOptions) (*Result, error) {
	key := e.queueKey(opts)
	var res *Result
	err := e.queue.Submit(key, func() error {
		var invokeErr error
		res, invokeErr = e.invoke(ctx, name, prompt, opts)
		return invokeErr
	})
	return res, err
}

func (e *Executor) queueKey(opts RunOptions) string {
	if opts.Stateless {
		return queue.StatelessKey()
	}
	if opts.Group == "" {
		return session.DefaultGroup
	}
	return opts.Group
}

// invoke performs one invocation. For a grouped call the caller guarantees,
// via the queue, that no other invocation for the same group interleaves
// between the rotation check and the registry write-back.
func (e *Executor) invoke(ctx context.Context, name, prompt string, opts RunOptions) (*Result, error) {
	group := ""
	if !opts.Stateless {
		group = opts.Group
		if group == "" {
			group = session.DefaultGroup
		}
	}

	var resumeID string
	if !opts.Stateless {
		if err := e.rotator.MaybeRotate(group); err != nil {
			slog.Warn("Rotation check failed", "group", group, "error", err)
		}
		if entry, ok := e.store.Get(group); ok {
			resumeID = entry.SessionID
		}
	}
	newSession := !opts.Stateless && resumeID == ""

	model := opts.Model
	if model == "" {
		model = e.cfg.Model
	}

	spec := e.buildSpec(prompt, model, resumeID, opts)
	stdout, stderr, exitCode, err := e.runCommand(ctx, spec)
	if err != nil {
		return nil, err
	}

	res := &Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode, SessionID: resumeID, NewSession: newSession}

	// Rate-limit fallback: one retry against a distinct fallback model.
	if msg, limited := e.detector.Detect(stdout, stderr); limited {
		if e.cfg.FallbackModel != "" && e.cfg.FallbackModel != model {
			slog.Warn("Rate limit detected, retrying with fallback model",
				"name", name, "model", model, "fallback", e.cfg.FallbackModel)
			spec = e.buildSpec(prompt, e.cfg.FallbackModel, resumeID, opts)
			spec.Env = append(spec.Env, e.fallbackEnv()...)
			stdout, stderr, exitCode, err = e.runCommand(ctx, spec)
			if err != nil {
				return nil, err
			}
			res = &Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode,
				SessionID: resumeID, NewSession: newSession, UsedFallback: true}
			msg, limited = e.detector.Detect(stdout, stderr)
		}
		if limited {
			// Surface the rate-limit message itself; do not parse further.
			res.RateLimited = true
			res.Stdout = msg
			e.record(ctx, name, group, model, prompt, res)
			return res, nil
		}
	}

	if newSession && exitCode == 0 {
		sessionID, text, parseErr := parseStructured(stdout)
		if parseErr != nil {
			// Raw output stands in as the result; the entry stays uncreated.
			slog.Warn("New-session output not parseable", "name", name, "error", parseErr)
		} else {
			if _, createErr := e.store.Create(group, sessionID); createErr != nil {
				slog.Error("Session create failed", "group", group, "error", createErr)
			}
			res.SessionID = sessionID
			res.Stdout = text
		}
	}

	e.record(ctx, name, group, model, prompt, res)
	return res, nil
}

func (e *Executor) runCommand(ctx context.Context, spec CommandSpec) (string, string, int, error) {
	if e.cfg.Timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}
	}
	return e.runner.Run(ctx, spec)
}

// buildSpec assembles the CLI invocation. New sessions request structured
// output; resumed ones request plain text and pass the resume token.
func (e *Executor) buildSpec(prompt, model, resumeID string, opts RunOptions) CommandSpec {
	args := []string{"--print", "--model", model}

	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	} else if !opts.Stateless || opts.StructuredOutput {
		args = append(args, "--output-format", "json")
	}

	maxTurns := opts.MaxTurns
	if maxTurns == 0 {
		maxTurns = e.cfg.MaxTurns
	}
	if maxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(maxTurns))
	}

	tools := opts.AllowedTools
	if len(tools) == 0 {
		tools = e.cfg.AllowedTools
	}
	if len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}

	effort := opts.Effort
	if effort == "" {
		effort = e.cfg.Effort
	}
	if effort != "" {
		args = append(args, "--effort", effort)
	}

	args = append(args, prompt)

	return CommandSpec{Path: e.cfg.Command, Args: args, Dir: e.workspace}
}

// fallbackEnv returns credential overrides for the fallback model.
func (e *Executor) fallbackEnv() []string {
	if e.cfg.FallbackAPIKeyEnv == "" {
		return nil
	}
	key := os.Getenv(e.cfg.FallbackAPIKeyEnv)
	if key == "" {
		return nil
	}
	return []string{"ANTHROPIC_API_KEY=" + key}
}

func (e *Executor) record(ctx context.Context, name, group, model, prompt string, res *Result) {
	rec := &Record{
		Name:         name,
		Group:        group,
		SessionID:    res.SessionID,
		Model:        model,
		Prompt:       prompt,
		Stdout:       res.Stdout,
		Stderr:       res.Stderr,
		ExitCode:     res.ExitCode,
		NewSession:   res.NewSession,
		UsedFallback: res.UsedFallback,
		RateLimited:  res.RateLimited,
		CreatedAt:    time.Now(),
	}
	for _, sink := range e.sinks {
		if err := sink.Record(ctx, rec); err != nil {
			slog.Warn("Invocation record sink failed", "name", name, "error", err)
		}
	}
}
