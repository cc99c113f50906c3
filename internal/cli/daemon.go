package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/audit"
	"github.com/drover-ai/drover/internal/bus"
	"github.com/drover-ai/drover/internal/channels"
	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/dashboard"
	"github.com/drover-ai/drover/internal/dispatch"
	"github.com/drover-ai/drover/internal/invlog"
	"github.com/drover-ai/drover/internal/queue"
	"github.com/drover-ai/drover/internal/router"
	"github.com/drover-ai/drover/internal/scheduler"
	"github.com/drover-ai/drover/internal/session"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the drover orchestration daemon",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsureDir(cfg.Paths.StateDir); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Invocation record sinks: sqlite log, plus Kafka audit when configured.
	log, err := invlog.Open(filepath.Join(cfg.Paths.StateDir, "invocations.db"))
	if err != nil {
		return fmt.Errorf("open invocation log: %w", err)
	}
	defer log.Close()

	sinks := []agent.RecordSink{log}
	if cfg.Audit.KafkaBrokers != "" {
		pub := audit.NewKafkaPublisher(cfg.Audit.KafkaBrokers, cfg.Audit.Topic)
		defer pub.Close()
		sinks = append(sinks, pub)
		slog.Info("Audit stream enabled", "brokers", cfg.Audit.KafkaBrokers, "topic", cfg.Audit.Topic)
	}

	// Core: registry, estimator, rotation, queue, executor.
	store := session.NewStore(filepath.Join(cfg.Paths.StateDir, "sessions.json"))
	estimator := session.NewEstimator(cfg.Paths.ProjectsRoot)
	rotator := session.NewRotator(store, estimator, cfg.Agent.SessionTokenLimit)
	q := queue.New()
	executor := agent.NewExecutor(cfg.Agent, cfg.Paths.Workspace, store, rotator, q, sinks...)

	// Routing and dispatch.
	routes := router.NewReplyRoutes(filepath.Join(cfg.Paths.StateDir, "replyroutes.json"), cfg.Router.MaxReplyRoutes)
	rt := router.New(cfg.Router, routes, executor)
	msgBus := bus.NewMessageBus()
	dispatcher := dispatch.New(msgBus, rt, executor)

	go msgBus.DispatchOutbound(ctx)
	go dispatcher.Run(ctx)

	// Chat transport.
	if cfg.Channels.Slack.Enabled {
		slack := channels.NewSlackChannel(cfg.Channels.Slack, msgBus, routes)
		if err := slack.Start(ctx); err != nil {
			return fmt.Errorf("start slack channel: %w", err)
		}
	}

	// Scheduler.
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, dispatcher)
		sched.RegisterConfigured(cfg.Scheduler.Jobs)
		go sched.Run(ctx)
	}

	// Dashboard.
	if cfg.Dashboard.Enabled {
		dash := dashboard.New(cfg.Dashboard, store)
		go func() {
			if err := dash.Run(ctx); err != nil {
				slog.Error("Dashboard failed", "error", err)
			}
		}()
	}

	slog.Info("Drover daemon started", "state_dir", cfg.Paths.StateDir)
	<-ctx.Done()
	slog.Info("Drover daemon shutting down")
	return nil
}
