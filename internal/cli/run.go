package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/invlog"
	"github.com/drover-ai/drover/internal/queue"
	"github.com/drover-ai/drover/internal/session"
)

var (
	runGroup     string
	runModel     string
	runStateless bool
	runMaxTurns  int
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one agent invocation from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runGroup, "group", "g", "", "Session group (default: the reserved default group)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model override")
	runCmd.Flags().BoolVar(&runStateless, "stateless", false, "Do not read or write any session")
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "Turn cap override")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsureDir(cfg.Paths.StateDir); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	log, err := invlog.Open(filepath.Join(cfg.Paths.StateDir, "invocations.db"))
	if err != nil {
		return fmt.Errorf("open invocation log: %w", err)
	}
	defer log.Close()

	store := session.NewStore(filepath.Join(cfg.Paths.StateDir, "sessions.json"))
	estimator := session.NewEstimator(cfg.Paths.ProjectsRoot)
	rotator := session.NewRotator(store, estimator, cfg.Agent.SessionTokenLimit)
	executor := agent.NewExecutor(cfg.Agent, cfg.Paths.Workspace, store, rotator, queue.New(), log)

	prompt := strings.Join(args, " ")
	res, err := executor.Execute(context.Background(), "cli:run", prompt, agent.RunOptions{
		Group:     runGroup,
		Stateless: runStateless,
		Model:     runModel,
		MaxTurns:  runMaxTurns,
	})
	if err != nil {
		return err
	}

	fmt.Println(res.Stdout)
	if res.ExitCode != 0 {
		fmt.Fprintln(os.Stderr, res.Stderr)
		os.Exit(res.ExitCode)
	}
	return nil
}
