package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/mnemo/internal/config"
	"github.com/stellarlinkco/mnemo/internal/cron"
	"github.com/stellarlinkco/mnemo/internal/emotion"
	"github.com/stellarlinkco/mnemo/internal/memory"
	"github.com/stellarlinkco/mnemo/internal/profile"
	"github.com/stellarlinkco/mnemo/internal/service"
	"github.com/stellarlinkco/mnemo/internal/storage"
)

// Engine is the service surface the commands drive (allows mocking in tests)
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Close() error
	Jobs() []cron.JobStatus
	MemoryStatus(ctx context.Context) (*service.MemoryStatus, error)
	Optimize(ctx context.Context) (*memory.PassReport, error)
	Cleanup(ctx context.Context) (*memory.PassReport, error)
	EmergencyCleanup(ctx context.Context) (*memory.PassReport, error)
	Profile(ctx context.Context, agentName string) (*profile.Profile, error)
	EmotionalStatus(ctx context.Context, agentName string) (*emotion.State, error)
	CreateSnapshot(ctx context.Context, agentName string) (string, error)
	RollbackProfile(ctx context.Context, agentName string, target time.Time) (*profile.Profile, error)
	Operations(ctx context.Context, name string, limit int) ([]service.Operation, error)
}

// EngineFactory creates an Engine instance
type EngineFactory func(ctx context.Context, cfg *config.Config) (Engine, error)

// DefaultEngineFactory opens the real engine with all storage backends
func DefaultEngineFactory(ctx context.Context, cfg *config.Config) (Engine, error) {
	return service.New(ctx, cfg)
}

// RunOptions for running commands with custom dependencies
type RunOptions struct {
	EngineFactory EngineFactory
	Stdout        io.Writer
	Stderr        io.Writer
	Done          <-chan struct{}
}

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "mnemo - tiered memory and behavior engine for agents",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its maintenance schedules",
	RunE:  runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tier occupancy and recent operations",
	RunE:  runStatus,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run one rebalancing pass",
	RunE:  runOptimize,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one age and capacity cleanup pass",
	RunE:  runCleanup,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a manual profile snapshot",
	RunE:  runSnapshot,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll a profile back to an earlier snapshot",
	RunE:  runRollback,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective config",
	RunE:  runConfig,
}

var (
	agentFlag     string
	targetFlag    string
	emergencyFlag bool
	initFlag      bool
)

func init() {
	statusCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "Also show this agent's profile and emotion")
	snapshotCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "Agent name")
	rollbackCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "Agent name")
	rollbackCmd.Flags().StringVar(&targetFlag, "to", "", "Target time (RFC 3339), defaults to now")
	cleanupCmd.Flags().BoolVar(&emergencyFlag, "emergency", false, "Evict aggressively without promoting")
	configCmd.Flags().BoolVar(&initFlag, "init", false, "Write the default config file if missing")
	rootCmd.AddCommand(serveCmd, statusCmd, optimizeCmd, cleanupCmd, snapshotCmd, rollbackCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openEngine loads the config and opens the engine through the injected
// factory, falling back to the real one.
func openEngine(ctx context.Context, opts RunOptions) (Engine, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	factory := opts.EngineFactory
	if factory == nil {
		factory = DefaultEngineFactory
	}

	eng, err := factory(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open engine: %w", err)
	}
	return eng, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	return runServeWithOptions(RunOptions{})
}

// runServeWithOptions runs the engine until the done channel (or a signal)
// fires, with injectable dependencies for testing
func runServeWithOptions(opts RunOptions) error {
	ctx := context.Background()

	eng, cfg, err := openEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	fmt.Fprintf(stdout, "mnemo serving (structured=%s hot=%s semantic=%s)\n",
		cfg.Storage.Structured, cfg.Storage.HotCache, cfg.Storage.Semantic)
	for _, job := range eng.Jobs() {
		fmt.Fprintf(stdout, "  job %s every %s\n", job.Name, job.Interval)
	}

	done := opts.Done
	if done == nil {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		done = sigCtx.Done()
	}
	<-done

	fmt.Fprintln(stdout, "shutting down")
	eng.Stop()
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runStatusWithOptions(RunOptions{})
}

func runStatusWithOptions(opts RunOptions) error {
	ctx := context.Background()

	eng, cfg, err := openEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	fmt.Fprintf(stdout, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(stdout, "Database: %s\n", cfg.Storage.DBPath)
	fmt.Fprintf(stdout, "Backends: structured=%s hot=%s semantic=%s\n",
		cfg.Storage.Structured, cfg.Storage.HotCache, cfg.Storage.Semantic)

	status, err := eng.MemoryStatus(ctx)
	if err != nil {
		return fmt.Errorf("memory status: %w", err)
	}
	fmt.Fprintf(stdout, "Fragments: %d\n", status.Total)
	for _, tier := range memory.Tiers {
		fmt.Fprintf(stdout, "  %-11s %d\n", tier, status.Counts[tier])
	}
	if status.LastPass != nil {
		fmt.Fprintf(stdout, "Last pass: %s, scanned %d, moved %d\n",
			status.LastPass.Trigger, status.LastPass.Scanned, status.LastPass.Changed())
	}

	if agentFlag != "" {
		if err := printAgentStatus(ctx, eng, stdout, agentFlag); err != nil {
			return err
		}
	}

	ops, err := eng.Operations(ctx, "", 5)
	if err != nil {
		return fmt.Errorf("list operations: %w", err)
	}
	if len(ops) > 0 {
		fmt.Fprintln(stdout, "Recent operations:")
		for _, op := range ops {
			fmt.Fprintf(stdout, "  %s %s %s\n", op.CreatedAt.Format(time.RFC3339), op.Name, op.Status)
		}
	}

	return nil
}

func printAgentStatus(ctx context.Context, eng Engine, stdout io.Writer, agentName string) error {
	prof, err := eng.Profile(ctx, agentName)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	fmt.Fprintf(stdout, "Profile: %s (v%d)\n", prof.AgentName, prof.Version)
	names := make([]string, 0, len(prof.Fields))
	for name := range prof.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %s = %s\n", name, prof.Fields[name])
	}

	state, err := eng.EmotionalStatus(ctx, agentName)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fmt.Fprintln(stdout, "Emotion: none recorded")
	case err != nil:
		return fmt.Errorf("emotional status: %w", err)
	default:
		fmt.Fprintf(stdout, "Emotion: %s (%s, confidence %.2f)\n",
			state.Dominant, state.Intensity, state.Confidence)
	}
	return nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	return runOptimizeWithOptions(RunOptions{})
}

func runOptimizeWithOptions(opts RunOptions) error {
	ctx := context.Background()

	eng, _, err := openEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	report, err := eng.Optimize(ctx)
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	printReport(stdout, report)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	return runCleanupWithOptions(RunOptions{})
}

func runCleanupWithOptions(opts RunOptions) error {
	ctx := context.Background()

	eng, _, err := openEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	var report *memory.PassReport
	if emergencyFlag {
		report, err = eng.EmergencyCleanup(ctx)
	} else {
		report, err = eng.Cleanup(ctx)
	}
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	printReport(stdout, report)
	return nil
}

func printReport(w io.Writer, report *memory.PassReport) {
	fmt.Fprintf(w, "%s pass: scanned %d, promoted %d, demoted %d, evicted %d in %s\n",
		report.Trigger, report.Scanned, report.Promoted, report.Demoted, report.Evicted,
		report.Duration.Round(time.Millisecond))
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	return runSnapshotWithOptions(RunOptions{})
}

func runSnapshotWithOptions(opts RunOptions) error {
	if agentFlag == "" {
		return fmt.Errorf("agent name required (use --agent)")
	}

	ctx := context.Background()

	eng, _, err := openEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	id, err := eng.CreateSnapshot(ctx, agentFlag)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	fmt.Fprintf(stdout, "snapshot %s taken for %s\n", id, agentFlag)
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	return runRollbackWithOptions(RunOptions{})
}

func runRollbackWithOptions(opts RunOptions) error {
	if agentFlag == "" {
		return fmt.Errorf("agent name required (use --agent)")
	}

	target := time.Now().UTC()
	if targetFlag != "" {
		parsed, err := time.Parse(time.RFC3339, targetFlag)
		if err != nil {
			return fmt.Errorf("parse --to: %w", err)
		}
		target = parsed
	}

	ctx := context.Background()

	eng, _, err := openEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	prof, err := eng.RollbackProfile(ctx, agentFlag, target)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(stdout, "rolled %s back to v%d\n", prof.AgentName, prof.Version)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if initFlag {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := config.SaveConfig(config.DefaultConfig()); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("Created config: %s\n", cfgPath)
		} else {
			fmt.Printf("Config already exists: %s\n", cfgPath)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Printf("Config: %s\n%s\n", cfgPath, data)
	return nil
}
