package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/recall/internal/config"
	"github.com/user/recall/internal/janitor"
	"github.com/user/recall/internal/memory"
	"github.com/user/recall/internal/metrics"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("once", false, "run one prune pass and exit")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session janitor and metrics endpoint",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

const pidFileName = "recall.pid"

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// syncedStore reloads persisted sessions before each prune so that edits
// made by other recall processes are seen.
type syncedStore struct {
	*memory.Manager
}

func (s syncedStore) Prune(ctx context.Context, policy memory.PrunePolicy) ([]string, error) {
	if err := s.Reload(ctx); err != nil {
		return nil, fmt.Errorf("reload sessions: %w", err)
	}
	return s.Manager.Prune(ctx, policy)
}

func prunePolicy(cfg *config.Config) (memory.PrunePolicy, error) {
	idle, err := cfg.IdleTTL()
	if err != nil {
		return memory.PrunePolicy{}, err
	}
	return memory.PrunePolicy{IdleTTL: idle, MaxSessions: cfg.Janitor.MaxSessions}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	once, _ := cmd.Flags().GetBool("once")
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	policy, err := prunePolicy(cfg)
	if err != nil {
		return err
	}
	if err := janitor.ValidateSchedule(cfg.Janitor.Schedule); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.NewRegistry()
	observer := metrics.New(reg)
	mgr, closeFn, err := openManager(ctx, cfg, memory.WithObserver(observer))
	if err != nil {
		return err
	}
	defer closeFn()

	jan := janitor.New(syncedStore{mgr}, cfg.Janitor.Schedule, policy, observer)
	if once {
		removed, err := jan.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Pruned %d sessions.\n", len(removed))
		return nil
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	if err := jan.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer jan.Stop()

	if cfg.Janitor.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Janitor.MetricsAddr, reg); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	slog.Info("recall started",
		"data_dir", cfg.DataDir,
		"storage", cfg.Storage.Type,
		"sessions", mgr.Len(),
		"schedule", cfg.Janitor.Schedule,
		"metrics_addr", cfg.Janitor.MetricsAddr,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, reloading config")
			next, err := config.Load(cfgPath)
			if err != nil {
				slog.Error("failed to reload config", "error", err)
				continue
			}
			if err := next.Validate(); err != nil {
				slog.Error("ignoring invalid config", "error", err)
				continue
			}
			setupLogging(next)
			policy, err := prunePolicy(next)
			if err != nil {
				slog.Error("failed to reload config", "error", err)
				continue
			}
			if err := jan.Reload(next.Janitor.Schedule, policy); err != nil {
				slog.Error("failed to reload janitor", "error", err)
			}
			continue
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
