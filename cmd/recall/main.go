package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/recall/internal/config"
	"github.com/user/recall/internal/memory"
	"github.com/user/recall/internal/storage"
	"github.com/user/recall/pkg/llm"
	"github.com/user/recall/pkg/llm/openai"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "recall",
	Short:         "Inspect and edit conversation memory",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(loadConfig())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join(os.Getenv("HOME"), ".recall", "config.json"), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openManager builds a manager over the configured backend and loads every
// persisted session. The returned func closes the backend.
func openManager(ctx context.Context, cfg *config.Config, extra ...memory.Option) (*memory.Manager, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	ttl, err := cfg.SessionTTL()
	if err != nil {
		return nil, nil, err
	}
	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Type, err)
	}
	closeFn := func() {
		if err := backend.Close(); err != nil {
			slog.Warn("close storage", "error", err)
		}
	}

	opts := []memory.Option{
		memory.WithBackend(backend),
		memory.WithUndoLimit(cfg.Memory.UndoLimit),
		memory.WithSessionTTL(ttl),
	}
	if cfg.Memory.MaxMessages > 0 {
		opts = append(opts, memory.WithMaxMessages(cfg.Memory.MaxMessages, cfg.Memory.AutoCompress))
	}
	mgr := memory.NewManager(append(opts, extra...)...)
	if err := mgr.Reload(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("load sessions: %w", err)
	}
	return mgr, closeFn, nil
}

// withManager runs fn against a freshly loaded manager.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, mgr *memory.Manager) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	mgr, closeFn, err := openManager(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, mgr)
}

func newProvider(cfg *config.Config) llm.Provider {
	return openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
}
