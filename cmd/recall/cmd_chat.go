package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/recall/internal/agent"
	"github.com/user/recall/internal/agent/tools"
	"github.com/user/recall/internal/memory"
	"github.com/user/recall/internal/tokenizer"
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("system", "", "system prompt for new sessions")
	chatCmd.Flags().Int("rounds", 0, "send only the last N rounds to the model")
	chatCmd.Flags().Int("max-rounds", agent.DefaultMaxRounds, "maximum model calls per message")
	chatCmd.Flags().Bool("no-tools", false, "do not offer the history tools")
}

var chatCmd = &cobra.Command{
	Use:   "chat <session> <message>...",
	Short: "Send a message to the model and record the exchange",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		system, _ := cmd.Flags().GetString("system")
		rounds, _ := cmd.Flags().GetInt("rounds")
		maxRounds, _ := cmd.Flags().GetInt("max-rounds")
		noTools, _ := cmd.Flags().GetBool("no-tools")

		cfg := loadConfig()
		counter, err := tokenizer.New(cfg.LLM.Model, tokenizer.DefaultCacheEntries)
		if err != nil {
			return err
		}
		defer counter.Close()

		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			registry := agent.NewRegistry()
			if !noTools {
				tools.Register(registry, mgr)
			}
			history := memory.HistoryOptions{
				MaxRounds:  rounds,
				KeepPinned: true,
				KeepTagged: []string{memory.SummaryTag},
			}
			if cfg.LLM.MaxContextTokens > 0 {
				history.Processors = append(history.Processors, counter.Budget(cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve))
			}
			a := agent.New(newProvider(cfg), mgr, registry,
				agent.WithSystemPrompt(system),
				agent.WithMaxRounds(maxRounds),
				agent.WithMaxToolResult(4000),
				agent.WithHistory(history),
			)

			reply, err := a.Run(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, reply)
			return nil
		})
	},
}
