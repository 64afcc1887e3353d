package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/recall/internal/memory"
	"github.com/user/recall/internal/predicate"
	"github.com/user/recall/internal/tokenizer"
)

func init() {
	rootCmd.AddCommand(historyCmd)

	f := historyCmd.Flags()
	f.Int("rounds", 0, "keep only the last N rounds")
	f.Int("max-messages", 0, "keep at most N messages")
	f.StringSlice("exclude-role", nil, "drop messages with these roles")
	f.Bool("keep-pinned", false, "never drop pinned messages")
	f.StringSlice("keep-tag", nil, "never drop messages with these tags")
	f.String("where", "", "keep only messages matching this expression")
	f.Int("truncate", 0, "truncate message content to N characters")
	f.Bool("strip-tools", false, "replace tool rounds with short summaries")
	f.Int("max-tokens", 0, "fit the history into N tokens (0 uses llm.max_context_tokens when --budget is set)")
	f.Bool("budget", false, "apply the configured token budget")
	f.Bool("json", false, "print the payload as JSON")
}

var historyCmd = &cobra.Command{
	Use:   "history <session>",
	Short: "Build the model-ready history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		rounds, _ := f.GetInt("rounds")
		maxMessages, _ := f.GetInt("max-messages")
		excludeRoles, _ := f.GetStringSlice("exclude-role")
		keepPinned, _ := f.GetBool("keep-pinned")
		keepTags, _ := f.GetStringSlice("keep-tag")
		where, _ := f.GetString("where")
		truncate, _ := f.GetInt("truncate")
		stripTools, _ := f.GetBool("strip-tools")
		maxTokens, _ := f.GetInt("max-tokens")
		budget, _ := f.GetBool("budget")
		asJSON, _ := f.GetBool("json")

		opts := memory.HistoryOptions{
			MaxRounds:   rounds,
			MaxMessages: maxMessages,
			KeepPinned:  keepPinned,
			KeepTagged:  keepTags,
		}
		for _, r := range excludeRoles {
			role := memory.Role(r)
			if !role.Valid() {
				return fmt.Errorf("invalid role %q", r)
			}
			opts.ExcludeRoles = append(opts.ExcludeRoles, role)
		}
		if where != "" {
			pred, err := predicate.Parse(where)
			if err != nil {
				return err
			}
			opts.Processors = append(opts.Processors, memory.FilterBy(pred))
		}
		if stripTools {
			opts.Processors = append(opts.Processors, memory.RemoveToolDetails())
		}
		if truncate > 0 {
			opts.Processors = append(opts.Processors, memory.TruncateContent(truncate))
		}

		cfg := loadConfig()
		if budget && maxTokens == 0 {
			maxTokens = cfg.LLM.MaxContextTokens
		}
		if maxTokens > 0 {
			counter, err := tokenizer.New(cfg.LLM.Model, tokenizer.DefaultCacheEntries)
			if err != nil {
				return err
			}
			defer counter.Close()
			opts.Processors = append(opts.Processors, counter.Budget(maxTokens, cfg.LLM.OutputReserve))
		}

		return withManager(cmd, func(_ context.Context, mgr *memory.Manager) error {
			payload, err := mgr.BuildHistory(args[0], opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(payload)
			}
			printMessages(payload.Messages())
			fmt.Fprintf(os.Stdout, "\n%d messages, %d rounds, fingerprint %s\n",
				payload.MessageCount(), payload.RoundCount(), payload.Fingerprint())
			return nil
		})
	},
}
