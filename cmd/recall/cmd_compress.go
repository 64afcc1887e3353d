package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/user/recall/internal/memory"
	"github.com/user/recall/internal/summarize"
)

func init() {
	rootCmd.AddCommand(compressCmd)

	f := compressCmd.Flags()
	f.Int("keep-last", 0, "keep the last N messages")
	f.Int("keep-rounds", 0, "keep the last N rounds (overrides --keep-last)")
	f.Bool("drop-pinned", false, "allow pinned messages to be dropped")
	f.StringSlice("keep-tag", nil, "keep messages with these tags")
	f.String("summarize", "none", "summarize dropped messages: none, digest or llm")
	f.Int("max-message-runes", 2000, "truncate each message in the LLM transcript")
}

var compressCmd = &cobra.Command{
	Use:   "compress <session>",
	Short: "Drop older messages, optionally replacing them with a summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		keepLast, _ := f.GetInt("keep-last")
		keepRounds, _ := f.GetInt("keep-rounds")
		dropPinned, _ := f.GetBool("drop-pinned")
		keepTags, _ := f.GetStringSlice("keep-tag")
		mode, _ := f.GetString("summarize")
		maxRunes, _ := f.GetInt("max-message-runes")

		policy := memory.CompressPolicy{
			KeepLast:   keepLast,
			KeepRounds: keepRounds,
			DropPinned: dropPinned,
			KeepTagged: keepTags,
		}
		cfg := loadConfig()
		switch mode {
		case "", "none":
		case "digest":
			policy.Summarizer = summarize.Digest(maxRunes)
		case "llm":
			policy.Summarizer = summarize.LLM(newProvider(cfg), summarize.Options{MaxMessageRunes: maxRunes})
		default:
			return fmt.Errorf("unknown summarize mode %q", mode)
		}

		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			rec, err := mgr.Compress(ctx, args[0], policy)
			if err != nil {
				return err
			}
			printRecord(rec)
			return nil
		})
	},
}
