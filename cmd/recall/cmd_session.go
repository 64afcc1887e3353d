package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/recall/internal/memory"
	"github.com/user/recall/internal/predicate"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionStatsCmd, sessionDeleteCmd, sessionCopyCmd, sessionClearCmd)

	sessionShowCmd.Flags().String("role", "", "only show messages with this role")
	sessionShowCmd.Flags().String("where", "", "only show messages matching this expression")
	sessionShowCmd.Flags().Int("limit", 0, "show at most this many of the newest messages")
	sessionShowCmd.Flags().Int("offset", 0, "skip this many of the newest messages")
	sessionShowCmd.Flags().Bool("json", false, "print messages as JSON")
	sessionCopyCmd.Flags().Bool("force", false, "overwrite the target session")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(_ context.Context, mgr *memory.Manager) error {
			ids := mgr.ListSessions()
			if len(ids) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMESSAGES\tROUNDS\tPINNED\tLAST MESSAGE")
			for _, id := range ids {
				st := mgr.Stats(id)
				last := "-"
				if !st.LastMessageAt.IsZero() {
					last = st.LastMessageAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", id, st.TotalMessages, st.Rounds, st.PinnedCount, last)
			}
			return w.Flush()
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Print the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		where, _ := cmd.Flags().GetString("where")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		q := memory.Query{Role: memory.Role(role), Limit: limit, Offset: offset}
		if role != "" && !q.Role.Valid() {
			return fmt.Errorf("invalid role %q", role)
		}
		if where != "" {
			pred, err := predicate.Parse(where)
			if err != nil {
				return err
			}
			q.Filter = pred
		}

		return withManager(cmd, func(_ context.Context, mgr *memory.Manager) error {
			if !mgr.HasSession(args[0]) {
				return fmt.Errorf("session not found: %s", args[0])
			}
			msgs := mgr.GetMessages(args[0], q)
			if asJSON {
				return printJSON(msgs)
			}
			printMessages(msgs)
			return nil
		})
	},
}

var sessionStatsCmd = &cobra.Command{
	Use:   "stats <session>",
	Short: "Print session statistics as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(_ context.Context, mgr *memory.Manager) error {
			st := mgr.Stats(args[0])
			if !st.Exists {
				return fmt.Errorf("session not found: %s", args[0])
			}
			return printJSON(st)
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session and its operation log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			ok, err := mgr.DeleteSession(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("session not found: %s", args[0])
			}
			fmt.Fprintf(os.Stdout, "Session %s deleted.\n", args[0])
			return nil
		})
	},
}

var sessionCopyCmd = &cobra.Command{
	Use:   "copy <from> <to>",
	Short: "Copy a session's messages into another session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			if err := mgr.CopySession(ctx, args[0], args[1], force); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Session %s copied to %s.\n", args[0], args[1])
			return nil
		})
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <session>",
	Short: "Remove every message of a session (undoable)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			rec, err := mgr.Clear(ctx, args[0])
			if err != nil {
				return err
			}
			printRecord(rec)
			return nil
		})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMessages(msgs []memory.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tFLAGS\tCONTENT")
	for _, m := range msgs {
		flags := ""
		if m.IsPinned() {
			flags = "pinned"
		}
		for _, tag := range m.Tags() {
			if flags != "" {
				flags += ","
			}
			flags += "#" + tag
		}
		if flags == "" {
			flags = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID(), m.Role(), flags, oneLine(m.DisplayContent(), 80))
	}
	w.Flush()
}

func printRecord(rec *memory.OperationRecord) {
	if rec.IsNoop() {
		fmt.Fprintf(os.Stdout, "%s: nothing matched (op %s).\n", rec.Kind, rec.ID)
		return
	}
	fmt.Fprintf(os.Stdout, "%s: %d inserted, %d removed, %d replaced (op %s).\n",
		rec.Kind, len(rec.Inserted()), len(rec.Removed()), len(rec.Replaced()), rec.ID)
}

func oneLine(s string, max int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return string(r)
}
