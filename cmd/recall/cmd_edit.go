package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/recall/internal/memory"
	"github.com/user/recall/internal/predicate"
)

func init() {
	rootCmd.AddCommand(removeCmd, rewriteCmd, pinCmd, unpinCmd, tagCmd, untagCmd,
		injectCmd, deleteLastCmd, undoCmd, redoCmd, logCmd)

	for _, c := range []*cobra.Command{removeCmd, rewriteCmd, pinCmd, unpinCmd, tagCmd, untagCmd} {
		c.Flags().String("where", "", "expression selecting messages (required)")
		_ = c.MarkFlagRequired("where")
	}
	rewriteCmd.Flags().String("content", "", "replacement content (required)")
	_ = rewriteCmd.MarkFlagRequired("content")

	injectCmd.Flags().String("role", string(memory.RoleSystem), "role of the injected message")
	injectCmd.Flags().String("at", "end", "position: start, end, before-last-user or an index")
	injectCmd.Flags().Bool("pin", false, "pin the injected message")

	deleteLastCmd.Flags().Bool("round", false, "delete the last round instead of N messages")
	deleteLastCmd.Flags().Bool("tool-round", false, "delete the last tool call and its results")
}

func wherePredicate(cmd *cobra.Command) (memory.Predicate, error) {
	where, _ := cmd.Flags().GetString("where")
	return predicate.Parse(where)
}

// editCommand builds a command that applies one operation to a session
// selected by --where and prints the resulting record.
func editCommand(use, short string, op func(ctx context.Context, mgr *memory.Manager, cmd *cobra.Command, args []string, pred memory.Predicate) (*memory.OperationRecord, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pred, err := wherePredicate(cmd)
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
				rec, err := op(ctx, mgr, cmd, args, pred)
				if err != nil {
					return err
				}
				printRecord(rec)
				return nil
			})
		},
	}
}

var removeCmd = editCommand("remove <session>", "Remove messages matching an expression",
	func(ctx context.Context, mgr *memory.Manager, _ *cobra.Command, args []string, pred memory.Predicate) (*memory.OperationRecord, error) {
		return mgr.Remove(ctx, args[0], pred)
	})

var rewriteCmd = editCommand("rewrite <session>", "Replace the content of messages matching an expression",
	func(ctx context.Context, mgr *memory.Manager, cmd *cobra.Command, args []string, pred memory.Predicate) (*memory.OperationRecord, error) {
		content, _ := cmd.Flags().GetString("content")
		return mgr.Apply(ctx, args[0], pred, func(m memory.Message) memory.Message {
			return m.WithContent(content)
		})
	})

var pinCmd = editCommand("pin <session>", "Pin messages matching an expression",
	func(ctx context.Context, mgr *memory.Manager, _ *cobra.Command, args []string, pred memory.Predicate) (*memory.OperationRecord, error) {
		return mgr.PinWhere(ctx, args[0], pred, true)
	})

var unpinCmd = editCommand("unpin <session>", "Unpin messages matching an expression",
	func(ctx context.Context, mgr *memory.Manager, _ *cobra.Command, args []string, pred memory.Predicate) (*memory.OperationRecord, error) {
		return mgr.PinWhere(ctx, args[0], pred, false)
	})

var tagCmd = editCommand("tag <session> <tag>...", "Tag messages matching an expression",
	func(ctx context.Context, mgr *memory.Manager, _ *cobra.Command, args []string, pred memory.Predicate) (*memory.OperationRecord, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("at least one tag is required")
		}
		return mgr.TagWhere(ctx, args[0], pred, args[1:]...)
	})

var untagCmd = editCommand("untag <session> <tag>...", "Remove tags from messages matching an expression",
	func(ctx context.Context, mgr *memory.Manager, _ *cobra.Command, args []string, pred memory.Predicate) (*memory.OperationRecord, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("at least one tag is required")
		}
		return mgr.Apply(ctx, args[0], pred, func(m memory.Message) memory.Message {
			return m.WithoutTags(args[1:]...)
		})
	})

var injectCmd = &cobra.Command{
	Use:   "inject <session> <text>",
	Short: "Insert a message into a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roleFlag, _ := cmd.Flags().GetString("role")
		at, _ := cmd.Flags().GetString("at")
		pin, _ := cmd.Flags().GetBool("pin")

		role := memory.Role(roleFlag)
		if !role.Valid() || role == memory.RoleTool {
			return fmt.Errorf("invalid role %q", roleFlag)
		}
		pos, err := parsePosition(at)
		if err != nil {
			return err
		}
		msg := memory.NewMessage(role, args[1]).WithPinned(pin)

		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			rec, err := mgr.Inject(ctx, args[0], pos, msg)
			if err != nil {
				return err
			}
			printRecord(rec)
			return nil
		})
	},
}

func parsePosition(s string) (memory.Position, error) {
	switch strings.ToLower(s) {
	case "start":
		return memory.PositionStart, nil
	case "", "end":
		return memory.PositionEnd, nil
	case "before-last-user":
		return memory.PositionBeforeLastUser, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return memory.Position{}, fmt.Errorf("invalid position %q", s)
	}
	return memory.AtIndex(i), nil
}

var deleteLastCmd = &cobra.Command{
	Use:   "delete-last <session> [n]",
	Short: "Delete the last N messages, round or tool round",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		round, _ := cmd.Flags().GetBool("round")
		toolRound, _ := cmd.Flags().GetBool("tool-round")
		n := 1
		if len(args) == 2 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v < 1 {
				return fmt.Errorf("invalid count %q", args[1])
			}
			n = v
		}

		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			var (
				rec *memory.OperationRecord
				err error
			)
			switch {
			case round:
				rec, err = mgr.DeleteLastRound(ctx, args[0])
			case toolRound:
				rec, err = mgr.DeleteLastToolRound(ctx, args[0])
			default:
				rec, err = mgr.DeleteLast(ctx, args[0], n)
			}
			if err != nil {
				return err
			}
			printRecord(rec)
			return nil
		})
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo <session>",
	Short: "Undo the last operation on a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			ok, err := mgr.Undo(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Nothing to undo.")
				return nil
			}
			fmt.Println("Undone.")
			return nil
		})
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo <session>",
	Short: "Redo the last undone operation on a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *memory.Manager) error {
			ok, err := mgr.Redo(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Nothing to redo.")
				return nil
			}
			fmt.Println("Redone.")
			return nil
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log <session>",
	Short: "List the undoable operations of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(_ context.Context, mgr *memory.Manager) error {
			ops := mgr.Operations(args[0])
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tID\tKIND\tEDITS\tAT")
			for _, op := range ops {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", op.Seq, op.ID, op.Kind, op.Affected(), op.At.Local().Format(time.DateTime))
			}
			return w.Flush()
		})
	},
}
