package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/research-agent-backend/internal/app"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/envutil"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

type openFunc func(ctx context.Context) (*app.Toolkit, error)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	open := func(ctx context.Context) (*app.Toolkit, error) { return app.OpenToolkit(ctx, log) }
	if err := newRootCmd(open, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open openFunc, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "chainctl",
		Short:        "Inspect and repair chat message chains in the configured store",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.AddCommand(
		newHistoryCmd(open),
		newPageCmd(open),
		newVerifyCmd(open),
		newRepairTailCmd(open),
	)
	return root
}

// withToolkit opens the store for one command and closes it afterwards.
func withToolkit(cmd *cobra.Command, open openFunc, fn func(dbc dbctx.Context, tk *app.Toolkit) error) error {
	tk, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer tk.Close()
	return fn(dbctx.Context{Ctx: cmd.Context()}, tk)
}

func newHistoryCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "history <chat-id>",
		Short: "Print a chat's full history, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, open, func(dbc dbctx.Context, tk *app.Toolkit) error {
				msgs, err := tk.History.Reconstruct(dbc, args[0])
				if err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), msgs)
				return nil
			})
		},
	}
}

func newPageCmd(open openFunc) *cobra.Command {
	var skip, limit int
	cmd := &cobra.Command{
		Use:   "page <chat-id>",
		Short: "Print one page of a chat, counted back from the newest message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, open, func(dbc dbctx.Context, tk *app.Toolkit) error {
				msgs, err := tk.History.ListPage(dbc, args[0], skip, limit)
				if err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), msgs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "Number of newest messages to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum messages to print (0 uses the server default)")
	return cmd
}

func newVerifyCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <chat-id>",
		Short: "Walk a chat's chain and report the first broken link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withToolkit(cmd, open, func(dbc dbctx.Context, tk *app.Toolkit) error {
				rep, err := tk.Auditor.Verify(dbc, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
				if !rep.Healthy() {
					return fmt.Errorf("%w: chat %s", domain.ErrBrokenChain, args[0])
				}
				return nil
			})
		},
	}
}

func newRepairTailCmd(open openFunc) *cobra.Command {
	var to string
	var empty bool
	cmd := &cobra.Command{
		Use:   "repair-tail <chat-id> (--to <message-id> | --empty)",
		Short: "Point a chat whose tail record is missing at an intact message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (to == "") == !empty {
				return fmt.Errorf("exactly one of --to or --empty is required")
			}
			return withToolkit(cmd, open, func(dbc dbctx.Context, tk *app.Toolkit) error {
				rep, err := tk.Auditor.RepairTail(dbc, args[0], to)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Message id that becomes the new tail")
	cmd.Flags().BoolVar(&empty, "empty", false, "Reset the chat to an empty chain")
	return cmd
}

func printMessages(w io.Writer, msgs []*domain.Message) {
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.AuthorKind, m.CreatedAt.Format(time.RFC3339), summarize(m.Fragments))
	}
}

func summarize(frags domain.Fragments) string {
	var parts []string
	for _, f := range frags {
		switch v := f.(type) {
		case domain.Text:
			parts = append(parts, v.Content)
		default:
			parts = append(parts, "["+string(f.Kind())+"]")
		}
	}
	s := strings.Join(parts, " ")
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 80 {
		return string(r[:77]) + "..."
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
