package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Gopher0727/PortalChat/internal/model"
)

type HistoryOptions struct {
	*RootOptions
	Pages int
}

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <group>",
		Short: "Open a group and page backwards through its history",
		Long: `Open a group, print the latest page, then load older pages until
--pages is reached or the start of the conversation.

Example:
  portalchat history 1 --pages 3 --demo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "older pages to load after the latest one")

	return cmd
}

func runHistory(ctx context.Context, opts *HistoryOptions, groupID string, out io.Writer) error {
	ctx = groupContext(ctx, groupID)
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := a.ctrl.OpenGroup(ctx, groupID)
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		return err
	}
	defer sub.Close()

	for i := 0; i < opts.Pages && a.ctrl.HasMoreMessages(); i++ {
		if _, err := a.ctrl.LoadOlderMessages(ctx, groupID); err != nil {
			return err
		}
	}

	for _, m := range a.ctrl.Messages() {
		fmt.Fprintln(out, formatMessage(m))
	}
	if !a.ctrl.HasMoreMessages() {
		fmt.Fprintln(out, "-- start of conversation --")
	}
	return nil
}

func formatMessage(m model.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-8s %s", m.CreatedAt.Format("2006-01-02 15:04:05"), m.SenderID, m.ID)
	switch {
	case m.Deleted:
		b.WriteString("  (deleted)")
	default:
		fmt.Fprintf(&b, "  %s", m.Content)
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, " [%s %dB]", a.Filename, a.Size)
		}
	}
	fmt.Fprintf(&b, "  <%s>", m.Status)
	return b.String()
}
