package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/internal/chatsync"
)

type WatchOptions struct {
	*RootOptions
	Duration time.Duration
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <group>",
		Short: "Open a group and print what each poll changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 waits for a signal)")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, groupID string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(groupContext(ctx, groupID), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	show := func(prefix string) chatsync.Handler {
		return func(_ chatsync.Event, p chatsync.Payload) {
			for _, m := range p.Messages {
				fmt.Fprintf(out, "%s %s\n", prefix, formatMessage(m))
			}
		}
	}
	a.ctrl.On(chatsync.EventMessagesAppended, show("+"))
	a.ctrl.On(chatsync.EventMessagesUpdated, show("~"))
	a.ctrl.On(chatsync.EventMessagesPrepended, show("^"))

	sub, err := a.ctrl.OpenGroup(ctx, groupID)
	if sub != nil {
		defer sub.Close()
	}
	if err != nil {
		opts.log.Warn("initial load failed, polling anyway", zap.String("group_id", groupID), zap.Error(err))
	}

	<-ctx.Done()
	return nil
}
