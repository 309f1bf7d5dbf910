package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/internal/metrics"
)

func NewMetricsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [group]",
		Short: "Exercise the engine once and print its Prometheus metrics",
		Long: `List groups and, if a group is given, open it; then print every
registered metric in the Prometheus text format.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID := ""
			if len(args) == 1 {
				groupID = args[0]
			}
			return runMetrics(cmd.Context(), rootOpts, groupID, cmd.OutOrStdout())
		},
	}
}

func runMetrics(ctx context.Context, opts *RootOptions, groupID string, out io.Writer) error {
	ctx = orBackground(ctx)
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.ctrl.GetGroups(ctx, false); err != nil {
		opts.log.Warn("group listing failed", zap.Error(err))
	}
	if groupID != "" {
		sub, err := a.ctrl.OpenGroup(ctx, groupID)
		if sub != nil {
			sub.Close()
		}
		if err != nil {
			opts.log.Warn("open group failed", zap.String("group_id", groupID), zap.Error(err))
		}
	}
	return metrics.WriteText(out)
}
