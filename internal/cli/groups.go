package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Gopher0727/PortalChat/internal/model"
	logger "github.com/Gopher0727/PortalChat/middleware/log"
)

type GroupsOptions struct {
	*RootOptions
	Force bool
}

func NewGroupsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List the groups visible to the configured viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroups(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "bypass the cache")

	return cmd
}

func runGroups(ctx context.Context, opts *GroupsOptions, out io.Writer) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	groups, err := a.ctrl.GetGroups(orBackground(ctx), opts.Force)
	if err != nil {
		return err
	}
	printGroups(out, groups)
	return nil
}

func printGroups(out io.Writer, groups []model.Group) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tMEMBERS")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", g.ID, g.Name, g.Type, g.MemberCount)
	}
	w.Flush()
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// groupContext tags ctx with a fresh trace id and the group a command works
// on, so remote failures logged along the way can be correlated.
func groupContext(ctx context.Context, groupID string) context.Context {
	ctx = logger.WithTraceID(orBackground(ctx), "")
	return logger.WithGroupID(ctx, groupID)
}
