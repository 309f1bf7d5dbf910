package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/internal/chatsync"
	"github.com/Gopher0727/PortalChat/internal/model"
)

type SendOptions struct {
	*RootOptions
	Files []string
}

func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <group> <text>",
		Short: "Send a message to a group",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), opts, args[0], strings.Join(args[1:], " "), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Files, "file", "f", nil, "attach a file (repeatable)")

	return cmd
}

func readFiles(paths []string) ([]model.PendingFile, error) {
	files := make([]model.PendingFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		ct := mime.TypeByExtension(filepath.Ext(p))
		if ct == "" {
			ct = "application/octet-stream"
		}
		files = append(files, model.PendingFile{Filename: filepath.Base(p), ContentType: ct, Payload: data})
	}
	return files, nil
}

func runSend(ctx context.Context, opts *SendOptions, groupID, text string, out io.Writer) error {
	ctx = groupContext(ctx, groupID)
	files, err := readFiles(opts.Files)
	if err != nil {
		return err
	}

	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := a.ctrl.OpenGroup(ctx, groupID)
	if sub != nil {
		defer sub.Close()
	}
	if err != nil {
		opts.log.Warn("group history unavailable, sending anyway", zap.String("group_id", groupID), zap.Error(err))
	}

	sent, err := a.ctrl.SendMessage(ctx, groupID, text, files)
	var sendErr *chatsync.SendError
	if errors.As(err, &sendErr) {
		return fmt.Errorf("%w (draft kept: %q, %d file(s))", err, sendErr.Draft.Content, len(sendErr.Draft.Files))
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, formatMessage(*sent))
	return nil
}
