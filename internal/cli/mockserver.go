package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Gopher0727/PortalChat/internal/remote"
	"github.com/Gopher0727/PortalChat/internal/remote/mockserver"
)

type MockServerOptions struct {
	*RootOptions
	Port    int
	History int
}

func NewMockServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MockServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run the in-memory remote API over HTTP",
		Long: `Run a seeded in-memory chat server that speaks the remote API.

Example:
  portalchat mock-server --port 9000
  portalchat groups --config ./config.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockServer(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port (default mock_server.port)")
	cmd.Flags().IntVar(&opts.History, "history", demoHistory, "messages seeded per group")

	return cmd
}

func runMockServer(ctx context.Context, opts *MockServerOptions) error {
	cfg, log := opts.cfg, opts.log
	gin.SetMode(cfg.MockServer.Mode)

	port := cfg.MockServer.Port
	if opts.Port != 0 {
		port = opts.Port
	}

	api := remote.NewMemoryAPI(remote.WithSender(cfg.Viewer.UserID))
	mockserver.Seed(api, cfg.Viewer.UserID, opts.History, time.Now())

	ctx, stop := signal.NotifyContext(orBackground(ctx), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", port)
	srv := mockserver.New(api, log.Component("mockserver"),
		mockserver.WithSendRateLimit(cfg.MockServer.SendRPS, cfg.MockServer.SendBurst),
		mockserver.WithMaxConcurrent(cfg.MockServer.MaxConcurrent),
	)
	return srv.Run(ctx, addr)
}
