package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Gopher0727/PortalChat/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "portalchat:", err)
		os.Exit(1)
	}
}
