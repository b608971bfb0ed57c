package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/seomaster/report_server/internal/cli"
	"github.com/seomaster/report_server/internal/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if client.IsUnauthorized(err) {
			fmt.Fprintln(os.Stderr, "Session expired, run `reportctl login` again")
		}
		stop()
		os.Exit(1)
	}
}
