package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	rootcmd "github.com/rzbill/loglens/internal/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootcmd.NewRoot().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
