// Package main is the entrypoint for the WorkLink realtime gateway.
// The gateway authenticates WebSocket connections from workers and ops
// consoles, relays chat both ways, and runs the automated response pipeline.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/augustinebeh/worklink-gateway/internal/config"
	"github.com/augustinebeh/worklink-gateway/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "gateway",
		PortFromConfig: func(cfg *config.Config) int { return cfg.Gateway.HTTPPort },
		Setup:          setup,
	}, nil)
}
