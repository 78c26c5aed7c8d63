package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"geoweaver/internal/cli"
)

// main only wires process state into cli.Run: arguments, standard streams
// and cancellation on SIGINT or SIGTERM.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
