// Package main implements wp-runner, the isolated command runner used by
// wpinstructions. It reads commands as JSON lines on stdin and answers on
// stdout. Diagnostics go to stderr.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/wpinstructions/wpinstructions/pkg/runner"
)

func main() {
	ttl := flag.Duration("ttl", 0, "exit after this long, 0 for no limit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := runner.NewServer(os.Stdin, os.Stdout)
	srv.TTL = *ttl
	code := srv.Serve(ctx)

	stop()
	os.Exit(code)
}
