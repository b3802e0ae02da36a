// Command gcreplay-viz prepares dms-viz configurations for every structure
// and chain of an input directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tikz/gcreplay/config"
	"github.com/tikz/gcreplay/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, os.Args[1:], os.Stderr)
	// Normalize cancellation exit code.
	if ctx.Err() != nil {
		code = 130
	}

	stop()
	os.Exit(code)
}

func run(ctx context.Context, argv []string, stderr io.Writer) int {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	base := config.Default()
	base.ApplyEnv()

	fs := newFlagSet("gcreplay-viz")
	fs.SetOutput(stderr)
	opt, err := ParseArgs(fs, argv, base)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "gcreplay-viz: %v\n", err)
		return 2
	}

	logger := NewLogger(stderr, opt)
	table, err := pipeline.Run(ctx, opt.Config, pipeline.Deps{Logger: logger})
	if err != nil {
		logger.Error("run failed", "err", err)
		return 1
	}
	logger.Info("done", "configurations", table.Len(), "summary", opt.Config.TempDir)
	return 0
}
