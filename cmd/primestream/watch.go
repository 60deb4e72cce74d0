package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/render"
	"github.com/dgnsrekt/primestream/internal/stream"
)

type watchOptions struct {
	follow   bool
	duration time.Duration
	width    int
}

func watchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the stream in the terminal",
		Long: `Run a local engine and print primes as they are revealed.

The engine resolves the same cursor as every other viewer of the configured
clock, so two terminals started at the same instant print the same primes.

Examples:
  primestream watch
  primestream watch --duration 10s --width 8
  primestream watch --follow=false   # only print the prefilled history`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engineCfg, err := cfg.Stream.EngineConfig()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), os.Stdout, engineCfg, opts, logger)
		},
	}

	cmd.Flags().BoolVar(&opts.follow, "follow", true, "stay at the live edge and print new primes")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVarP(&opts.width, "width", "w", 10, "primes per row")

	return cmd
}

func runWatch(ctx context.Context, out io.Writer, engineCfg stream.Config, opts watchOptions, logger *zap.Logger) error {
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	engine := stream.NewEngine(engineCfg, logger.Named("engine"))
	updates, unsubscribe := engine.Subscribe()
	defer unsubscribe()
	go engine.Run(ctx)

	if err := engine.SetAtEdge(ctx, opts.follow); err != nil {
		return ignoreStop(ctx, err)
	}

	v, err := engine.View(ctx, 0, 0)
	if err != nil {
		return ignoreStop(ctx, err)
	}
	fmt.Fprintln(out, render.Header(v, engine.Config().MaxBufferSize, engine.Config().Clock.Epoch))
	if err := render.WriteGroups(out, render.Groups(v.Entries), opts.width); err != nil {
		return err
	}
	seq := v.Seq()
	status := render.Status(v)
	fmt.Fprintln(out, status)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
		}

		v, err := engine.View(ctx, seq, 0)
		if err != nil {
			return ignoreStop(ctx, err)
		}
		if err := render.WriteGroups(out, render.Groups(v.Entries), opts.width); err != nil {
			return err
		}
		seq = v.Seq()

		if s := render.Status(v); s != status {
			status = s
			fmt.Fprintln(out, status)
		}
	}
}

// ignoreStop treats an engine shut down by ctx as a clean exit.
func ignoreStop(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, stream.ErrStopped) || errors.Is(err, ctx.Err())) {
		return nil
	}
	return err
}
