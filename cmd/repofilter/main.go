// Command repofilter counts the zip archives in a directory that contain at
// least one entry whose name fully matches a regular expression.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"

	"github.com/Sternrassler/reposcrape/internal/cli"
	"github.com/Sternrassler/reposcrape/internal/config"
	"github.com/Sternrassler/reposcrape/pkg/archive"
)

func main() {
	ctx, stop := cli.SignalContext(context.Background())
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	filter  archive.Config
	ambient cli.Ambient
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	env := config.New().Prefix(cli.EnvPrefix)

	o := &options{}
	f := &o.filter
	fs := cli.NewFlagSet("repofilter", stderr)

	cli.StringVar(fs, &f.Pattern, "p", "pattern", env.MayString("PATTERN", ""), "entry name regex (must match the whole name)")
	cli.StringVar(fs, &f.InputDir, "i", "input", env.MayString("INPUT", ""), "input directory holding *.zip files")
	cli.IntVar(fs, &f.Workers, "t", "threads", env.MayInt("THREADS", 0), "archives scanned in parallel (probably 1)")
	fs.IntVar(&f.QueueCapacity, "queue", env.MayInt("QUEUE", 1000), "archives admitted ahead of the workers")
	fs.IntVar(&f.ProgressEvery, "progress", env.MayInt("PROGRESS", archive.DefaultProgressEvery), "log progress every N archives (0 disables)")

	o.ambient.Register(fs, env)

	if err := cli.Parse(fs, args); err != nil {
		return nil, fs, err
	}

	var errs []error
	if err := config.Validate(o.filter); err != nil {
		errs = append(errs, err)
	}
	if f.Pattern != "" {
		if _, err := archive.CompilePattern(f.Pattern); err != nil {
			errs = append(errs, err)
		}
	}
	return o, fs, errors.Join(errs...)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	o, fs, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return cli.ExitOK
	}
	if err != nil {
		return cli.UsageError(fs, err)
	}

	logger := o.ambient.Logger(stderr)
	stopOps := o.ambient.StartOps(logger)
	defer stopOps()

	filter, err := archive.New(o.filter)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return cli.ExitFailure
	}

	if _, err := filter.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("Interrupted")
		} else {
			logger.Error().Err(err).Msg("Archive filter failed")
		}
		return cli.ExitFailure
	}
	return cli.ExitOK
}
