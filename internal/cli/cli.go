// Package cli holds the flag plumbing shared by the reposcrape commands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/reposcrape/internal/config"
	"github.com/Sternrassler/reposcrape/pkg/logging"
	"github.com/Sternrassler/reposcrape/pkg/metrics"
	"github.com/rs/zerolog"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// EnvPrefix namespaces every environment default.
const EnvPrefix = "REPOSCRAPE_"

// ErrParse marks a flag parsing failure the flag package already reported.
var ErrParse = errors.New("invalid flags")

// Parse parses args and rejects positional arguments. -h and -help return
// flag.ErrHelp unchanged.
func Parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

// StringList is a repeatable string flag.
type StringList []string

// String implements flag.Value.
func (s *StringList) String() string { return strings.Join(*s, ",") }

// Set implements flag.Value.
func (s *StringList) Set(v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.New("empty value")
	}
	*s = append(*s, v)
	return nil
}

// StringVar registers one string flag under a short and a long name.
func StringVar(fs *flag.FlagSet, p *string, short, long, def, usage string) {
	fs.StringVar(p, long, def, usage)
	if short != "" {
		fs.StringVar(p, short, def, "shorthand for -"+long)
	}
}

// IntVar registers one int flag under a short and a long name.
func IntVar(fs *flag.FlagSet, p *int, short, long string, def int, usage string) {
	fs.IntVar(p, long, def, usage)
	if short != "" {
		fs.IntVar(p, short, def, "shorthand for -"+long)
	}
}

// Ambient holds the flags every command carries.
type Ambient struct {
	LogLevel    string
	LogPretty   bool
	MetricsAddr string
}

// Register adds the ambient flags with defaults read from env.
func (a *Ambient) Register(fs *flag.FlagSet, env config.Conf) {
	root := config.New()
	fs.StringVar(&a.LogLevel, "log-level", env.MayString("LOG_LEVEL", root.MayString("LOG_LEVEL", "info")), "log level: debug, info, warn, error")
	fs.BoolVar(&a.LogPretty, "log-pretty", env.MayBool("LOG_PRETTY", false), "human readable console logs")
	fs.StringVar(&a.MetricsAddr, "metrics-addr", env.MayString("METRICS_ADDR", ""), "serve /metrics and /health on this address (empty disables)")
}

// Logger configures the global logger and returns it.
func (a Ambient) Logger(out io.Writer) zerolog.Logger {
	return logging.Setup(logging.Config{
		Level:  logging.LogLevel(a.LogLevel),
		Pretty: a.LogPretty,
		Output: out,
	})
}

// StartOps starts the ops server when an address is configured. The
// returned stop function shuts it down.
func (a Ambient) StartOps(logger zerolog.Logger) (stop func()) {
	if a.MetricsAddr == "" {
		return func() {}
	}
	srv := metrics.NewServer(a.MetricsAddr)
	go func() {
		if err := srv.Run(); err != nil {
			logger.Error().Err(err).Str("addr", a.MetricsAddr).Msg("Ops server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// NewFlagSet returns a flag set that reports errors instead of exiting.
func NewFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags]\n\nFlags:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// UsageError prints err and the usage text and returns ExitUsage.
func UsageError(fs *flag.FlagSet, err error) int {
	if errors.Is(err, ErrParse) {
		return ExitUsage
	}
	fmt.Fprintf(fs.Output(), "%s: %v\n", fs.Name(), err)
	fs.Usage()
	return ExitUsage
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
