// Package detect reports which agent CLIs are installed and at what version.
//
// Probes run through the PTY runner rather than a plain subprocess: most of
// these tools are installed through version managers whose shims only exist
// on the PATH of an interactive login shell.
package detect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/runner"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 4
)

// CLI is a tool to probe.
type CLI struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"` // full probe command, e.g. "claude --version"
}

// Known lists the agent CLIs probed by default.
var Known = []CLI{
	{ID: "claude", Name: "Claude Code", Command: "claude --version"},
	{ID: "codex", Name: "Codex", Command: "codex --version"},
	{ID: "gemini", Name: "Gemini CLI", Command: "gemini --version"},
	{ID: "cursor-agent", Name: "Cursor Agent", Command: "cursor-agent --version"},
	{ID: "opencode", Name: "OpenCode", Command: "opencode --version"},
	{ID: "droid", Name: "Factory Droid", Command: "droid --version"},
	{ID: "auggie", Name: "Auggie", Command: "auggie --version"},
	{ID: "qwen", Name: "Qwen Code", Command: "qwen --version"},
}

// Status is the probe result for one CLI.
type Status struct {
	CLI
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
	Output    string `json:"output,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Runner executes a bounded command.
type Runner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// Detector probes CLIs.
type Detector struct {
	run         Runner
	timeout     time.Duration
	concurrency int
	log         *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithTimeout sets the per-probe deadline.
func WithTimeout(d time.Duration) Option {
	return func(d2 *Detector) {
		if d > 0 {
			d2.timeout = d
		}
	}
}

// WithConcurrency caps concurrent probes.
func WithConcurrency(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Detector) { d.log = logging.OrNop(log) }
}

// New creates a Detector backed by run.
func New(run Runner, opts ...Option) *Detector {
	d := &Detector{
		run:         run,
		timeout:     defaultTimeout,
		concurrency: defaultConcurrency,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Select returns the known CLIs named by ids, in Known order. No ids selects
// every known CLI.
func Select(ids ...string) ([]CLI, error) {
	if len(ids) == 0 {
		return Known, nil
	}
	clis := lo.Filter(Known, func(cli CLI, _ int) bool {
		return lo.Contains(ids, cli.ID)
	})
	if len(clis) == 0 {
		return nil, fmt.Errorf("no known CLI matches %v", ids)
	}
	return clis, nil
}

// Detect probes every cli (Known when none given). Results keep input order.
func (d *Detector) Detect(ctx context.Context, clis ...CLI) []Status {
	if len(clis) == 0 {
		clis = Known
	}
	results := make([]Status, len(clis))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, cli := range clis {
		g.Go(func() error {
			results[i] = d.Probe(gctx, cli)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Probe runs a single CLI's version command.
func (d *Detector) Probe(ctx context.Context, cli CLI) Status {
	st := Status{CLI: cli}

	res, err := d.run.Run(ctx, runner.Request{
		Command:   cli.Command,
		Timeout:   d.timeout,
		OnTimeout: runner.TimeoutKeepPartial,
	})

	var exitErr *runner.ExitError
	switch {
	case err == nil:
		st.Output = res.Output
		st.Truncated = res.Truncated
		st.Version = Version(res.Output)
		// A truncated probe without a version proves nothing.
		st.Installed = !res.Truncated || st.Version != ""
	case errors.As(err, &exitErr):
		// Shell profiles may fail after the tool already printed its version.
		st.Output = exitErr.Output
		st.Version = Version(exitErr.Output)
		st.Installed = st.Version != ""
		if !st.Installed {
			st.Error = err.Error()
		}
	default:
		st.Error = err.Error()
	}

	d.log.Debug("cli probe finished",
		zap.String("cli", cli.ID),
		zap.Bool("installed", st.Installed),
		zap.String("version", st.Version))
	return st
}

var versionPattern = regexp.MustCompile(`\bv?(\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.]+)?)`)

// Version extracts the first semantic version in s.
func Version(s string) string {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}
