package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/runner"
)

// timeoutExitCode matches coreutils timeout(1).
const timeoutExitCode = 124

// RunCmd runs one command and exits with its status.
type RunCmd struct {
	Command       []string      `arg:"" passthrough:"" help:"Command line, run through the shell"`
	Timeout       time.Duration `short:"t" help:"Deadline (0 uses the runner default)"`
	KillOnTimeout bool          `help:"On timeout, print partial output instead of failing outright"`
	Dir           string        `short:"C" help:"Working directory" type:"path"`
	Shell         string        `help:"Shell executable (default: settings or auto-detect)"`
	Env           []string      `short:"e" sep:"none" help:"Extra KEY=VALUE variables (repeatable)"`
}

// Run executes the command.
func (r *RunCmd) Run(g *Globals) error {
	provider, err := g.provider()
	if err != nil {
		return err
	}

	req, err := r.request()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := provider.Run(ctx, req)
	return report(g.out(), g.errOut(), res, err)
}

func (r *RunCmd) request() (runner.Request, error) {
	command := strings.TrimSpace(strings.Join(r.Command, " "))
	if command == "" {
		return runner.Request{}, errors.New("command is required")
	}

	env := make(map[string]string, len(r.Env))
	for _, kv := range r.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return runner.Request{}, fmt.Errorf("invalid --env %q: want KEY=VALUE", kv)
		}
		env[k] = v
	}

	req := runner.Request{
		Command: command,
		Timeout: r.Timeout,
		Dir:     r.Dir,
		Env:     env,
		Shell:   r.Shell,
	}
	if r.KillOnTimeout {
		req.OnTimeout = runner.TimeoutKeepPartial
	}
	return req, nil
}

// report prints the outcome and converts it into the process exit status.
func report(stdout, stderr io.Writer, res *runner.Result, err error) error {
	var (
		exitErr    *runner.ExitError
		timeoutErr *runner.TimeoutError
	)
	switch {
	case err == nil:
		fmt.Fprint(stdout, res.Output)
		if res.Truncated {
			fmt.Fprintln(stderr, "ptyctl: command timed out, output is partial")
		}
		return nil
	case errors.As(err, &exitErr):
		fmt.Fprint(stdout, exitErr.Output)
		return &exitCode{code: exitErr.Code}
	case errors.As(err, &timeoutErr):
		fmt.Fprint(stdout, timeoutErr.Output)
		fmt.Fprintf(stderr, "ptyctl: %v\n", timeoutErr)
		return &exitCode{code: timeoutExitCode}
	default:
		return err
	}
}
