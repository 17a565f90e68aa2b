package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal"
)

// AttachCmd runs an interactive session in the current terminal.
type AttachCmd struct {
	Shell string   `help:"Shell executable (default: settings or auto-detect)"`
	Args  []string `arg:"" optional:"" help:"Shell arguments"`
	Dir   string   `short:"C" help:"Working directory" type:"path"`
}

// Run attaches stdin and stdout to a new session until the shell exits.
func (a *AttachCmd) Run(g *Globals) error {
	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return errors.New("attach needs an interactive terminal")
	}

	provider, err := g.provider()
	if err != nil {
		return err
	}

	opts := terminal.Options{Shell: a.Shell, Args: a.Args, Dir: a.Dir}
	if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		opts.Cols, opts.Rows = cols, rows
	}

	st, err := provider.CreateSession(context.Background(), opts)
	if err != nil {
		return err
	}
	sid := st.Session().ID()
	defer provider.Kill(sid)

	// The shell may have printed its prompt before we subscribed.
	sub, backlog := st.Attach(1024)
	defer sub.Close()
	if _, err := os.Stdout.Write(backlog); err != nil {
		return err
	}

	state, err := term.MakeRaw(stdin)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(stdin, state) }()

	stopResize := watchResize(func() {
		if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			provider.Manager().Resize(sid, cols, rows)
		}
	})
	defer stopResize()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				provider.Manager().Write(sid, append([]byte(nil), buf[:n]...))
			}
			if err != nil {
				return
			}
		}
	}()

	for chunk := range sub.C {
		if _, err := os.Stdout.Write(chunk); err != nil {
			return err
		}
	}

	status, ok := <-sub.Exit
	if !ok {
		return errors.New("session output fell behind")
	}
	if status.Code != 0 {
		return &exitCode{code: status.Code}
	}
	return nil
}
