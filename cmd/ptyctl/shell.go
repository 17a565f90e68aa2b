package main

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/config"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/env"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/shell"
)

// ShellCmd prints what a session or command would spawn.
type ShellCmd struct {
	Kind    string `help:"Shell kind to resolve instead of the configured one"`
	Command string `short:"c" help:"Resolve the one-shot invocation of this command"`
	JSON    bool   `help:"Print as JSON"`
}

type shellReport struct {
	Shell      shell.Descriptor `json:"shell"`
	ExtraPaths []string         `json:"extra_paths"`
}

// Run resolves the shell.
func (s *ShellCmd) Run(g *Globals) error {
	req := shell.Request{}
	switch {
	case s.Kind != "":
		req.Config = &shell.Config{Kind: shell.Kind(s.Kind)}
	case g.Settings != "":
		settings, err := config.LoadSettings(g.Settings)
		if err != nil {
			return err
		}
		if settings.Shell.Kind != "" {
			req.Config = &shell.Config{
				Kind:   shell.Kind(settings.Shell.Kind),
				Path:   settings.Shell.Path,
				Args:   settings.Shell.Args,
				Distro: settings.Shell.Distro,
			}
		}
	}

	resolver := shell.NewResolver()
	report := shellReport{ExtraPaths: env.NewBuilder().ExtraPaths()}
	if s.Command != "" {
		report.Shell = resolver.ResolveCommand(req, s.Command)
	} else {
		report.Shell = resolver.Resolve(req)
	}

	if s.JSON {
		data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(g.out(), string(data))
		return err
	}

	w := g.out()
	fmt.Fprintf(w, "%s %s\n", nameStyle.Render("shell"), report.Shell.Path)
	fmt.Fprintf(w, "%s %s\n", nameStyle.Render("args"), strings.Join(report.Shell.Args, " "))
	fmt.Fprintf(w, "%s %s\n", nameStyle.Render("family"), report.Shell.Family)
	for i, dir := range report.ExtraPaths {
		label := ""
		if i == 0 {
			label = "path+"
		}
		fmt.Fprintf(w, "%s %s\n", nameStyle.Render(label), dir)
	}
	return nil
}
