package main

import (
	"context"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/detect"
)

var (
	nameStyle    = lipgloss.NewStyle().Bold(true).Width(16)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	noteStyle    = lipgloss.NewStyle().Faint(true)
)

// DetectCmd probes agent CLIs.
type DetectCmd struct {
	IDs  []string `arg:"" optional:"" name:"id" help:"CLI ids to probe (default: all known)"`
	JSON bool     `help:"Print statuses as JSON"`
}

// Run probes the selected CLIs.
func (d *DetectCmd) Run(g *Globals) error {
	clis, err := detect.Select(d.IDs...)
	if err != nil {
		return err
	}
	provider, err := g.provider()
	if err != nil {
		return err
	}

	statuses := provider.Detector().Detect(context.Background(), clis...)
	if d.JSON {
		data, err := sonic.ConfigStd.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(g.out(), string(data))
		return err
	}
	printStatuses(g.out(), statuses)
	return nil
}

func printStatuses(w io.Writer, statuses []detect.Status) {
	for _, st := range statuses {
		line := nameStyle.Render(st.ID)
		switch {
		case st.Installed && st.Version != "":
			line += okStyle.Render("✓ " + st.Version)
		case st.Installed:
			line += okStyle.Render("✓ installed")
		default:
			line += missingStyle.Render("✗ not found")
		}
		if st.Truncated {
			line += " " + noteStyle.Render("(probe timed out)")
		}
		fmt.Fprintln(w, line)
	}
}
