package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// Version is injected at build time via -ldflags="-X main.Version=v1.0.0".
var Version = "dev"

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("ptyctl"),
		kong.Description("Run commands, probe agent CLIs and open shells the way the PTY host does"),
		kong.Vars{"version": "ptyctl " + Version},
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)

	err := ctx.Run()
	cli.Globals.Close()
	if err == nil {
		return
	}

	var exit *exitCode
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
