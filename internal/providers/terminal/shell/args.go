package shell

import "strings"

// target is a chosen executable before family-specific arguments are applied.
type target struct {
	path   string
	family Family
	args   []string // caller-supplied; nil selects family defaults
	distro string
}

type builder struct {
	interactive func(t target) []string
	command     func(t target, cmd string) []string
}

var builders = map[Family]builder{
	POSIXLogin: {posixLoginInteractive, posixLoginCommand},
	POSIXPlain: {posixPlainInteractive, posixPlainCommand},
	PowerShell: {powerShellInteractive, powerShellCommand},
	Cmd:        {cmdInteractive, cmdCommand},
	WSL:        {wslInteractive, wslCommand},
}

func posixLoginInteractive(target) []string { return []string{"-i", "-l"} }

func posixLoginCommand(_ target, cmd string) []string {
	return []string{"-i", "-l", "-c", cmd}
}

// sh and dash reject or ignore -l; only -i is passed.
func posixPlainInteractive(target) []string { return []string{"-i"} }

func posixPlainCommand(_ target, cmd string) []string {
	return []string{"-c", cmd}
}

func powerShellInteractive(target) []string { return []string{"-NoLogo"} }

// The script block keeps the command's own exit code as the process exit code.
func powerShellCommand(_ target, cmd string) []string {
	return []string{"-NoLogo", "-Command", "& { " + cmd + " }; exit $LASTEXITCODE"}
}

func cmdInteractive(target) []string { return []string{} }

// Delayed expansion so !errorlevel! is read after cmd finishes. /s makes cmd
// strip exactly the outer quotes Go adds around the command argument.
func cmdCommand(_ target, cmd string) []string {
	return []string{"/d", "/v:on", "/s", "/c", cmd + " & exit !errorlevel!"}
}

// wsl.exe does not source the distro profile; re-exec the inner login shell.
func wslInteractive(t target) []string {
	return append(wslPrefix(t), "sh", "-c", `exec "$SHELL" -il`)
}

func wslCommand(t target, cmd string) []string {
	return append(wslPrefix(t), "sh", "-c", `exec "$SHELL" -ilc `+Quote(cmd))
}

func wslPrefix(t target) []string {
	var args []string
	if t.distro != "" {
		args = append(args, "-d", t.distro)
	}
	return append(args, "-e")
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
