// Package shell turns a shell preference into an executable and argument vector.
//
// Resolution never fails: every branch ends in a usable fallback. Whether the
// resulting executable actually starts is the caller's concern.
package shell

import (
	"os"
	"runtime"
	"strings"
)

var (
	posixBinDirs     = []string{"/bin", "/usr/bin", "/usr/local/bin", "/opt/homebrew/bin"}
	posixPreferences = []string{"zsh", "bash", "sh"}
)

const defaultPOSIXShell = "/bin/sh"

// Resolver resolves shell requests for one target OS.
type Resolver struct {
	goos   string
	exists func(path string) bool
	getenv func(key string) string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGOOS overrides the target operating system.
func WithGOOS(goos string) Option {
	return func(r *Resolver) { r.goos = goos }
}

// WithFileExists overrides the on-disk existence check.
func WithFileExists(fn func(string) bool) Option {
	return func(r *Resolver) { r.exists = fn }
}

// WithGetenv overrides environment lookups.
func WithGetenv(fn func(string) string) Option {
	return func(r *Resolver) { r.getenv = fn }
}

// NewResolver creates a resolver for the running OS.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		goos:   runtime.GOOS,
		exists: fileExists,
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Windows reports whether the resolver targets Windows.
func (r *Resolver) Windows() bool { return r.goos == "windows" }

// Exists reports whether path is present on disk.
func (r *Resolver) Exists(path string) bool { return r.exists(path) }

// Resolve returns the descriptor for an interactive login session.
func (r *Resolver) Resolve(req Request) Descriptor {
	return r.interactive(r.pick(req))
}

// ResolveCommand returns the descriptor that runs command once and exits
// with its exit code.
func (r *Resolver) ResolveCommand(req Request, command string) Descriptor {
	return r.command(r.pick(req), command)
}

// Fallback returns the interactive fallback shell, ignoring $SHELL.
func (r *Resolver) Fallback() Descriptor {
	return r.interactive(r.fallbackTarget())
}

// FallbackCommand is the one-shot form of Fallback.
func (r *Resolver) FallbackCommand(command string) Descriptor {
	return r.command(r.fallbackTarget(), command)
}

func (r *Resolver) interactive(t target) Descriptor {
	args := t.args
	if args == nil {
		args = builders[t.family].interactive(t)
	}
	return Descriptor{Path: t.path, Args: args, Family: t.family}
}

func (r *Resolver) command(t target, cmd string) Descriptor {
	args := append([]string{}, t.args...)
	args = append(args, builders[t.family].command(t, cmd)...)
	return Descriptor{Path: t.path, Args: args, Family: t.family}
}

func (r *Resolver) pick(req Request) target {
	if req.Shell != "" {
		return target{path: req.Shell, family: FamilyOf(req.Shell), args: nonNil(req.Args)}
	}
	if req.Config != nil {
		t := r.fromConfig(*req.Config)
		if req.Config.Args != nil {
			t.args = req.Config.Args
		}
		return t
	}
	return r.detect()
}

func (r *Resolver) fromConfig(cfg Config) target {
	kind := Kind(strings.ToLower(strings.TrimSpace(string(cfg.Kind))))
	switch kind {
	case KindCustom:
		if cfg.Path == "" {
			return r.detect()
		}
		return target{path: cfg.Path, family: FamilyOf(cfg.Path)}
	case KindBash, KindZsh, KindFish, KindSh:
		if r.Windows() {
			if kind == KindBash {
				return r.gitBash()
			}
			return r.detect()
		}
		return r.posixNamed(string(kind))
	case KindPowerShell:
		if r.Windows() {
			return target{path: "powershell.exe", family: PowerShell}
		}
		return r.posixNamed("pwsh")
	case KindPwsh:
		if r.Windows() {
			return target{path: "pwsh.exe", family: PowerShell}
		}
		return r.posixNamed("pwsh")
	case KindCmd:
		return r.detect()
	case KindWSL:
		if !r.Windows() {
			return r.detect()
		}
		return target{path: "wsl.exe", family: WSL, distro: cfg.Distro}
	case KindGitBash:
		if !r.Windows() {
			return r.posixNamed("bash")
		}
		return r.gitBash()
	default:
		return r.detect()
	}
}

func (r *Resolver) detect() target {
	if r.Windows() {
		return r.comSpec()
	}
	if sh := r.getenv("SHELL"); sh != "" && r.exists(sh) {
		return target{path: sh, family: FamilyOf(sh)}
	}
	return r.fallbackTarget()
}

func (r *Resolver) fallbackTarget() target {
	if r.Windows() {
		return r.comSpec()
	}
	for _, name := range posixPreferences {
		if path, ok := r.findPOSIX(name); ok {
			return target{path: path, family: FamilyOf(path)}
		}
	}
	return target{path: defaultPOSIXShell, family: POSIXPlain}
}

func (r *Resolver) comSpec() target {
	path := r.getenv("ComSpec")
	if path == "" {
		path = "cmd.exe"
	}
	return target{path: path, family: Cmd}
}

// posixNamed locates name in the usual bin dirs; a missing shell still
// yields a path so the caller can detect it and substitute the fallback.
func (r *Resolver) posixNamed(name string) target {
	path, ok := r.findPOSIX(name)
	if !ok {
		path = "/bin/" + name
	}
	return target{path: path, family: FamilyOf(path)}
}

func (r *Resolver) findPOSIX(name string) (string, bool) {
	for _, dir := range posixBinDirs {
		if p := dir + "/" + name; r.exists(p) {
			return p, true
		}
	}
	return "", false
}

func (r *Resolver) gitBash() target {
	candidates := []string{
		`C:\Program Files\Git\bin\bash.exe`,
		`C:\Program Files (x86)\Git\bin\bash.exe`,
	}
	if local := r.getenv("LOCALAPPDATA"); local != "" {
		candidates = append(candidates, local+`\Programs\Git\bin\bash.exe`)
	}
	for _, c := range candidates {
		if r.exists(c) {
			return target{path: c, family: POSIXLogin}
		}
	}
	return target{path: candidates[0], family: POSIXLogin}
}

func nonNil(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
