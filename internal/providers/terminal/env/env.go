// Package env builds the environment for processes spawned in a pseudo-terminal.
//
// GUI-launched processes rarely inherit the PATH an interactive shell would
// have, so well-known install directories are placed ahead of the inherited
// PATH. Build is a pure function of its options and the environment snapshot
// taken at call time.
package env

import (
	"os"
	"path"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"
)

const (
	defaultLocale = "en_US.UTF-8"
	termName      = "xterm-256color"
	colorTerm     = "truecolor"
)

// Options controls a single Build call.
type Options struct {
	// Overrides are applied last and win over everything else.
	Overrides map[string]string
	// Terminal adds terminal capability variables for PTY spawns.
	Terminal bool
}

// Builder builds spawn environments.
type Builder struct {
	goos    string
	home    func() string
	environ func() []string
	glob    func(pattern string) []string
}

// Option configures a Builder.
type Option func(*Builder)

// WithGOOS overrides the target operating system.
func WithGOOS(goos string) Option {
	return func(b *Builder) { b.goos = goos }
}

// WithHome overrides the home directory.
func WithHome(home string) Option {
	return func(b *Builder) { b.home = func() string { return home } }
}

// WithEnviron overrides the inherited environment snapshot.
func WithEnviron(fn func() []string) Option {
	return func(b *Builder) { b.environ = fn }
}

// WithGlob overrides filesystem globbing for version-manager directories.
func WithGlob(fn func(pattern string) []string) Option {
	return func(b *Builder) { b.glob = fn }
}

// NewBuilder creates a builder for the running OS.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		goos:    runtime.GOOS,
		home:    userHome,
		environ: os.Environ,
		glob:    globDirs,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the merged environment.
func (b *Builder) Build(opts Options) map[string]string {
	vars := parse(b.environ())

	key := b.pathKey(vars)
	vars[key] = b.mergePath(b.extraPaths(vars), vars[key])

	if opts.Terminal {
		vars["TERM"] = termName
		vars["COLORTERM"] = colorTerm
	}

	for k, v := range opts.Overrides {
		if strings.EqualFold(k, "PATH") && b.windows() {
			k = key
		}
		vars[k] = v
	}

	for _, k := range []string{"LANG", "LC_ALL"} {
		if vars[k] == "" {
			vars[k] = defaultLocale
		}
	}
	return vars
}

// ExtraPaths returns the synthesized directories in priority order.
func (b *Builder) ExtraPaths() []string {
	return b.extraPaths(parse(b.environ()))
}

func (b *Builder) extraPaths(vars map[string]string) []string {
	if b.windows() {
		return b.windowsPaths(vars)
	}
	return b.posixPaths()
}

// PathKey returns the key holding the search path in vars.
func (b *Builder) PathKey(vars map[string]string) string { return b.pathKey(vars) }

// Separator returns the search path list separator.
func (b *Builder) Separator() string {
	if b.windows() {
		return ";"
	}
	return ":"
}

func (b *Builder) windows() bool { return b.goos == "windows" }

func (b *Builder) mergePath(extra []string, inherited string) string {
	sep := b.Separator()
	entries := append(extra, strings.Split(inherited, sep)...)
	entries = lo.Compact(entries)
	if b.windows() {
		entries = lo.UniqBy(entries, func(p string) string {
			return strings.TrimRight(strings.ToLower(p), `\`)
		})
	} else {
		entries = lo.Uniq(entries)
	}
	return strings.Join(entries, sep)
}

// Windows keys are case-insensitive; keep whatever spelling is inherited.
func (b *Builder) pathKey(vars map[string]string) string {
	if !b.windows() {
		return "PATH"
	}
	for k := range vars {
		if strings.EqualFold(k, "PATH") {
			return k
		}
	}
	return "Path"
}

func (b *Builder) posixPaths() []string {
	home := b.home()
	var dirs []string
	if home != "" {
		dirs = append(dirs,
			path.Join(home, ".local/bin"),
			path.Join(home, "bin"),
		)
	}
	dirs = append(dirs,
		"/opt/homebrew/bin",
		"/opt/homebrew/sbin",
		"/usr/local/bin",
		"/usr/local/sbin",
	)
	if home != "" {
		dirs = append(dirs,
			path.Join(home, ".cargo/bin"),
			path.Join(home, ".volta/bin"),
			path.Join(home, ".bun/bin"),
			path.Join(home, ".deno/bin"),
			path.Join(home, "go/bin"),
			path.Join(home, ".asdf/shims"),
			path.Join(home, ".local/share/mise/shims"),
			path.Join(home, ".pyenv/shims"),
			path.Join(home, ".rbenv/shims"),
			path.Join(home, ".nodenv/shims"),
			path.Join(home, ".local/share/pnpm"),
			path.Join(home, ".npm-global/bin"),
		)
		dirs = append(dirs, newestFirst(b.glob(path.Join(home, ".nvm/versions/node/*/bin")))...)
	}
	return append(dirs, "/usr/local/go/bin", "/usr/bin", "/bin", "/usr/sbin", "/sbin")
}

func (b *Builder) windowsPaths(vars map[string]string) []string {
	get := func(k string) string {
		for key, v := range vars {
			if strings.EqualFold(key, k) {
				return v
			}
		}
		return ""
	}

	var dirs []string
	add := func(base string, elems ...string) {
		if base == "" {
			return
		}
		dirs = append(dirs, strings.Join(append([]string{strings.TrimRight(base, `\`)}, elems...), `\`))
	}

	home := get("USERPROFILE")
	if home == "" {
		home = b.home()
	}
	add(get("APPDATA"), "npm")
	add(get("LOCALAPPDATA"), "Volta", "bin")
	add(get("LOCALAPPDATA"), "pnpm")
	add(home, "scoop", "shims")
	add(home, ".cargo", "bin")
	add(home, ".bun", "bin")
	add(home, ".deno", "bin")
	add(home, "go", "bin")
	add(get("ProgramFiles"), "nodejs")
	add(get("ProgramFiles"), "Git", "cmd")
	return dirs
}

// Environ flattens vars into sorted KEY=VALUE pairs.
func Environ(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func parse(environ []string) map[string]string {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		// Windows carries per-drive entries like "=C:=C:\"
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	return vars
}

// newestFirst orders nvm version directories by descending version.
func newestFirst(dirs []string) []string {
	sorted := append([]string{}, dirs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareVersions(versionOf(sorted[i]), versionOf(sorted[j])) > 0
	})
	return sorted
}

// versionOf extracts "v20.11.0" from ".../node/v20.11.0/bin".
func versionOf(dir string) string {
	return path.Base(path.Dir(dir))
}

func compareVersions(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(a, "v"), ".")
	pb := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			y, _ = strconv.Atoi(pb[i])
		}
		if x != y {
			if x > y {
				return 1
			}
			return -1
		}
	}
	return strings.Compare(a, b)
}

func globDirs(pattern string) []string {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil
	}
	return matches
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}
