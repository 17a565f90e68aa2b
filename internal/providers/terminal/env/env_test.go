package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticEnv(kv ...string) func() []string {
	return func() []string { return kv }
}

func noGlob(string) []string { return nil }

func TestBuildPathIsSupersetWithoutDuplicates(t *testing.T) {
	b := NewBuilder(
		WithGOOS("darwin"),
		WithHome("/Users/dev"),
		WithEnviron(staticEnv("PATH=/usr/bin:/custom/bin:/usr/bin:/opt/homebrew/bin", "HOME=/Users/dev")),
		WithGlob(noGlob),
	)

	vars := b.Build(Options{})
	entries := strings.Split(vars["PATH"], ":")

	assert.NotEmpty(t, vars["PATH"])
	assert.Len(t, lo.Uniq(entries), len(entries), "PATH must not contain duplicates")
	for _, want := range append(b.ExtraPaths(), "/usr/bin", "/custom/bin") {
		assert.Contains(t, entries, want)
	}

	// Synthesized directories precede the inherited ones.
	assert.Equal(t, "/Users/dev/.local/bin", entries[0])
	assert.Less(t, lo.IndexOf(entries, "/Users/dev/.cargo/bin"), lo.IndexOf(entries, "/custom/bin"))
}

func TestBuildWithEmptyInheritedPath(t *testing.T) {
	b := NewBuilder(WithGOOS("linux"), WithHome("/home/dev"), WithEnviron(staticEnv()), WithGlob(noGlob))

	vars := b.Build(Options{})
	assert.NotEmpty(t, vars["PATH"])
	assert.NotContains(t, strings.Split(vars["PATH"], ":"), "")
}

func TestBuildLocaleAndTerminal(t *testing.T) {
	b := NewBuilder(WithGOOS("linux"), WithHome("/home/dev"), WithEnviron(staticEnv("LANG=de_DE.UTF-8", "TERM=dumb")), WithGlob(noGlob))

	vars := b.Build(Options{})
	assert.Equal(t, "de_DE.UTF-8", vars["LANG"])
	assert.Equal(t, "en_US.UTF-8", vars["LC_ALL"])
	assert.Equal(t, "dumb", vars["TERM"])
	assert.NotContains(t, vars, "COLORTERM")

	vars = b.Build(Options{Terminal: true})
	assert.Equal(t, "xterm-256color", vars["TERM"])
	assert.Equal(t, "truecolor", vars["COLORTERM"])
}

func TestOverridesWin(t *testing.T) {
	b := NewBuilder(WithGOOS("linux"), WithHome("/home/dev"), WithEnviron(staticEnv("FOO=old")), WithGlob(noGlob))

	vars := b.Build(Options{
		Terminal:  true,
		Overrides: map[string]string{"FOO": "new", "TERM": "screen", "LC_ALL": "C"},
	})
	assert.Equal(t, "new", vars["FOO"])
	assert.Equal(t, "screen", vars["TERM"])
	assert.Equal(t, "C", vars["LC_ALL"])
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	overrides := map[string]string{"A": "1"}
	b := NewBuilder(WithGOOS("linux"), WithHome("/h"), WithEnviron(staticEnv()), WithGlob(noGlob))
	b.Build(Options{Overrides: overrides})
	assert.Equal(t, map[string]string{"A": "1"}, overrides)
}

func TestWindowsPath(t *testing.T) {
	b := NewBuilder(
		WithGOOS("windows"),
		WithEnviron(staticEnv(
			`Path=C:\Windows\system32;C:\Users\dev\AppData\Roaming\npm\`,
			`APPDATA=C:\Users\dev\AppData\Roaming`,
			`LOCALAPPDATA=C:\Users\dev\AppData\Local`,
			`USERPROFILE=C:\Users\dev`,
			`=C:=C:\`,
		)),
		WithGlob(noGlob),
	)

	vars := b.Build(Options{Overrides: map[string]string{"X": "y"}})
	assert.NotContains(t, vars, "PATH")
	assert.NotContains(t, vars, "")

	entries := strings.Split(vars["Path"], ";")
	assert.Equal(t, `C:\Users\dev\AppData\Roaming\npm`, entries[0])
	assert.Contains(t, entries, `C:\Users\dev\AppData\Local\Volta\bin`)
	assert.Contains(t, entries, `C:\Users\dev\scoop\shims`)
	assert.Contains(t, entries, `C:\Windows\system32`)
	// The inherited npm entry differs only by a trailing separator.
	assert.Len(t, entries, len(lo.UniqBy(entries, strings.ToLower)))
	assert.NotContains(t, entries, `C:\Users\dev\AppData\Roaming\npm\`)
}

func TestWindowsPathOverrideUsesInheritedKey(t *testing.T) {
	b := NewBuilder(WithGOOS("windows"), WithEnviron(staticEnv(`Path=C:\a`)), WithGlob(noGlob))
	vars := b.Build(Options{Overrides: map[string]string{"PATH": `C:\only`}})
	assert.Equal(t, `C:\only`, vars["Path"])
	assert.NotContains(t, vars, "PATH")
}

func TestNvmVersionsNewestFirst(t *testing.T) {
	home := t.TempDir()
	for _, v := range []string{"v9.11.2", "v20.11.0", "v18.19.1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".nvm", "versions", "node", v, "bin"), 0o755))
	}

	b := NewBuilder(WithGOOS("linux"), WithHome(filepath.ToSlash(home)), WithEnviron(staticEnv()))
	paths := b.ExtraPaths()

	var nvm []string
	for _, p := range paths {
		if strings.Contains(p, "/.nvm/") {
			nvm = append(nvm, filepath.Base(filepath.Dir(p)))
		}
	}
	assert.Equal(t, []string{"v20.11.0", "v18.19.1", "v9.11.2"}, nvm)
}

func TestEnviron(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, Environ(map[string]string{"B": "2", "A": "1"}))
}
