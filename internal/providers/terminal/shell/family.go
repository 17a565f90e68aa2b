package shell

import "strings"

// Family is the normalized shell family that decides argument conventions.
type Family string

const (
	POSIXLogin Family = "posix-login" // bash, zsh, fish, ksh: supports -i and -l
	POSIXPlain Family = "posix-plain" // sh, dash: no login flag
	PowerShell Family = "powershell"
	Cmd        Family = "cmd"
	WSL        Family = "wsl"
)

func (f Family) String() string { return string(f) }

// Kind is the logical shell choice persisted by the settings layer.
type Kind string

const (
	KindSystem     Kind = "system"
	KindBash       Kind = "bash"
	KindZsh        Kind = "zsh"
	KindFish       Kind = "fish"
	KindSh         Kind = "sh"
	KindPowerShell Kind = "powershell"
	KindPwsh       Kind = "pwsh"
	KindCmd        Kind = "cmd"
	KindWSL        Kind = "wsl"
	KindGitBash    Kind = "gitbash"
	KindCustom     Kind = "custom"
)

// Descriptor is a resolved executable and argument vector.
type Descriptor struct {
	Path   string   `json:"path"`
	Args   []string `json:"args"`
	Family Family   `json:"family"`
}

// Config is a structured shell preference.
type Config struct {
	Kind   Kind     `json:"kind"`
	Path   string   `json:"path,omitempty"`   // custom only
	Args   []string `json:"args,omitempty"`   // replaces the default interactive args
	Distro string   `json:"distro,omitempty"` // wsl only
}

// Request selects a shell. Shell wins over Config; both empty means auto-detect.
type Request struct {
	Shell  string
	Args   []string
	Config *Config
}

// FamilyOf classifies an executable by its basename. Both separators are
// honored so Windows paths classify correctly on any host.
func FamilyOf(path string) Family {
	switch baseName(path) {
	case "pwsh", "powershell":
		return PowerShell
	case "cmd":
		return Cmd
	case "wsl":
		return WSL
	case "sh", "dash":
		return POSIXPlain
	default:
		return POSIXLogin
	}
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	path = strings.ToLower(path)
	return strings.TrimSuffix(path, ".exe")
}
