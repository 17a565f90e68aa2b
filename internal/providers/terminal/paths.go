package terminal

import "strings"

// normalizeDir makes paths comparable across separators, case and
// trailing separators: `C:\Work\App\` and `c:/work/app` are equal.
func normalizeDir(dir string) string {
	dir = strings.ReplaceAll(dir, `\`, "/")
	dir = strings.TrimRight(dir, "/")
	return strings.ToLower(dir)
}

// isUnder reports whether dir equals root or is nested below it.
// Both arguments must already be normalized.
func isUnder(dir, root string) bool {
	if dir == root {
		return true
	}
	return strings.HasPrefix(dir, root+"/")
}
