// Package buildinfo carries version metadata set at link time with -ldflags "-X".
package buildinfo

import "runtime"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"service": "churchtransport",
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
		"go":      runtime.Version(),
	}
}

// String renders a one-line version for CLI output.
func String() string {
	s := "churchtransport " + Version
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	return s
}
