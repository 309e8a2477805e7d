package log

import (
	hclog "github.com/hashicorp/go-hclog"
)

// SetLevel applies a configured level name. TRACE in the environment
// always wins so a debugging session doesn't require editing config.
func SetLevel(name string) {
	lvl := hclog.LevelFromString(name)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}

	L.SetLevel(envLevel(lvl))
}

// Quiet silences everything below errors, used by tests that exercise
// fault paths on purpose.
func Quiet() {
	L.SetLevel(hclog.Error)
}
