package log

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// L is the root logger. Subsystems hang Named loggers off it.
var L hclog.Logger

func init() {
	L = hclog.New(&hclog.LoggerOptions{
		Name:   "userprog",
		Output: os.Stderr,
		Level:  envLevel(hclog.Info),
	})
}

// envLevel is def unless TRACE is set in the environment.
func envLevel(def hclog.Level) hclog.Level {
	if str := os.Getenv("TRACE"); str != "" {
		return hclog.Trace
	}

	return def
}
