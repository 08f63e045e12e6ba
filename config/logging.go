package config

import (
	"io"
	"log"
	"os"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the standard log package: short-file + time
// flags, rotation via lumberjack when a log file is configured, plain
// stderr otherwise.
func SetupLogging(cfg LogConfig) {
	log.SetFlags(log.Lshortfile | log.Ltime)
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
	}
	log.SetOutput(w)
}

// SetupCliLogging sets up unadorned stderr output with no rotation, for
// interactive invocations.
func SetupCliLogging(verbose, debug bool) {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)
	if debug {
		log.SetFlags(log.Lshortfile | log.Ltime)
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
