// Package logging implements the WIKIREADER_LOG-style verbosity knob: a
// process-wide level filter over the standard library's log package. No
// third-party structured logger is pulled in here; a leveled wrapper over
// stdlib log stays consistent with how every other package already logs.
package logging

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// Level orders verbosity from least to most chatty.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// ParseLevel accepts the four WIKIREADER_LOG values, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return 0, fmt.Errorf("logging: unrecognized level %q (want error|warn|info|debug)", s)
	}
}

// SetLevel changes the process-wide filter. Safe for concurrent use.
func SetLevel(l Level) { current.Store(int32(l)) }

func enabled(l Level) bool { return l <= Level(current.Load()) }

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		log.Printf("ERROR "+format, args...)
	}
}

func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		log.Printf("WARN "+format, args...)
	}
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		log.Printf("INFO "+format, args...)
	}
}

func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Printf("DEBUG "+format, args...)
	}
}
