package logx

import (
	"log"
	"strings"
	"sync/atomic"
)

// Level gates log output. Ordered debug < info < warn < error < silent.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// SetLevel applies a LOG_LEVEL string. Unknown values fall back to info.
func SetLevel(s string) {
	lvl := LevelInfo
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		lvl = LevelDebug
	case "info":
		lvl = LevelInfo
	case "warn":
		lvl = LevelWarn
	case "error":
		lvl = LevelError
	case "silent":
		lvl = LevelSilent
	}
	current.Store(int32(lvl))
}

func enabled(lvl Level) bool {
	return int32(lvl) >= current.Load()
}

func Debugf(format string, args ...interface{}) {
	if enabled(LevelDebug) {
		log.Printf("debug: "+format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(LevelInfo) {
		log.Printf("info: "+format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if enabled(LevelWarn) {
		log.Printf("warn: "+format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(LevelError) {
		log.Printf("error: "+format, args...)
	}
}
