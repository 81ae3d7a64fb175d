// Package logging sets up forgehand's process-wide logger the way
// app/cli/main.go and app/server/main.go do: stdlib log with a rotating
// lumberjack file sink and the LstdFlags|Lmicroseconds|Lshortfile flag set.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how the rotating log file is written.
type Options struct {
	Dir        string // directory to hold the log file; created if missing
	Filename   string // defaults to "forgehand.log"
	MaxSizeMB  int    // megabytes before rotation, defaults to 10
	MaxBackups int    // number of rotated files to keep, defaults to 3
	MaxAgeDays int    // days to keep old logs, defaults to 28
	Compress   bool
	AlsoStderr bool // mirror output to stderr in addition to the file
}

// Init configures the process-wide log.Default() logger and returns the
// underlying *lumberjack.Logger so callers can Close it on shutdown.
func Init(opts Options) (*lumberjack.Logger, error) {
	if opts.Filename == "" {
		opts.Filename = "forgehand.log"
	}
	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 3
	}
	if opts.MaxAgeDays == 0 {
		opts.MaxAgeDays = 28
	}

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir %s: %w", dir, err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, opts.Filename),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	var out io.Writer = rotator
	if opts.AlsoStderr {
		out = io.MultiWriter(rotator, os.Stderr)
	}

	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	return rotator, nil
}

// Fields renders a small set of key/value pairs as space-separated
// key=value text for log lines, e.g. "task_id=task_123 phase=clone".
func Fields(kv ...string) string {
	s := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			s += " "
		}
		s += kv[i] + "=" + kv[i+1]
	}
	return s
}
