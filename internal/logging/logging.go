// Package logging configures the process-wide google/logger instance,
// rotating the log file with lumberjack.
package logging

import (
	"io"
	"log"

	"github.com/google/logger"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tolelom/lottochain/config"
)

// Logger owns the configured logger and its rotating file.
type Logger struct {
	l    *logger.Logger
	file io.Closer
}

// Setup initialises the default logger named name. With no file configured
// everything goes to the console; otherwise records go to a rotating file
// and, when cfg.Verbose is set, to the console as well.
func Setup(name string, cfg config.LogConfig) *Logger {
	var (
		out     io.Writer = io.Discard
		closer  io.Closer
		verbose = cfg.Verbose || cfg.File == ""
	)
	if cfg.File != "" {
		rotate := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out, closer = rotate, rotate
	}
	l := logger.Init(name, verbose, false, out)
	logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return &Logger{l: l, file: closer}
}

// Close flushes the logger and closes the rotating file.
func (l *Logger) Close() error {
	l.l.Close()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
