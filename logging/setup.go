// Package logging builds the writer the coordinator's caller points the
// root logger at. Grounded on plugin/evm/log/log.go's InitLogger: a
// rotating file when a file path is configured, otherwise a colorized
// terminal stream when stderr is a TTY, otherwise plain stderr. Logging sinks are an explicit non-goal of the coordinator
// itself (spec.md §1); this package is the ambient scaffolding a caller
// uses before handing a log.Logger into the coordinator.
package logging

import (
	"io"
	"os"

	"github.com/luxfi/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logging destination.
type Options struct {
	FilePath   string // when set, rotate logs to this path instead of stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Writer picks the destination per Options, following the teacher's
// InitLogger shape: a colorable stream when stderr is a TTY, a rotating
// file when FilePath is set.
func Writer(opts Options) io.Writer {
	if opts.FilePath != "" {
		return &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return colorable.NewColorableStderr()
	}
	return os.Stderr
}

// New returns a fresh, context-free root logger (teacher idiom: see
// network/network.go's `logger := log.New()`). Callers can add context with
// logger.With/New(ctx...), e.g. `log.New("component", "broadcast-scheduler")`;
// the components in this module use the logger they are given as is.
func New() log.Logger {
	return log.New()
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
