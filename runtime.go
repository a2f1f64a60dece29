package jpeg2000

import (
	"log/slog"
	"os"
	"runtime"

	"github.com/google/uuid"

	"github.com/adeilla-codes/j2kcore/internal/logging"
)

// Runtime bundles the cross-cutting collaborators a batch decode needs
// beyond the codec itself: a logger every stage can report progress and
// errors through, a run ID that ties together every log line emitted
// while processing one file, and a worker count for the Tier-1 scheduler.
//
// The zero Runtime is usable: NewRuntime fills in defaults for anything
// left unset.
type Runtime struct {
	Logger     *slog.Logger
	RunID      string
	MaxWorkers int
}

// NewRuntime builds a Runtime with a text logger on os.Stdout at Info
// level, a freshly generated run ID, and MaxWorkers set to
// runtime.NumCPU(). Any opts override those defaults.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		Logger:     logging.Logger(os.Stdout, false, slog.LevelInfo),
		RunID:      uuid.NewString(),
		MaxWorkers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// RuntimeOption configures a Runtime built by NewRuntime.
type RuntimeOption func(*Runtime)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.Logger = l }
}

// WithMaxWorkers overrides the default Tier-1 worker count. A value <= 0
// leaves runtime.NumCPU() in place.
func WithMaxWorkers(n int) RuntimeOption {
	return func(rt *Runtime) {
		if n > 0 {
			rt.MaxWorkers = n
		}
	}
}

// Config builds a decode Config carrying this Runtime's worker count and
// logger, so tile-level progress and failures log through the same
// collaborator the caller configured.
func (rt *Runtime) Config() *Config {
	return &Config{MaxWorkers: rt.MaxWorkers, Runtime: rt}
}
