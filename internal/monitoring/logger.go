// Package monitoring holds the process-wide diagnostic log streams.
//
// Three streams are kept apart so deployments can silence the noisy ones:
// ops for lifecycle events and failures, diag for per-event summaries and
// trace for per-hit decisions. A stream with no writer discards output.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   = newLogger(os.Stderr)
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger(w.Ops)
	diagLogger = newLogger(w.Diag)
	traceLogger = newLogger(w.Trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[hitmerge] ", log.LstdFlags|log.Lmicroseconds)
}

func logf(l **log.Logger, format string, args []interface{}) {
	mu.RLock()
	logger := *l
	mu.RUnlock()
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// Opsf logs to the ops stream (warnings, errors, lifecycle events).
func Opsf(format string, args ...interface{}) { logf(&opsLogger, format, args) }

// Diagf logs to the diag stream (per-event summaries, tuning context).
func Diagf(format string, args ...interface{}) { logf(&diagLogger, format, args) }

// Tracef logs to the trace stream (per-hit and per-pair decisions).
func Tracef(format string, args ...interface{}) { logf(&traceLogger, format, args) }
