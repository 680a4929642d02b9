package engine

import "log"

// Logger is the small ambient logging surface the engine writes
// diagnostics through (crash recovery, lock-wait warnings). It is
// satisfied by the standard library's *log.Logger, matching the
// teacher's own choice of stdlib log over any structured-logging
// dependency — no third-party logger appears anywhere in the retrieval
// pack.
type Logger interface {
	Printf(format string, args ...any)
}

// defaultLogger wraps the standard library's package-level logger.
type defaultLogger struct{}

func (defaultLogger) Printf(format string, args ...any) { log.Printf(format, args...) }
