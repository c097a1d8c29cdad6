package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic in the calling goroutine and logs it with the
// stack. Must be called directly in a defer statement; the panic is not re-raised.
//
//	defer observability.RecoverPanic(logger, "challenge sweeper")
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}
