// Package recovery keeps a panic in one request or background goroutine from
// taking the whole process down.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from a panic and logs it with a stack trace.
// It must be called directly by defer:
//
//	defer recovery.RecoverWithLog(logger, "health")
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback recovers from a panic, logs it and passes the recovered
// value to callback, which may be nil.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if callback != nil {
			callback(r)
		}
	}
}

// Go runs fn in a new goroutine guarded by RecoverWithLog.
func Go(logger *slog.Logger, name string, fn func()) {
	go func() {
		defer RecoverWithLog(logger, name)
		fn()
	}()
}

func logPanic(logger *slog.Logger, name string, r any) {
	logger.Error("panic recovered",
		"scope", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
