package middleware

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ascend-app/ascend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// A panicking handler must not take the polling loop down with it.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultPanicMessage is sent to the user after a recovered panic.
const DefaultPanicMessage = "😔 Something went wrong. Please try again in a minute."

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	Value      any
	StackTrace string
	TelegramID int64
	Route      string
	Timestamp  time.Time
}

// Error implements error.
func (p *PanicInfo) Error() string {
	return fmt.Sprintf("panic in %s: %v", p.Route, p.Value)
}

// RecoveryMiddleware recovers from handler panics.
type RecoveryMiddleware struct {
	log     *logger.Logger
	onPanic func(*PanicInfo)
}

// NewRecoveryMiddleware creates a new recovery middleware. onPanic may be nil.
func NewRecoveryMiddleware(log *logger.Logger, onPanic func(*PanicInfo)) *RecoveryMiddleware {
	if log == nil {
		log = logger.Nop()
	}
	return &RecoveryMiddleware{log: log, onPanic: onPanic}
}

// Run calls fn and converts a panic into a *PanicInfo error.
func (m *RecoveryMiddleware) Run(telegramID int64, route string, fn func() error) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		info := &PanicInfo{
			Value:      rec,
			StackTrace: string(debug.Stack()),
			TelegramID: telegramID,
			Route:      route,
			Timestamp:  time.Now().UTC(),
		}
		m.log.Error("panic recovered in bot handler",
			logger.Int64("telegram_id", telegramID),
			logger.String("route", route),
			logger.Any("panic", rec),
			logger.String("stack", info.StackTrace),
		)
		if m.onPanic != nil {
			m.onPanic(info)
		}
		err = info
	}()
	return fn()
}
