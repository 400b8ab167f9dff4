// Package safe guards long-lived goroutines and user-supplied callbacks
// (message handlers, status bus consumers) so a panic inside one cannot
// take down the reader/writer tasks that own the socket.
package safe

import (
	"runtime/debug"

	"github.com/rskv-p/natscore/logger"
)

// Run executes fn, recovering and logging any panic with label instead of
// letting it propagate.
func Run(log logger.ILogger, label string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if log == nil {
				log = logger.Noop()
			}
			log.With("label", label).With("panic", r).Error("recovered panic")
			log.Debug("stacktrace:\n%s", string(debug.Stack()))
		}
	}()
	fn()
}
