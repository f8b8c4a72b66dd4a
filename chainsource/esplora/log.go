package esplora

import "github.com/decred/slog"

// log is this package's subsystem logger, wired up by the root package's
// SetupLoggers via UseLogger.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by Client.
func UseLogger(logger slog.Logger) {
	log = logger
}
