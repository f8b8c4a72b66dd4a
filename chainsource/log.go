package chainsource

import "github.com/decred/slog"

// log is this package's subsystem logger, one package-level var per
// subsystem, wired up via UseLogger.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by the sync coordinator,
// chain source dispatch and drivers in this package.
func UseLogger(logger slog.Logger) {
	log = logger
}
