package lnchain

import (
	"github.com/chainsource/lnchain/build"
	"github.com/chainsource/lnchain/chainsource"
	"github.com/chainsource/lnchain/chainsource/bitcoind"
	"github.com/chainsource/lnchain/chainsource/electrum"
	"github.com/chainsource/lnchain/chainsource/esplora"
	"github.com/decred/slog"
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	slog.Logger
	subsystem string
}

// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling InitLogRotator() on the root log writer.
var (
	// pkgLoggers is the list of all package-level loggers registered
	// before a root logger exists, so they can be replaced once
	// SetupLoggers runs.
	pkgLoggers []*replaceableLogger

	addPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		pkgLoggers = append(pkgLoggers, l)
		return l
	}

	// chsrLog is the logger used by the top-level chainsource package
	// (SyncCoordinator, ChainSource dispatch, drivers).
	chsrLog = addPkgLogger("CHSR")
)

// SetupLoggers initializes all package-global logger variables against the
// given root writer, registering one subsystem tag per package.
func SetupLoggers(root *build.RotatingLogWriter) {
	for _, l := range pkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, root.GenSubLogger)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	chainsource.UseLogger(chsrLog)

	AddSubLogger(root, "ESPL", esplora.UseLogger)
	AddSubLogger(root, "ELEC", electrum.UseLogger)
	AddSubLogger(root, "BTCD", bitcoind.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	useLoggers ...func(slog.Logger)) {

	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// sub system.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger slog.Logger, useLoggers ...func(slog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// logClosure is used to provide a closure over expensive logging operations
// so they aren't performed when the logging level doesn't warrant it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with
// the logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
