// +build filelog

package build

import "os"

// debugLogFileEnvVar overrides the default debug log path when set. A
// library embedded in someone else's daemon has no install directory of
// its own to write into by default, unlike a standalone node binary, so
// the caller gets to pick where this goes.
const debugLogFileEnvVar = "LNCHAIN_DEBUG_LOGFILE"

const defaultDebugLogFile = "lnchain-debug.log"

var logf *os.File

// LoggingType is a log type that writes to a file, for debug builds tagged
// with "filelog". Output also continues to go to stdout, since LogWriter is
// layered in via io.MultiWriter in NewRotatingLogWriter, not used in place
// of it.
const LoggingType = LogTypeStdOut

// Write appends b to the debug log file opened in init.
func (w *LogWriter) Write(b []byte) (int, error) {
	return logf.Write(b)
}

func init() {
	path := os.Getenv(debugLogFileEnvVar)
	if path == "" {
		path = defaultDebugLogFile
	}

	var err error
	logf, err = os.Create(path)
	if err != nil {
		panic(err)
	}
}
