package indexerlib

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/api"
	"github.com/planetdecred/indexerlib/heightprobe"
	"github.com/planetdecred/indexerlib/installer"
	"github.com/planetdecred/indexerlib/progress"
	"github.com/planetdecred/indexerlib/supervisor"
	"github.com/planetdecred/indexerlib/syncstate"
)

const (
	logDirName  = "logs"
	logFileName = "indexerlib.log"

	maxLogRolls   = 8
	logRollSizeKB = 32 * 1024

	defaultLogLevel = "info"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)

	rotatorMu.Lock()
	if logRotator != nil {
		logRotator.Write(p)
	}
	rotatorMu.Unlock()
	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it will write to the backend. When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem loggers.
	// The backend must not be used before the log rotator has been initialized,
	// or data races and/or nil pointer dereferences will occur.
	backendLog = slog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator
	rotatorMu  sync.Mutex

	log     = backendLog.Logger("ILDR")
	supvLog = backendLog.Logger("SUPV")
	instLog = backendLog.Logger("INST")
	progLog = backendLog.Logger("PROG")
	prbeLog = backendLog.Logger("PRBE")
	statLog = backendLog.Logger("STAT")
	apiLog  = backendLog.Logger("API")
)

// Initialize package-global logger variables.
func init() {
	supervisor.UseLogger(supvLog)
	installer.UseLogger(instLog)
	progress.UseLogger(progLog)
	heightprobe.UseLogger(prbeLog)
	syncstate.UseLogger(statLog)
	api.UseLogger(apiLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]slog.Logger{
	"ILDR": log,
	"SUPV": supvLog,
	"INST": instLog,
	"PROG": progLog,
	"PRBE": prbeLog,
	"STAT": statLog,
	"API":  apiLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}

	r, err := rotator.New(logFile, logRollSizeKB, false, maxLogRolls)
	if err != nil {
		return errors.Wrap(err, "failed to create file rotator")
	}

	rotatorMu.Lock()
	if logRotator != nil {
		logRotator.Close()
	}
	logRotator = r
	rotatorMu.Unlock()
	return nil
}

func closeLogRotator() {
	rotatorMu.Lock()
	defer rotatorMu.Unlock()

	if logRotator != nil {
		logRotator.Close()
		logRotator = nil
	}
}

// setLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored. Uninitialized subsystems are dynamically created as
// needed.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level. It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
func setLogLevels(logLevel string) {
	// Configure all sub-systems with the new logging level. Dynamically
	// create loggers as needed.
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// validLogLevel reports whether level names a known slog level.
func validLogLevel(level string) bool {
	_, ok := slog.LevelFromString(level)
	return ok
}
