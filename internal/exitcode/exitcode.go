// Package exitcode computes the process exit status from a run's terminal
// error and whether anything was logged at error severity.
package exitcode

// Process exit statuses.
const (
	// Success is a clean shutdown with no errors logged.
	Success = 0
	// Failure is any registration or wait error, or a clean shutdown after
	// an error was logged.
	Failure = 1
)

// ErrorReporter reports whether an error-severity record was logged during
// the run. [logger.Tracker] implements it.
type ErrorReporter interface {
	ErrorLogged() bool
}

// Classify returns Failure when err is non-nil, whatever r reports.
// Otherwise it returns Failure if r reports a logged error and Success if not.
// A nil r counts as nothing logged.
func Classify(err error, r ErrorReporter) int {
	if err != nil {
		return Failure
	}
	if r != nil && r.ErrorLogged() {
		return Failure
	}
	return Success
}

// Name returns a short human-readable name for code.
func Name(code int) string {
	switch code {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}
