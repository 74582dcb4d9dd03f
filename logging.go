package grblcore

// Logger is the narrow subset of charmbracelet/log's *log.Logger that this
// package depends on, so callers can pass a real structured logger (or a
// sub-logger created with .With(...)) without grblcore importing the
// concrete type anywhere but the cmd/ binaries.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger discards everything. Used as a safe default and in tests that
// don't care about log output.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Warnf(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}
