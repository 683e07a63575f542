package wisent

// Logger is the logging hook of the environment. The method set matches
// *log/slog.Logger, so one can be passed in directly; any structured
// logger adapts with a four-method shim. The engine logs sparingly: map
// growth, meta recovery, stale reader eviction, commit debugging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
