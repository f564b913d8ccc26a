package recovery

// DegradationManager is the external feature-degradation registry. The
// coordinator only ever calls Recover, and only after a successful recovery;
// degrading a service is triggered elsewhere.
type DegradationManager interface {
	// Degrade puts the named service into a reduced-functionality mode.
	Degrade(name string, level int)

	// Recover restores full functionality for the named service.
	Recover(name string)

	// IsDegraded reports whether the named service is degraded.
	IsDegraded(name string) bool
}

// Logger is the minimal logging surface the coordinator writes to. The
// default is a no-op; callers plug in their own implementation.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
