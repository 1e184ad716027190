package domain

import "context"

// FaultReporter is the narrow interface through which components report
// faults to the Error Recovery System. Components hold a reporter, never a
// reference to the recovery system itself, keeping the dependency
// one-directional.
type FaultReporter interface {
	ReportError(ctx context.Context, component string, kind ErrorKind, severity ErrorSeverity, message string, fields map[string]string)
}

// NopReporter discards all reports. Useful for tests and optional wiring.
type NopReporter struct{}

func (NopReporter) ReportError(context.Context, string, ErrorKind, ErrorSeverity, string, map[string]string) {
}
