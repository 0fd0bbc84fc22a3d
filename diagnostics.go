package fluentd

import (
	"log"
	"os"
	"reflect"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

var internalLogger atomic.Value

func init() {
	internalLogger.Store(log.New(os.Stderr, "[fluentd] ", log.LstdFlags))
}

// InternalLogger returns the Logger used to write out internal logs, where logs
// get written when something goes wrong in the forwarding stack itself.
func InternalLogger() *log.Logger { return internalLogger.Load().(*log.Logger) }

// SetInternalLogger makes l the internal logger.
func SetInternalLogger(l *log.Logger) {
	internalLogger.Store(l)
}

// DiagnosticSink receives the Forwarder's self-diagnostics: one line per
// serialization failure or failed send attempt. Implementations must not
// block for long; a panic is recovered and discarded.
type DiagnosticSink interface {
	Diagnose(msg string)
}

// DiagnosticFunc adapts a plain function to a DiagnosticSink.
type DiagnosticFunc func(msg string)

func (f DiagnosticFunc) Diagnose(msg string) { f(msg) }

type loggerDiagnostics struct {
	l *log.Logger
}

func (d loggerDiagnostics) Diagnose(msg string) {
	l := d.l
	if l == nil {
		l = InternalLogger()
	}
	l.Println(msg)
}

// LoggerDiagnostics writes diagnostics to l. A nil l means the internal logger
// at the time of each write.
func LoggerDiagnostics(l *log.Logger) DiagnosticSink {
	return loggerDiagnostics{l: l}
}

type zapDiagnostics struct {
	l *zap.Logger
}

func (d zapDiagnostics) Diagnose(msg string) {
	d.l.Warn(msg, zap.String("component", "fluentd"))
}

// ZapDiagnostics writes diagnostics to l at warn level.
func ZapDiagnostics(l *zap.Logger) DiagnosticSink {
	return zapDiagnostics{l: l}
}

// usableSink reports whether d can take a diagnostic. Typed nils such as
// DiagnosticFunc(nil) or ZapDiagnostics(nil) cannot.
func usableSink(d DiagnosticSink) bool {
	switch s := d.(type) {
	case nil:
		return false
	case zapDiagnostics:
		return s.l != nil
	}

	rv := reflect.ValueOf(d)
	switch rv.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// diagnose delivers a single-line diagnostic and swallows any panic from the
// sink.
func diagnose(sink DiagnosticSink, msg string) {
	defer func() { _ = recover() }()
	sink.Diagnose(oneLine(msg))
}

var lineFolder = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return lineFolder.Replace(s)
}
