package fluentd

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Level is the severity of a LogEvent.
type Level int

const (
	LevelVerbose Level = iota
	LevelDebug
	LevelInformation
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = [...]string{
	LevelVerbose:     "Verbose",
	LevelDebug:       "Debug",
	LevelInformation: "Information",
	LevelWarning:     "Warning",
	LevelError:       "Error",
	LevelFatal:       "Fatal",
}

// String returns the level name as it appears in the record's `level` field.
func (l Level) String() string {
	if l < LevelVerbose || l > LevelFatal {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// Property is a named, structured value attached to a LogEvent.
type Property struct {
	Name  string
	Value Value
}

// LogEvent is one log event as handed to the Forwarder by the host pipeline.
// The core only reads it.
type LogEvent struct {
	Timestamp  time.Time
	Level      Level
	Template   *MessageTemplate
	Properties []Property
	Exception  *ExceptionRecord
}

// NewLogEvent parses the template text and attaches props as given, in order.
// Use Prop to capture native Go values.
func NewLogEvent(t time.Time, level Level, template string, props ...Property) *LogEvent {
	return &LogEvent{
		Timestamp:  t,
		Level:      level,
		Template:   ParseTemplate(template),
		Properties: props,
	}
}

// Prop is shorthand for a Property whose value is captured with ValueOf.
func Prop(name string, v any) Property {
	return Property{Name: name, Value: ValueOf(v)}
}

// property looks up a property by name; the last one wins on duplicates.
func (e *LogEvent) property(name string) (Value, bool) {
	for i := len(e.Properties) - 1; i >= 0; i-- {
		if e.Properties[i].Name == name {
			return e.Properties[i].Value, true
		}
	}
	return nil, false
}

// ExceptionRecord is one link of an exception chain. Cause points at the next
// (inner) record.
type ExceptionRecord struct {
	Message          string
	Source           string
	StackTraceString string
	HResult          int32
	HelpURL          string
	Cause            *ExceptionRecord
}

// ExceptionFromError converts err and everything reachable through
// errors.Unwrap into an exception chain. Joined errors follow their first
// branch. The chain is cut at maxExceptionDepth records, or at a nil pointer
// error, whose Error method cannot be called.
func ExceptionFromError(err error) *ExceptionRecord {
	var head, tail *ExceptionRecord
	for i := 0; err != nil && !isNilPointer(err) && i < maxExceptionDepth; i++ {
		rec := &ExceptionRecord{
			Message: err.Error(),
			Source:  reflect.TypeOf(err).String(),
		}
		if head == nil {
			head = rec
		} else {
			tail.Cause = rec
		}
		tail = rec
		err = unwrapOne(err)
	}
	return head
}

func unwrapOne(err error) error {
	if next := errors.Unwrap(err); next != nil {
		return next
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := joined.Unwrap(); len(errs) > 0 {
			return errs[0]
		}
	}
	return nil
}
