package fluentd

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	// ErrNilEvent is returned when serializing a nil *LogEvent.
	ErrNilEvent = errors.New("nil log event")

	// ErrEmptyPropertyName is returned for a property with an empty name.
	ErrEmptyPropertyName = errors.New("empty property name")

	// ErrNilValue is returned when a property, sequence element, dictionary
	// entry or structure member holds no Value at all.
	ErrNilValue = errors.New("nil property value")
)

const (
	// maxExceptionDepth is the number of exception records written per event;
	// the rest of a longer (or cyclic) chain is cut off.
	maxExceptionDepth = 21

	// utcTimeLayout is the round-trip format with 100ns precision and a
	// trailing Z, e.g. 2009-11-10T23:00:00.0000000Z.
	utcTimeLayout = "2006-01-02T15:04:05.0000000Z07:00"

	typeTagKey = "$type"
)

// Serialize renders one event as the JSON record carried in the third element
// of a wire message. Keys are written in a fixed order:
//
//	utctime, unixtime, @r (optional), level, exceptions (optional), properties...
//
// It only fails for a malformed event, in which case nothing usable was
// produced and the event should be skipped.
func Serialize(e *LogEvent) (string, error) {
	var buf bytes.Buffer
	if err := writeRecord(newJSONWriter(&buf), e); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// writeRecord walks the event in canonical key order. Panics raised while
// formatting user values are turned into errors.
func writeRecord(w recordWriter, e *LogEvent) (err error) {
	if e == nil {
		return ErrNilEvent
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to format log event: %v", r)
		}
	}()

	utc := e.Timestamp.UTC()
	formatted := e.Template.formattedTokens()

	n := 3 + len(e.Properties)
	if len(formatted) > 0 {
		n++
	}
	if e.Exception != nil {
		n++
	}

	w.beginObject(n)

	w.key("utctime")
	w.writeString(utc.Format(utcTimeLayout))
	w.key("unixtime")
	w.writeInt(utc.Unix())

	if len(formatted) > 0 {
		w.key("@r")
		w.beginArray(len(formatted))
		for _, pt := range formatted {
			w.writeString(pt.Render(e))
		}
		w.endArray()
	}

	w.key("level")
	w.writeString(e.Level.String())

	if e.Exception != nil {
		w.key("exceptions")
		writeExceptions(w, e.Exception)
	}

	for _, p := range e.Properties {
		if p.Name == "" {
			return ErrEmptyPropertyName
		}
		w.key(escapePropertyName(p.Name))
		if err := writeValue(w, p.Value); err != nil {
			return fmt.Errorf("property %q: %w", p.Name, err)
		}
	}

	w.endObject()
	return w.err()
}

// escapePropertyName doubles a leading '@'; bare '@' keys belong to the
// record format itself.
func escapePropertyName(name string) string {
	if len(name) > 0 && name[0] == '@' {
		return "@" + name
	}
	return name
}

// writeExceptions writes the chain outermost first, one object per record.
// Every field is a string.
func writeExceptions(w recordWriter, exc *ExceptionRecord) {
	n := 0
	for x := exc; x != nil && n < maxExceptionDepth; x = x.Cause {
		n++
	}

	w.beginArray(n)
	x := exc
	for depth := 0; depth < n; depth++ {
		w.beginObject(6)
		w.key("Depth")
		w.writeString(strconv.Itoa(depth))
		w.key("Message")
		w.writeString(x.Message)
		w.key("Source")
		w.writeString(x.Source)
		w.key("StackTraceString")
		w.writeString(x.StackTraceString)
		w.key("HResult")
		w.writeString(strconv.FormatInt(int64(x.HResult), 10))
		w.key("HelpURL")
		w.writeString(x.HelpURL)
		w.endObject()
		x = x.Cause
	}
	w.endArray()
}

// writeValue dispatches on the Value variant.
func writeValue(w recordWriter, v Value) error {
	switch x := v.(type) {
	case nil:
		return ErrNilValue

	case ScalarValue:
		writeScalar(w, x.V)

	case SequenceValue:
		w.beginArray(len(x.Elements))
		for _, e := range x.Elements {
			if err := writeValue(w, e); err != nil {
				return err
			}
		}
		w.endArray()

	case DictionaryValue:
		w.beginObject(len(x.Entries))
		for _, e := range x.Entries {
			w.key(dictionaryKey(e.Key))
			if err := writeValue(w, e.Value); err != nil {
				return err
			}
		}
		w.endObject()

	case StructureValue:
		n := len(x.Properties)
		if x.TypeTag != "" {
			n++
		}
		w.beginObject(n)
		for _, p := range x.Properties {
			w.key(p.Name)
			if err := writeValue(w, p.Value); err != nil {
				return err
			}
		}
		if x.TypeTag != "" {
			w.key(typeTagKey)
			w.writeString(x.TypeTag)
		}
		w.endObject()

	default:
		return fmt.Errorf("unsupported value variant %T", v)
	}
	return nil
}

func dictionaryKey(k ScalarValue) string {
	switch x := k.V.(type) {
	case nil:
		return "null"
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// writeScalar writes numbers and booleans as JSON literals and everything else
// as a string. Non-finite floats have no literal form and are written as
// "NaN", "Infinity" and "-Infinity".
func writeScalar(w recordWriter, v any) {
	switch x := v.(type) {
	case nil:
		w.writeNull()
	case string:
		w.writeString(x)
	case bool:
		w.writeBool(x)
	case int:
		w.writeInt(int64(x))
	case int8:
		w.writeInt(int64(x))
	case int16:
		w.writeInt(int64(x))
	case int32:
		w.writeInt(int64(x))
	case int64:
		w.writeInt(x)
	case uint:
		w.writeUint(uint64(x))
	case uint8:
		w.writeUint(uint64(x))
	case uint16:
		w.writeUint(uint64(x))
	case uint32:
		w.writeUint(uint64(x))
	case uint64:
		w.writeUint(x)
	case uintptr:
		w.writeUint(uint64(x))
	case float32:
		writeFloat(w, float64(x), 32)
	case float64:
		writeFloat(w, x, 64)
	case time.Time:
		w.writeString(x.Format(time.RFC3339Nano))
	case time.Duration:
		w.writeString(x.String())
	case []byte:
		w.writeString(base64.StdEncoding.EncodeToString(x))
	case error:
		if isNilPointer(x) {
			w.writeNull()
			return
		}
		w.writeString(x.Error())
	case fmt.Stringer:
		if isNilPointer(x) {
			w.writeNull()
			return
		}
		w.writeString(x.String())
	default:
		w.writeString(fmt.Sprint(x))
	}
}

func writeFloat(w recordWriter, f float64, bits int) {
	switch {
	case math.IsNaN(f):
		w.writeString("NaN")
	case math.IsInf(f, 1):
		w.writeString("Infinity")
	case math.IsInf(f, -1):
		w.writeString("-Infinity")
	default:
		w.writeFloat(f, bits)
	}
}
