package fluentd

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Value is a structured property value. The set of variants is closed:
// ScalarValue, SequenceValue, DictionaryValue and StructureValue.
type Value interface {
	render(sb *strings.Builder, format string)
	value()
}

// ScalarValue holds a single primitive: nil, string, bool, an integer or float
// type, time.Time, time.Duration, or anything else, which is stringified.
type ScalarValue struct {
	V any
}

// SequenceValue is an ordered list of values.
type SequenceValue struct {
	Elements []Value
}

// DictionaryEntry is one key/value pair of a DictionaryValue.
type DictionaryEntry struct {
	Key   ScalarValue
	Value Value
}

// DictionaryValue is an ordered mapping keyed by scalars.
type DictionaryValue struct {
	Entries []DictionaryEntry
}

// StructureValue is an object with named properties. A non-empty TypeTag is
// written as the `$type` discriminator.
type StructureValue struct {
	TypeTag    string
	Properties []Property
}

func (ScalarValue) value()     {}
func (SequenceValue) value()   {}
func (DictionaryValue) value() {}
func (StructureValue) value()  {}

// maxValueDepth bounds how deep ValueOf descends into nested Go values.
const maxValueDepth = 10

// ValueOf captures a native Go value as a Value. Values that already are a
// Value are returned as is. Slices and arrays become sequences, maps become
// dictionaries with keys sorted by their text, and structs become structures
// tagged with their type name. time.Time, time.Duration, errors and
// fmt.Stringers stay scalar.
func ValueOf(v any) Value {
	return valueOf(v, 0)
}

func valueOf(v any, depth int) Value {
	switch x := v.(type) {
	case nil:
		return ScalarValue{}
	case Value:
		return x
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32,
		uint64, uintptr, float32, float64, time.Time, time.Duration, []byte:
		return ScalarValue{V: x}
	case error, fmt.Stringer:
		if isNilPointer(x) {
			return ScalarValue{}
		}
		return ScalarValue{V: x}
	}

	if depth >= maxValueDepth {
		return ScalarValue{V: fmt.Sprint(v)}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ScalarValue{}
		}
		return valueOf(rv.Elem().Interface(), depth+1)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return SequenceValue{}
		}
		elems := make([]Value, rv.Len())
		for i := range elems {
			elems[i] = valueOf(rv.Index(i).Interface(), depth+1)
		}
		return SequenceValue{Elements: elems}

	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		entries := make([]DictionaryEntry, len(keys))
		for i, k := range keys {
			entries[i] = DictionaryEntry{
				Key:   ScalarValue{V: k.Interface()},
				Value: valueOf(rv.MapIndex(k).Interface(), depth+1),
			}
		}
		return DictionaryValue{Entries: entries}

	case reflect.Struct:
		rt := rv.Type()
		props := make([]Property, 0, rt.NumField())
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			props = append(props, Property{
				Name:  f.Name,
				Value: valueOf(rv.Field(i).Interface(), depth+1),
			})
		}
		return StructureValue{TypeTag: rt.Name(), Properties: props}
	}

	return ScalarValue{V: v}
}

// isNilPointer reports whether v is a nil pointer behind a non-nil interface.
// Calling a value-receiver method through it panics.
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// render writes the human-readable text of the scalar, applying format.
//
//	"l"        strings are written without quotes
//	time.Time  format is a Go reference layout
//	otherwise  format is a fmt verb; the leading '%' may be omitted
func (s ScalarValue) render(sb *strings.Builder, format string) {
	switch x := s.V.(type) {
	case nil:
		sb.WriteString("null")
		return
	case string:
		switch format {
		case "l":
			sb.WriteString(x)
		case "":
			sb.WriteString(strconv.Quote(x))
		default:
			fmt.Fprintf(sb, verb(format), x)
		}
		return
	case time.Time:
		if format == "" {
			sb.WriteString(x.Format(time.RFC3339Nano))
		} else {
			sb.WriteString(x.Format(format))
		}
		return
	}

	if format == "" {
		fmt.Fprint(sb, s.V)
		return
	}
	fmt.Fprintf(sb, verb(format), s.V)
}

func verb(format string) string {
	if strings.HasPrefix(format, "%") {
		return format
	}
	return "%" + format
}

func (s SequenceValue) render(sb *strings.Builder, format string) {
	sb.WriteByte('[')
	for i, e := range s.Elements {
		if i > 0 {
			sb.WriteString(", ")
		}
		renderValue(sb, e, format)
	}
	sb.WriteByte(']')
}

func (d DictionaryValue) render(sb *strings.Builder, format string) {
	sb.WriteByte('[')
	for i, e := range d.Entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		e.Key.render(sb, "")
		sb.WriteString(": ")
		renderValue(sb, e.Value, format)
		sb.WriteByte(')')
	}
	sb.WriteByte(']')
}

func (s StructureValue) render(sb *strings.Builder, format string) {
	if s.TypeTag != "" {
		sb.WriteString(s.TypeTag)
		sb.WriteByte(' ')
	}
	sb.WriteString("{ ")
	for i, p := range s.Properties {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Name)
		sb.WriteString(": ")
		renderValue(sb, p.Value, format)
	}
	sb.WriteString(" }")
}

func renderValue(sb *strings.Builder, v Value, format string) {
	if v == nil {
		sb.WriteString("null")
		return
	}
	v.render(sb, format)
}
