package fluentd

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
)

// recordWriter receives one record walk. Containers announce their length up
// front because msgpack headers carry it; the JSON writer ignores it.
type recordWriter interface {
	beginObject(n int)
	endObject()
	key(k string)
	beginArray(n int)
	endArray()
	writeString(s string)
	writeInt(i int64)
	writeUint(u uint64)
	writeFloat(f float64, bits int)
	writeBool(b bool)
	writeNull()
	err() error
}

// jsonWriter writes compact JSON straight into a buffer, without going through
// an intermediate map, so key order is exactly the order of the walk.
type jsonWriter struct {
	buf      *bytes.Buffer
	first    []bool // one entry per open container
	afterKey bool
}

func newJSONWriter(buf *bytes.Buffer) *jsonWriter {
	return &jsonWriter{buf: buf, first: make([]bool, 0, 8)}
}

// sep writes the comma between container members.
func (w *jsonWriter) sep() {
	if w.afterKey {
		w.afterKey = false
		return
	}
	n := len(w.first)
	if n == 0 {
		return
	}
	if w.first[n-1] {
		w.first[n-1] = false
	} else {
		w.buf.WriteByte(',')
	}
}

func (w *jsonWriter) beginObject(int) {
	w.sep()
	w.buf.WriteByte('{')
	w.first = append(w.first, true)
}

func (w *jsonWriter) endObject() {
	w.first = w.first[:len(w.first)-1]
	w.buf.WriteByte('}')
}

func (w *jsonWriter) key(k string) {
	w.sep()
	writeQuotedJSON(w.buf, k)
	w.buf.WriteByte(':')
	w.afterKey = true
}

func (w *jsonWriter) beginArray(int) {
	w.sep()
	w.buf.WriteByte('[')
	w.first = append(w.first, true)
}

func (w *jsonWriter) endArray() {
	w.first = w.first[:len(w.first)-1]
	w.buf.WriteByte(']')
}

func (w *jsonWriter) writeString(s string) {
	w.sep()
	writeQuotedJSON(w.buf, s)
}

func (w *jsonWriter) writeInt(i int64) {
	w.sep()
	w.buf.Write(strconv.AppendInt(w.buf.AvailableBuffer(), i, 10))
}

func (w *jsonWriter) writeUint(u uint64) {
	w.sep()
	w.buf.Write(strconv.AppendUint(w.buf.AvailableBuffer(), u, 10))
}

func (w *jsonWriter) writeFloat(f float64, bits int) {
	w.sep()
	w.buf.Write(strconv.AppendFloat(w.buf.AvailableBuffer(), f, 'g', -1, bits))
}

func (w *jsonWriter) writeBool(b bool) {
	w.sep()
	w.buf.Write(strconv.AppendBool(w.buf.AvailableBuffer(), b))
}

func (w *jsonWriter) writeNull() {
	w.sep()
	w.buf.WriteString("null")
}

func (w *jsonWriter) err() error { return nil }

const hexChars = "0123456789abcdef"

// writeQuotedJSON writes s as a JSON string literal. Invalid UTF-8 is replaced
// with U+FFFD.
func writeQuotedJSON(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			buf.WriteString(s[start:i])
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				buf.WriteString(`\u00`)
				buf.WriteByte(hexChars[c>>4])
				buf.WriteByte(hexChars[c&0x0f])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString(s[start:i])
			buf.WriteString("\ufffd")
			i += size
			start = i
			continue
		}
		i += size
	}
	buf.WriteString(s[start:])
	buf.WriteByte('"')
}

// msgpackWriter forwards the walk to a msgpack.Encoder, collecting errors.
type msgpackWriter struct {
	enc  *msgpack.Encoder
	errs error
}

func (w *msgpackWriter) join(what string, err error) {
	if err != nil {
		w.errs = errors.Join(w.errs, fmt.Errorf("failed to encode %s: %w", what, err))
	}
}

func (w *msgpackWriter) beginObject(n int)    { w.join("map length", w.enc.EncodeMapLen(n)) }
func (w *msgpackWriter) endObject()           {}
func (w *msgpackWriter) key(k string)         { w.join("map key "+k, w.enc.EncodeString(k)) }
func (w *msgpackWriter) beginArray(n int)     { w.join("array length", w.enc.EncodeArrayLen(n)) }
func (w *msgpackWriter) endArray()            {}
func (w *msgpackWriter) writeString(s string) { w.join("string", w.enc.EncodeString(s)) }
func (w *msgpackWriter) writeInt(i int64)     { w.join("int", w.enc.EncodeInt(i)) }
func (w *msgpackWriter) writeUint(u uint64)   { w.join("uint", w.enc.EncodeUint(u)) }
func (w *msgpackWriter) writeBool(b bool)     { w.join("bool", w.enc.EncodeBool(b)) }
func (w *msgpackWriter) writeNull()           { w.join("nil", w.enc.EncodeNil()) }
func (w *msgpackWriter) err() error           { return w.errs }

func (w *msgpackWriter) writeFloat(f float64, bits int) {
	if bits == 32 {
		w.join("float32", w.enc.EncodeFloat32(float32(f)))
		return
	}
	w.join("float64", w.enc.EncodeFloat64(f))
}
