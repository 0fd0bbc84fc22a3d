package fluentd

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	minBufferCap        = 64
	defaultNewBufferCap = 1024
	defaultMaxBufferCap = 8192
)

// encoderPool is a shared *Encoder pool, used to minimize heap allocations.
// Every Encoder in the pool has the message prelude (the opening of the outer
// array and the tag) already encoded; it is encoded once, when the pool is
// built, and copied into new Encoders.
type encoderPool struct {
	p            sync.Pool
	codec        Codec
	subSecond    bool // msgpack only: EventTime instead of integer seconds
	prelude      []byte
	newBufferCap int
	maxBufferCap int
}

func newEncoderPool(tag string, codec Codec, newBufferCap, maxBufferCap int) (*encoderPool, error) {
	ep := &encoderPool{
		codec:        codec,
		newBufferCap: max(newBufferCap, minBufferCap),
	}
	ep.maxBufferCap = max(ep.newBufferCap, maxBufferCap)

	var buf bytes.Buffer
	switch codec {
	case JSONCodec:
		buf.WriteByte('[')
		writeQuotedJSON(&buf, tag)
		buf.WriteByte(',')
	case MsgpackCodec:
		enc := msgpack.NewEncoder(&buf)
		if err := enc.EncodeArrayLen(3); err != nil {
			return nil, fmt.Errorf("failed to encode message array len: %w", err)
		}
		if err := enc.EncodeString(tag); err != nil {
			return nil, fmt.Errorf("failed to encode message tag: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported codec: %d", codec)
	}
	ep.prelude = buf.Bytes()

	ep.p = sync.Pool{
		New: func() any {
			enc := newEncoder(ep.newBufferCap)
			enc.p = ep
			enc.Buffer.Write(ep.prelude)
			return enc
		},
	}

	return ep, nil
}

// Get returns an Encoder with the prelude pre-rendered.
func (p *encoderPool) Get() *Encoder {
	return p.p.Get().(*Encoder)
}

// Put resets an Encoder and returns it to the shared pool.
func (p *encoderPool) Put(e *Encoder) {

	// drop if the buffer got too large
	if e.Buffer.Cap() > p.maxBufferCap {
		return
	}

	// reset for the next usage
	e.Buffer.Truncate(len(p.prelude))
	e.Encoder.Reset(e.Buffer)

	p.p.Put(e)
}

// Encode builds the complete wire message for one event. On error the
// Encoder has already been returned to the pool.
func (p *encoderPool) Encode(e *LogEvent) (*Encoder, error) {
	if e == nil {
		return nil, ErrNilEvent
	}

	enc := p.Get()
	unix := e.Timestamp.UTC().Unix()

	var err error
	switch p.codec {
	case JSONCodec:
		enc.Buffer.Write(strconv.AppendInt(enc.Buffer.AvailableBuffer(), unix, 10))
		enc.Buffer.WriteByte(',')
		err = writeRecord(newJSONWriter(enc.Buffer), e)
		enc.Buffer.WriteByte(']')
	case MsgpackCodec:
		if p.subSecond {
			et := EventTime(e.Timestamp)
			err = et.EncodeMsgpack(enc.Encoder)
		} else {
			err = enc.EncodeInt(unix)
		}
		if err == nil {
			err = writeRecord(&msgpackWriter{enc: enc.Encoder}, e)
		}
	}

	if err != nil {
		enc.Free()
		return nil, err
	}
	return enc, nil
}

// Encoder holds one wire message: a msgpack encoder and its underlying
// bytes.Buffer. The JSON codec writes into the buffer directly.
type Encoder struct {
	*bytes.Buffer
	*msgpack.Encoder
	p *encoderPool
}

func newEncoder(bufferCap int) *Encoder {
	buf := bytes.NewBuffer(make([]byte, 0, bufferCap))
	return &Encoder{
		Buffer:  buf,
		Encoder: msgpack.NewEncoder(buf),
	}
}

// Free returns the encoder to the shared pool after eagerly resetting it.
func (e *Encoder) Free() {
	if e.p != nil {
		e.p.Put(e)
	}
}
