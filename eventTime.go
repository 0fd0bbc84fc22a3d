package fluentd

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventTime is the Fluent forward protocol's sub-second timestamp. It is sent
// in place of the integer seconds of a msgpack message when
// Settings.SubSecondTime is set. The protocol defines its own extension
// (type 0) rather than the msgpack timestamp extension (type -1):
//
//	+-------+----+----+----+----+----+----+----+----+----+
//	|     1 |  2 |  3 |  4 |  5 |  6 |  7 |  8 |  9 | 10 |
//	+-------+----+----+----+----+----+----+----+----+----+
//	|    D7 | 00 | second from epoch |     nanosecond    |
//	+-------+----+----+----+----+----+----+----+----+----+
//	|fixext8|type| 32bits integer BE | 32bits integer BE |
//	+-------+----+----+----+----+----+----+----+----+----+
//
//	ref: https://github.com/fluent/fluentd/wiki/Forward-Protocol-Specification-v1#eventtime-ext-format
type EventTime time.Time

var _ msgpack.CustomEncoder = (*EventTime)(nil)
var _ msgpack.CustomDecoder = (*EventTime)(nil)

const (
	eventTimeExtType = 0
	eventTimeLen     = 8
)

// EncodeMsgpack writes t as the type 0 extension. Seconds are unsigned 32 bit,
// so only instants from 1970 to 2106 survive a round trip.
func (t *EventTime) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeExtHeader(eventTimeExtType, eventTimeLen); err != nil {
		return fmt.Errorf("failed to encode EventTime header: %w", err)
	}

	utc := time.Time(*t).UTC()

	var body [eventTimeLen]byte
	binary.BigEndian.PutUint32(body[:4], uint32(utc.Unix()))
	binary.BigEndian.PutUint32(body[4:], uint32(utc.Nanosecond()))

	if _, err := enc.Writer().Write(body[:]); err != nil {
		return fmt.Errorf("failed to encode EventTime body: %w", err)
	}
	return nil
}

// DecodeMsgpack reads the type 0 extension back into t, in UTC.
func (t *EventTime) DecodeMsgpack(dec *msgpack.Decoder) error {
	extID, extLen, err := dec.DecodeExtHeader()
	if err != nil {
		return fmt.Errorf("failed to decode EventTime header: %w", err)
	}
	if extID != eventTimeExtType || extLen != eventTimeLen {
		return fmt.Errorf("failed to decode EventTime: ext type %d len %d, expected type %d len %d",
			extID, extLen, eventTimeExtType, eventTimeLen)
	}

	var body [eventTimeLen]byte
	if err := dec.ReadFull(body[:]); err != nil {
		return fmt.Errorf("failed to decode EventTime body: %w", err)
	}

	secs := int64(binary.BigEndian.Uint32(body[:4]))
	nsecs := int64(binary.BigEndian.Uint32(body[4:]))
	*t = EventTime(time.Unix(secs, nsecs).UTC())
	return nil
}
