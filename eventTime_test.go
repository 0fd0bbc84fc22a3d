package fluentd

import (
	"bytes"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestEventTime_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input time.Time
	}{
		{"whole seconds", time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)},
		{"nanoseconds", time.Date(2024, time.March, 1, 12, 0, 0, 123_456_789, time.UTC)},
		{"after 2038", time.Date(2040, time.January, 1, 0, 0, 0, 1, time.UTC)},
		{"non-UTC zone", time.Date(2024, time.March, 1, 14, 0, 0, 5, time.FixedZone("EET", 2*3600))},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			et := EventTime(tt.input)
			buf := &bytes.Buffer{}
			if err := msgpack.NewEncoder(buf).Encode(&et); err != nil {
				t.Fatalf("failed to encode EventTime: %v", err)
			}
			if buf.Len() != 10 {
				t.Fatalf("expected 10 bytes, got: %d", buf.Len())
			}
			if b := buf.Bytes(); b[0] != 0xd7 || b[1] != 0x00 {
				t.Fatalf("unexpected header: % x", b[:2])
			}

			var back EventTime
			if err := msgpack.NewDecoder(buf).Decode(&back); err != nil {
				t.Fatalf("failed to decode EventTime: %v", err)
			}
			if !time.Time(back).Equal(tt.input) {
				t.Fatalf("orig: %v, decoded: %v", tt.input, time.Time(back))
			}
		})
	}
}

func TestEventTime_DecodeRejectsOtherExtensions(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := msgpack.NewEncoder(buf).Encode(time.Unix(1, 0)); err != nil {
		t.Fatalf("failed to encode time: %v", err)
	}

	var et EventTime
	if err := msgpack.NewDecoder(buf).Decode(&et); err == nil {
		t.Fatal("expected the msgpack timestamp extension to be rejected")
	}
}

func TestEncoderPool_SubSecondTime(t *testing.T) {
	ep, err := newEncoderPool("app", MsgpackCodec, 0, 0)
	if err != nil {
		t.Fatalf("failed to create encoderPool: %v", err)
	}
	ep.subSecond = true

	e := testEvent(4)
	enc, err := ep.Encode(e)
	if err != nil {
		t.Fatalf("failed to Encode: %v", err)
	}
	defer enc.Free()

	dec := msgpack.NewDecoder(bytes.NewReader(enc.Buffer.Bytes()))
	if n, err := dec.DecodeArrayLen(); err != nil || n != 3 {
		t.Fatalf("unexpected array header: %d, %v", n, err)
	}
	if tag, err := dec.DecodeString(); err != nil || tag != "app" {
		t.Fatalf("unexpected tag: %s, %v", tag, err)
	}
	var et EventTime
	if err := dec.Decode(&et); err != nil {
		t.Fatalf("failed to decode EventTime: %v", err)
	}
	if !time.Time(et).Equal(e.Timestamp) {
		t.Fatalf("expected: %v, got: %v", e.Timestamp, time.Time(et))
	}
	if n, err := dec.DecodeMapLen(); err != nil || n != 4 {
		t.Fatalf("unexpected record header: %d, %v", n, err)
	}
}
