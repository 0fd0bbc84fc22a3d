package fluentd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const testHost = "127.0.0.1"
const testTag = "test-tag"

// testMessage is one decoded wire message:
// [
//
//	tag<string>,
//	time<int>,
//	record<map[string]any>
//
// ]
type testMessage struct {
	Tag    string
	Time   int64
	Record map[string]any
	Keys   []string // record keys in wire order
}

// decodeJSONMessage decodes one JSON wire message. Numbers are kept as
// json.Number.
func decodeJSONMessage(raw json.RawMessage) (*testMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("failed to decode outer message array: %v", err)
	}
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 message elements, got %d", len(parts))
	}

	m := new(testMessage)
	if err := json.Unmarshal(parts[0], &m.Tag); err != nil {
		return nil, fmt.Errorf("failed to decode tag field: %v", err)
	}
	if err := json.Unmarshal(parts[1], &m.Time); err != nil {
		return nil, fmt.Errorf("failed to decode time field: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(parts[2]))
	dec.UseNumber()
	if err := dec.Decode(&m.Record); err != nil {
		return nil, fmt.Errorf("failed to decode record field: %v", err)
	}

	keys, err := jsonKeys(parts[2])
	if err != nil {
		return nil, err
	}
	m.Keys = keys
	return m, nil
}

// jsonKeys returns the top-level keys of a JSON object in document order.
func jsonKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))

		// skip the value
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// decodeMsgpackMessage decodes one msgpack wire message.
func decodeMsgpackMessage(dec *msgpack.Decoder) (*testMessage, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 3 {
		return nil, fmt.Errorf("expected 3 message elements, got %d", n)
	}

	m := &testMessage{Record: map[string]any{}}
	if m.Tag, err = dec.DecodeString(); err != nil {
		return nil, fmt.Errorf("failed to decode tag field: %v", err)
	}
	if m.Time, err = dec.DecodeInt64(); err != nil {
		return nil, fmt.Errorf("failed to decode time field: %v", err)
	}

	nKeys, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("failed to decode record length: %v", err)
	}
	for i := 0; i < nKeys; i++ {
		k, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("failed to decode record key: %v", err)
		}
		v, err := dec.DecodeInterface()
		if err != nil {
			return nil, fmt.Errorf("failed to decode record value for %s: %v", k, err)
		}
		m.Keys = append(m.Keys, k)
		m.Record[k] = v
	}
	return m, nil
}

// testServer is an in-process collector that decodes the concatenated wire
// stream of every accepted connection into messageCh.
type testServer struct {
	listener  net.Listener
	codec     Codec
	port      int
	messageCh chan *testMessage
	accepted  atomic.Int32
	verbose   bool

	mu    sync.Mutex
	conns []net.Conn
}

func newTestServer(t *testing.T, codec Codec) *testServer {
	t.Helper()

	// assign port dynamically (use port 0 to assign dynamically)
	l, err := net.Listen("tcp", testHost+":0")
	if err != nil {
		t.Fatalf("failed to start test server listener: %v", err)
	}

	s := &testServer{
		listener:  l,
		codec:     codec,
		port:      l.Addr().(*net.TCPAddr).Port,
		messageCh: make(chan *testMessage, 256),
	}

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				s.debug("listener.Accept() error: %v", err)
				return
			}
			s.accepted.Add(1)
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			go s.handle(conn)
		}
	}()

	t.Cleanup(s.Shutdown)
	return s
}

func (s *testServer) Shutdown() {
	s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
}

func (s *testServer) handle(conn net.Conn) {
	defer conn.Close()

	switch s.codec {
	case JSONCodec:
		dec := json.NewDecoder(conn)
		for {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				s.debug("failed to decode JSON message: %v", err)
				return
			}
			m, err := decodeJSONMessage(raw)
			if err != nil {
				s.debug("%v", err)
				return
			}
			s.messageCh <- m
		}
	case MsgpackCodec:
		dec := msgpack.NewDecoder(conn)
		for {
			m, err := decodeMsgpackMessage(dec)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.debug("failed to decode msgpack message: %v", err)
				}
				return
			}
			s.messageCh <- m
		}
	}
}

// receive waits for n messages.
func (s *testServer) receive(t *testing.T, n int) []*testMessage {
	t.Helper()

	out := make([]*testMessage, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case m := <-s.messageCh:
			out = append(out, m)
		case <-timeout:
			t.Fatalf("received %d of %d expected messages", len(out), n)
		}
	}
	return out
}

// expectNothing fails if a message arrives within a short grace period.
func (s *testServer) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case m := <-s.messageCh:
		t.Fatalf("expected no message, got: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *testServer) debug(format string, args ...any) {
	if !s.verbose {
		return
	}
	InternalLogger().Printf("testServer: "+format, args...)
}

// diagRecorder is a DiagnosticSink that keeps every message.
type diagRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (d *diagRecorder) Diagnose(msg string) {
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	d.mu.Unlock()
}

func (d *diagRecorder) messages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.msgs...)
}

// newTestForwarder returns a Forwarder pointed at ts (when not nil) that
// records diagnostics.
func newTestForwarder(t *testing.T, ts *testServer, s *Settings) (*Forwarder, *diagRecorder) {
	t.Helper()

	if s == nil {
		s = &Settings{}
	}
	if s.Tag == "" {
		s.Tag = testTag
	}
	s.Host = testHost
	if ts != nil {
		s.Port = ts.port
		s.Codec = ts.codec
	}
	if s.SendTimeout == 0 {
		s.SendTimeout = time.Second
	}

	diag := &diagRecorder{}
	f, err := NewForwarderCustom(s, diag)
	if err != nil {
		t.Fatalf("failed to create Forwarder: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, diag
}

var errInjected = errors.New("injected failure")

// failDials makes the first n dials of f fail. It returns the dial counter.
// A negative n fails every dial.
func failDials(f *Forwarder, n int) *atomic.Int32 {
	var calls atomic.Int32
	next := f.dial
	f.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		c := int(calls.Add(1))
		if n < 0 || c <= n {
			return nil, errInjected
		}
		return next(ctx, network, addr)
	}
	return &calls
}

// failingConn is a net.Conn whose writes always fail.
type failingConn struct {
	net.Conn
	closed atomic.Bool
}

func (c *failingConn) Write([]byte) (int, error) { return 0, errInjected }

func (c *failingConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

func testEvent(seq int) *LogEvent {
	return NewLogEvent(
		time.Date(2024, time.March, 1, 12, 0, seq, 250_000_000, time.UTC),
		LevelInformation,
		"event {Seq}",
		Prop("Seq", seq),
	)
}

func seqOf(t *testing.T, m *testMessage) string {
	t.Helper()
	v, ok := m.Record["Seq"]
	if !ok {
		t.Fatalf("record without Seq: %+v", m.Record)
	}
	return fmt.Sprint(v)
}

func itoa(i int) string { return strconv.Itoa(i) }

func keysString(keys []string) string { return strings.Join(keys, ",") }
