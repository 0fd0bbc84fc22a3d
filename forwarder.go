package fluentd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitdabbler/backoff"
)

var (
	// ErrNilSettings is returned by the constructors when settings are nil.
	ErrNilSettings = errors.New("settings required")

	// ErrNilDiagnostics is returned by NewForwarderCustom for a nil sink,
	// including typed nils such as DiagnosticFunc(nil).
	ErrNilDiagnostics = errors.New("diagnostic sink required")

	// ErrForwarderClosed is the failure recorded for events emitted after
	// Close.
	ErrForwarderClosed = errors.New("forwarder closed")
)

// Forwarder delivers log events to a Fluentd collector over one persistent
// connection. The connection is opened lazily, torn down on any I/O error and
// reopened by the next attempt.
//
// EmitBatch never returns an error: events that cannot be serialized, or
// that exhaust their attempts, are dropped and reported to the DiagnosticSink.
type Forwarder struct {
	settings Settings
	addr     string
	pool     *encoderPool
	diag     DiagnosticSink

	// sendMu is held across connect-or-reuse and write, so at most one such
	// sequence runs at a time.
	sendMu sync.Mutex

	// connMu guards conn only; Close takes it without waiting for sendMu so
	// an in-flight write fails fast.
	connMu sync.Mutex
	conn   net.Conn
	closed atomic.Bool

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	delivered      atomic.Uint64
	dropped        atomic.Uint64
	serializeFails atomic.Uint64
	failedAttempts atomic.Uint64
	connects       atomic.Uint64
}

// Stats is a snapshot of a Forwarder's counters.
type Stats struct {
	Delivered             uint64
	Dropped               uint64
	SerializationFailures uint64
	FailedAttempts        uint64
	Connects              uint64
}

// NewForwarder creates a Forwarder that reports diagnostics to the internal
// logger. No connection is made until the first event is sent.
func NewForwarder(settings *Settings) (*Forwarder, error) {
	return NewForwarderCustom(settings, LoggerDiagnostics(nil))
}

// NewForwarderCustom creates a Forwarder that reports diagnostics to diag.
func NewForwarderCustom(settings *Settings, diag DiagnosticSink) (*Forwarder, error) {
	if settings == nil {
		return nil, ErrNilSettings
	}
	if !usableSink(diag) {
		return nil, ErrNilDiagnostics
	}

	// private copy; the caller's value is never touched
	s := *settings
	s.resolve()

	pool, err := newEncoderPool(s.Tag, s.Codec, defaultNewBufferCap, defaultMaxBufferCap)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pool: %w", err)
	}
	pool.subSecond = s.SubSecondTime && s.Codec == MsgpackCodec

	f := &Forwarder{
		settings: s,
		addr:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		pool:     pool,
		diag:     diag,
	}
	f.dial = f.dialContext

	f.debug("starting Forwarder with the resolved Settings: %+v", f.settings)

	return f, nil
}

// Settings returns a copy of the resolved settings.
func (f *Forwarder) Settings() Settings { return f.settings }

// EmitBatch serializes and sends each event in order. A failing event never
// affects the ones after it.
func (f *Forwarder) EmitBatch(events []*LogEvent) {
	for i, e := range events {
		enc, err := f.pool.Encode(e)
		if err != nil {
			f.serializeFails.Add(1)
			f.reportError("failed to serialize log event %d of %d: %v", i+1, len(events), err)
			continue
		}

		f.deliver(enc.Buffer.Bytes())
		enc.Free()
	}
}

// deliver makes up to RetryAmount attempts to write payload. Retries are
// immediate unless RetryBackoff is set.
func (f *Forwarder) deliver(payload []byte) {
	var sleep func()

	for attempt := 1; attempt <= f.settings.RetryAmount; attempt++ {
		err := f.attempt(payload)
		if err == nil {
			f.delivered.Add(1)
			return
		}

		f.failedAttempts.Add(1)
		f.reportError("failed to send log event to %s: attempt %d of %d: %v",
			f.addr, attempt, f.settings.RetryAmount, err)

		if errors.Is(err, ErrForwarderClosed) {
			break
		}

		if f.settings.RetryBackoff && attempt < f.settings.RetryAmount {
			if sleep == nil {
				sleep = f.newBackoff()
			}
			sleep()
		}
	}

	f.dropped.Add(1)
}

func (f *Forwarder) newBackoff() func() {
	b, err := backoff.New(
		backoff.WithExponentialLimit(f.settings.MaxRetryDelay),
	)
	if err != nil {
		f.reportError("failed to create retry backoff, retrying immediately: %v", err)
		return func() {}
	}
	return func() { b.Sleep() }
}

// attempt is one connect-or-reuse plus write.
func (f *Forwarder) attempt(payload []byte) error {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	conn, err := f.connection()
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(f.settings.SendTimeout)); err != nil {
		f.disconnect(conn)
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := conn.Write(payload); err != nil {
		f.disconnect(conn)
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// connection returns the live connection, dialing a new one if there is none.
// The caller holds sendMu.
func (f *Forwarder) connection() (net.Conn, error) {
	if f.closed.Load() {
		return nil, ErrForwarderClosed
	}

	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn != nil {
		return conn, nil
	}

	conn, err := f.connect()
	if err != nil {
		return nil, err
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()

	// lost a race with Close while dialing
	if f.closed.Load() {
		conn.Close()
		return nil, ErrForwarderClosed
	}

	f.conn = conn
	f.connects.Add(1)
	f.debug("connected to Fluent collector at %s", f.addr)

	return conn, nil
}

func (f *Forwarder) connect() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.settings.SendTimeout)
	defer cancel()

	f.debug("dialing Fluent collector at %s over %s", f.addr, f.settings.Network)

	conn, err := f.dial(ctx, f.settings.Network, f.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial collector: addr: %s: network: %s: %w", f.addr, f.settings.Network, err)
	}
	return conn, nil
}

func (f *Forwarder) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer

	switch network {
	case "tcp":
		return d.DialContext(ctx, "tcp", addr)
	case "tls":
		tlsDialer := tls.Dialer{
			NetDialer: &d,
			Config:    &tls.Config{InsecureSkipVerify: f.settings.InsecureSkipVerify},
		}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	default:
		return nil, fmt.Errorf("unsupported transport protocol: %s", network)
	}
}

// disconnect tears down conn and clears the handle if it still refers to it,
// so the next attempt reconnects.
func (f *Forwarder) disconnect(conn net.Conn) {
	f.connMu.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.connMu.Unlock()

	f.debug("broken pipe detected; tearing down connection")
	if err := conn.Close(); err != nil {
		f.debug("error closing broken connection: %v", err)
	}
}

// Close releases the live connection, if any. Writes in flight fail fast and
// later events are dropped. Close is idempotent and safe to call when no
// connection was ever opened.
func (f *Forwarder) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}

	f.connMu.Lock()
	conn := f.conn
	f.conn = nil
	f.connMu.Unlock()

	f.debug("closing Forwarder")

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Stats returns a snapshot of the counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		Delivered:             f.delivered.Load(),
		Dropped:               f.dropped.Load(),
		SerializationFailures: f.serializeFails.Load(),
		FailedAttempts:        f.failedAttempts.Load(),
		Connects:              f.connects.Load(),
	}
}

// internal logging helpers:
func (f *Forwarder) debug(format string, args ...any) {
	if !f.settings.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}

func (f *Forwarder) reportError(format string, args ...any) {
	diagnose(f.diag, fmt.Sprintf(format, args...))
}
