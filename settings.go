package fluentd

import "time"

// Codec selects how wire messages are encoded.
type Codec int

const (
	// JSONCodec writes `["tag",unixSeconds,{record}]` as UTF-8 JSON.
	JSONCodec Codec = iota

	// MsgpackCodec writes the same three-element array as msgpack, which is
	// the Fluent forward protocol's Message mode.
	//   ref: https://github.com/fluent/fluentd/wiki/Forward-Protocol-Specification-v1
	MsgpackCodec
)

func (c Codec) String() string {
	switch c {
	case JSONCodec:
		return "json"
	case MsgpackCodec:
		return "msgpack"
	}
	return "unknown"
}

// Settings configure a Forwarder. They are copied by NewForwarder and never
// modified afterwards, so one Settings value can be shared freely.
//
// # Invalid settings are coerced
//
// Zero or out-of-range values are replaced by their defaults when the
// Forwarder is constructed.
type Settings struct {

	// Tag names the log stream; the collector routes on it. The default is "".
	Tag string

	// Host of the collector. The default is "localhost".
	Host string

	// Port of the collector. The default is 24224.
	Port int

	// SendTimeout bounds connecting and each write. The default is 3s.
	SendTimeout time.Duration

	// BatchingPeriod is how often a Batcher flushes. The Forwarder itself
	// never reads it. The default is 2s.
	BatchingPeriod time.Duration

	// BatchPostingLimit is the number of queued events that makes a Batcher
	// flush early. The default is 50.
	BatchPostingLimit int

	// RetryAmount is the number of send attempts per event before the event is
	// dropped. Must be > 0. The default is 5.
	RetryAmount int

	// Network is "tcp" or "tls". The default is "tcp".
	Network string

	// InsecureSkipVerify controls whether a client verifies the server's
	// certificate chain and host name when using TLS.
	InsecureSkipVerify bool

	// Codec used for wire messages. The default is JSONCodec.
	Codec Codec

	// SubSecondTime sends the message time as a Fluent EventTime, keeping
	// nanoseconds, instead of integer seconds. Only the msgpack codec has a
	// form for it; JSON messages always carry integer seconds.
	SubSecondTime bool

	// RetryBackoff enables an exponential delay between attempts for the same
	// event, capped at MaxRetryDelay. By default retries are immediate.
	RetryBackoff bool

	// MaxRetryDelay caps the delay used when RetryBackoff is set. The default
	// is 20s.
	MaxRetryDelay time.Duration

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const (
	defaultHost              = "localhost"
	defaultPort              = 24224
	defaultNetwork           = "tcp"
	defaultSendTimeout       = time.Millisecond * 3000
	defaultBatchingPeriod    = time.Second * 2
	defaultBatchPostingLimit = 50
	defaultRetryAmount       = 5
	defaultMaxRetryDelay     = time.Second * 20
)

// DefaultSettings returns *Settings with all default values.
func DefaultSettings() *Settings {
	return &Settings{
		Host:              defaultHost,
		Port:              defaultPort,
		Network:           defaultNetwork,
		SendTimeout:       defaultSendTimeout,
		BatchingPeriod:    defaultBatchingPeriod,
		BatchPostingLimit: defaultBatchPostingLimit,
		RetryAmount:       defaultRetryAmount,
		MaxRetryDelay:     defaultMaxRetryDelay,
	}
}

// resolve ensures that all settings have valid values.
func (s *Settings) resolve() {

	if len(s.Host) == 0 {
		s.Host = defaultHost
	}

	// constrain to valid range
	if s.Port < 1 || s.Port > 65535 {
		s.Port = defaultPort
	}

	// only [tcp|tls]; the wire format relies on a stream
	if s.Network != "tcp" && s.Network != "tls" {
		s.Network = defaultNetwork
	}

	// must be positive
	if s.SendTimeout < 1 {
		s.SendTimeout = defaultSendTimeout
	}

	if s.BatchingPeriod < 1 {
		s.BatchingPeriod = defaultBatchingPeriod
	}

	if s.BatchPostingLimit < 1 {
		s.BatchPostingLimit = defaultBatchPostingLimit
	}

	if s.RetryAmount < 1 {
		s.RetryAmount = defaultRetryAmount
	}

	if s.Codec != JSONCodec && s.Codec != MsgpackCodec {
		s.Codec = JSONCodec
	}

	if s.MaxRetryDelay < 1 {
		s.MaxRetryDelay = defaultMaxRetryDelay
	}
}
