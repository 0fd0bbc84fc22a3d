package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	fluentd "github.com/ersintarhan/fluentd-logstash"
)

// Config is the fluentcat configuration file. Zero values fall back to the
// forwarder defaults.
type Config struct {
	// Tag names the log stream on the collector.
	Tag string `yaml:"tag"`

	// Host and Port of the collector. Defaults to localhost:24224.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Network is "tcp" or "tls".
	Network            string `yaml:"network"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`

	// Codec is "json" (default) or "msgpack".
	Codec string `yaml:"codec"`

	SendTimeoutMs     int  `yaml:"send_timeout_ms"`
	BatchingPeriodMs  int  `yaml:"batching_period_ms"`
	BatchPostingLimit int  `yaml:"batch_posting_limit"`
	RetryAmount       int  `yaml:"retry_amount"`
	RetryBackoff      bool `yaml:"retry_backoff"`

	// SubSecondTime keeps nanoseconds in msgpack message times.
	SubSecondTime bool `yaml:"sub_second_time"`

	// Level of the forwarded events: debug, info, warn or error.
	Level string `yaml:"level"`

	Verbose bool `yaml:"verbose"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Settings converts the file form into forwarder settings.
func (c *Config) Settings() (*fluentd.Settings, error) {
	codec, err := parseCodec(c.Codec)
	if err != nil {
		return nil, err
	}

	return &fluentd.Settings{
		Tag:                c.Tag,
		Host:               c.Host,
		Port:               c.Port,
		Network:            c.Network,
		InsecureSkipVerify: c.InsecureSkipVerify,
		Codec:              codec,
		SendTimeout:        time.Duration(c.SendTimeoutMs) * time.Millisecond,
		BatchingPeriod:     time.Duration(c.BatchingPeriodMs) * time.Millisecond,
		BatchPostingLimit:  c.BatchPostingLimit,
		RetryAmount:        c.RetryAmount,
		RetryBackoff:       c.RetryBackoff,
		SubSecondTime:      c.SubSecondTime,
		Verbose:            c.Verbose,
	}, nil
}

func parseCodec(s string) (fluentd.Codec, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return fluentd.JSONCodec, nil
	case "msgpack":
		return fluentd.MsgpackCodec, nil
	}
	return 0, fmt.Errorf("unknown codec %q (want json or msgpack)", s)
}
