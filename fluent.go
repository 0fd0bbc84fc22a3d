/*
Package fluentd forwards structured log events to a Fluentd collector using the
forward protocol's Message mode, with Logstash-style records:

	["<tag>", <unix seconds>, {"utctime":"...","unixtime":...,"level":"...", ...}]

The stack has three layers, each usable on its own:

  - `fluentd.Forwarder` - serializes events and writes them over one
    persistent TCP (or TLS) connection, reconnecting and retrying on failure
  - `fluentd.Batcher` - collects events and hands them to the Forwarder
    periodically, or early once enough are queued
  - `fluentd.Handler` - a `slog.Handler` that turns Go structured logs into
    events for the Batcher

Records are written with a fixed key order:

  - `utctime` - ISO-8601 UTC time with 100ns precision
  - `unixtime` - whole seconds since the epoch, from the same instant
  - `@r` - rendered text of template placeholders that carry a format, if any
  - `level` - the level name
  - `exceptions` - the exception chain, if any, at most 21 records deep
  - one key per event property, where a leading '@' is doubled

Delivery is fire-and-forget. An event that cannot be serialized, or that fails
every attempt, is dropped and reported to the DiagnosticSink; EmitBatch itself
never fails.
*/
package fluentd
