package fluentd

import "log/slog"

// HandlerOptions are used to customize the slog.Handler.
//
// NB: The struct pointer options approach is used to be consistent with the
// approach used in the standard library for `HandlerOptions`.
type HandlerOptions struct {

	// Level reports the minimum record level that will be logged. The handler
	// discards records with lower levels. If Level is nil, the handler assumes
	// LevelInfo.
	Level slog.Leveler

	// AddSource adds the "source" property holding file:line of the log call.
	AddSource bool

	// ParseTemplates treats the record message as a message template, so
	// `{Name:format}` holes are bound to the record's attrs and rendered into
	// the `@r` field. By default the message is plain text.
	ParseTemplates bool

	// MessageKey is the property that carries the rendered message. The
	// default is "Message".
	MessageKey string

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const defaultMessageKey = "Message"

// DefaultHandlerOptions returns *HandlerOptions with all default values.
func DefaultHandlerOptions() *HandlerOptions {
	return &HandlerOptions{
		Level:      slog.LevelInfo,
		MessageKey: defaultMessageKey,
	}
}

// resolve ensures that all options have valid values.
func (o *HandlerOptions) resolve() {
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	if len(o.MessageKey) == 0 {
		o.MessageKey = defaultMessageKey
	}
}
