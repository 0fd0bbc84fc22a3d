package fluentd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// Sink accepts the events built by a Handler. *Batcher implements it.
type Sink interface {
	Add(*LogEvent) bool
	Shutdown(context.Context) error
}

// groupOrAttrs is one WithGroup or WithAttrs call, in call order.
type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

// Handler is an adapter that turns Go structured logs into LogEvents and
// passes them to a Sink, normally a Batcher in front of a Forwarder.
//
//	// Example of basic usage
//	h, err := fluentd.NewHandler(&fluentd.Settings{Tag: "app"}, nil)
//	if err != nil {
//	   log.Fatalln(err)
//	}
//	defer h.Shutdown(context.Background())
//
//	logger := slog.New(h)
//	logger.Info("unrecognized user", "user_id", userID)
//
// Groups become nested structure values. An attr keyed "error" or "err" whose
// value is an error becomes the event's exception chain instead of a property.
type Handler struct {
	*HandlerOptions
	sink Sink
	goas []groupOrAttrs
}

// pipeline is the Sink used by NewHandler: it owns both the Batcher and the
// Forwarder behind it.
type pipeline struct {
	*Batcher
	fwd *Forwarder
}

func (p *pipeline) Shutdown(ctx context.Context) error {
	return errors.Join(p.Batcher.Shutdown(ctx), p.fwd.Close())
}

// NewHandler builds the whole stack from settings: a Forwarder, a Batcher in
// front of it and the Handler feeding the Batcher.
func NewHandler(settings *Settings, opts *HandlerOptions) (*Handler, error) {
	fwd, err := NewForwarder(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create fluentd.Forwarder: %w", err)
	}

	b, err := NewBatcher(fwd, settings)
	if err != nil {
		fwd.Close()
		return nil, fmt.Errorf("failed to create fluentd.Batcher: %w", err)
	}

	return NewHandlerCustom(&pipeline{Batcher: b, fwd: fwd}, opts), nil
}

// NewHandlerCustom creates a Handler that feeds an arbitrary Sink.
func NewHandlerCustom(sink Sink, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		o := *opts
		o.resolve()
		opts = &o
	}

	return &Handler{
		HandlerOptions: opts,
		sink:           sink,
	}
}

// Shutdown flushes and stops the Sink. You MUST NOT log through the Handler
// after calling Shutdown.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.debug("shutting down the logging stack")
	return h.sink.Shutdown(ctx)
}

func (h *Handler) debug(format string, args ...any) {
	if !h.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.Level.Level()
}

// Handle converts the Record to a LogEvent. If r.Time is the zero time,
// time.Now() is used, since every wire message needs a timestamp.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	e := &LogEvent{
		Timestamp: t,
		Level:     levelFromSlog(r.Level),
	}

	// record attrs land in the innermost group
	props := make([]Property, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		if e.Exception == nil && (a.Key == "error" || a.Key == "err") {
			if err, ok := a.Value.Resolve().Any().(error); ok && !isNilPointer(err) {
				e.Exception = ExceptionFromError(err)
				return true
			}
		}
		props = append(props, attrToProperties(a)...)
		return true
	})

	// wrap outwards; groups left empty are omitted
	for i := len(h.goas) - 1; i >= 0; i-- {
		g := h.goas[i]
		if g.group == "" {
			pre := make([]Property, 0, len(g.attrs)+len(props))
			for _, a := range g.attrs {
				pre = append(pre, attrToProperties(a)...)
			}
			props = append(pre, props...)
			continue
		}
		if len(props) == 0 {
			continue
		}
		props = []Property{{Name: g.group, Value: StructureValue{Properties: props}}}
	}

	if h.ParseTemplates {
		e.Template = ParseTemplate(r.Message)
	} else {
		e.Template = &MessageTemplate{Text: r.Message, Tokens: []Token{&TextToken{Text: r.Message}}}
	}
	e.Properties = props

	fixed := []Property{{Name: h.MessageKey, Value: ScalarValue{V: e.Template.Render(e)}}}
	if h.AddSource && r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		fixed = append(fixed, Property{
			Name:  slog.SourceKey,
			Value: ScalarValue{V: fmt.Sprintf("%s:%d", f.File, f.Line)},
		})
	}
	e.Properties = append(fixed, props...)

	if !h.sink.Add(e) {
		h.debug("sink is shut down: dropping record %q", r.Message)
	}
	return nil
}

// attrToProperties resolves a, drops it if empty, and inlines the members of
// groups with an empty key.
func attrToProperties(a slog.Attr) []Property {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return nil
	}

	v := a.Value
	if v.Kind() != slog.KindGroup {
		if a.Key == "" {
			return nil
		}
		return []Property{{Name: a.Key, Value: slogValue(v)}}
	}

	members := v.Group()
	var props []Property
	for _, m := range members {
		props = append(props, attrToProperties(m)...)
	}
	if len(props) == 0 {
		return nil
	}
	if a.Key == "" {
		return props
	}
	return []Property{{Name: a.Key, Value: StructureValue{Properties: props}}}
}

func slogValue(v slog.Value) Value {
	switch v.Kind() {
	case slog.KindString:
		return ScalarValue{V: v.String()}
	case slog.KindInt64:
		return ScalarValue{V: v.Int64()}
	case slog.KindUint64:
		return ScalarValue{V: v.Uint64()}
	case slog.KindFloat64:
		return ScalarValue{V: v.Float64()}
	case slog.KindBool:
		return ScalarValue{V: v.Bool()}
	case slog.KindDuration:
		return ScalarValue{V: v.Duration()}
	case slog.KindTime:
		return ScalarValue{V: v.Time()}
	default:
		return ValueOf(v.Any())
	}
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelDebug:
		return LevelVerbose
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInformation
	case l < slog.LevelError:
		return LevelWarning
	case l < slog.LevelError+4:
		return LevelError
	default:
		return LevelFatal
	}
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(groupOrAttrs{attrs: attrs})
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups. If the name is empty, WithGroup returns the
// receiver.
func (h *Handler) WithGroup(name string) slog.Handler {
	if len(name) == 0 {
		return h
	}
	return h.with(groupOrAttrs{group: name})
}

func (h *Handler) with(goa groupOrAttrs) *Handler {
	h2 := *h
	h2.goas = make([]groupOrAttrs, len(h.goas)+1)
	copy(h2.goas, h.goas)
	h2.goas[len(h2.goas)-1] = goa
	return &h2
}
