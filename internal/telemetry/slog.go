package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// loggerScope is the instrumentation scope of bridged records.
const loggerScope = "diarysync"

// LogHandler is a slog.Handler that forwards every record to next and also
// emits it to an OpenTelemetry logger. With the default no-op global
// LoggerProvider the OTel side costs one allocation per record.
type LogHandler struct {
	next   slog.Handler
	logger log.Logger
	attrs  []log.KeyValue
	prefix string // group path applied to record attributes, "a.b."
}

// NewLogHandler wraps next. A nil provider means the global one, so the
// handler picks up whatever [Setup] installed.
func NewLogHandler(next slog.Handler, provider log.LoggerProvider) *LogHandler {
	if provider == nil {
		provider = global.GetLoggerProvider()
	}
	return &LogHandler{next: next, logger: provider.Logger(loggerScope)}
}

// Enabled reports whether next handles level; the OTel side follows it.
func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle emits r to OpenTelemetry, then passes it to next.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	var rec log.Record
	rec.SetTimestamp(r.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetBody(log.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if kv, ok := convertAttr(h.prefix, a); ok {
			rec.AddAttributes(kv)
		}
		return true
	})
	h.logger.Emit(ctx, rec)

	return h.next.Handle(ctx, r)
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.next = h.next.WithAttrs(attrs)
	cp.attrs = append([]log.KeyValue(nil), h.attrs...)
	for _, a := range attrs {
		if kv, ok := convertAttr(h.prefix, a); ok {
			cp.attrs = append(cp.attrs, kv)
		}
	}
	return &cp
}

// WithGroup returns a handler that qualifies later attribute keys with name.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.next = h.next.WithGroup(name)
	cp.prefix = h.prefix + name + "."
	return &cp
}

func severity(l slog.Level) log.Severity {
	switch {
	case l >= slog.LevelError:
		return log.SeverityError
	case l >= slog.LevelWarn:
		return log.SeverityWarn
	case l >= slog.LevelInfo:
		return log.SeverityInfo
	default:
		return log.SeverityDebug
	}
}

// convertAttr maps a slog attribute to an OTel key/value. Empty attributes
// are dropped, following slog's own rule.
func convertAttr(prefix string, a slog.Attr) (log.KeyValue, bool) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return log.KeyValue{}, false
	}
	key := prefix + a.Key
	return log.KeyValue{Key: key, Value: convertValue(a.Value)}, true
}

func convertValue(v slog.Value) log.Value {
	switch v.Kind() {
	case slog.KindString:
		return log.StringValue(v.String())
	case slog.KindInt64:
		return log.Int64Value(v.Int64())
	case slog.KindUint64:
		return log.Int64Value(int64(v.Uint64())) //nolint:gosec // counters never exceed int64
	case slog.KindFloat64:
		return log.Float64Value(v.Float64())
	case slog.KindBool:
		return log.BoolValue(v.Bool())
	case slog.KindDuration:
		return log.StringValue(v.Duration().String())
	case slog.KindTime:
		return log.StringValue(v.Time().UTC().Format(time.RFC3339Nano))
	case slog.KindGroup:
		group := v.Group()
		kvs := make([]log.KeyValue, 0, len(group))
		for _, a := range group {
			if kv, ok := convertAttr("", a); ok {
				kvs = append(kvs, kv)
			}
		}
		return log.MapValue(kvs...)
	default:
		return log.StringValue(fmt.Sprint(v.Any()))
	}
}
