package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// memExporter keeps every exported record in memory.
type memExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memExporter) Export(_ context.Context, recs []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range recs {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memExporter) Shutdown(context.Context) error   { return nil }
func (e *memExporter) ForceFlush(context.Context) error { return nil }

func (e *memExporter) all() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdklog.Record(nil), e.records...)
}

func newBridge(t *testing.T, level slog.Level) (*slog.Logger, *memExporter, *bytes.Buffer) {
	t.Helper()
	exp := &memExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	text := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return slog.New(NewLogHandler(text, lp)), exp, &buf
}

func attrsOf(r sdklog.Record) map[string]log.Value {
	out := make(map[string]log.Value)
	r.WalkAttributes(func(kv log.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func TestLogHandler_ForwardsAndEmits(t *testing.T) {
	logger, exp, buf := newBridge(t, slog.LevelInfo)

	logger.Warn("sync pass failed", "created", 3, "elapsed", 1500*time.Millisecond, "ok", false)

	if !strings.Contains(buf.String(), "sync pass failed") {
		t.Errorf("text handler output = %q, want the message", buf.String())
	}
	recs := exp.all()
	if len(recs) != 1 {
		t.Fatalf("exported %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Body().AsString() != "sync pass failed" {
		t.Errorf("body = %q", r.Body().AsString())
	}
	if r.Severity() != log.SeverityWarn {
		t.Errorf("severity = %v, want warn", r.Severity())
	}
	attrs := attrsOf(r)
	if attrs["created"].AsInt64() != 3 {
		t.Errorf("created = %v", attrs["created"])
	}
	if attrs["elapsed"].AsString() != "1.5s" {
		t.Errorf("elapsed = %v, want 1.5s", attrs["elapsed"])
	}
	if attrs["ok"].AsBool() {
		t.Errorf("ok = %v, want false", attrs["ok"])
	}
}

func TestLogHandler_RespectsLevel(t *testing.T) {
	logger, exp, buf := newBridge(t, slog.LevelInfo)

	logger.Debug("noise")

	if buf.Len() != 0 {
		t.Errorf("debug record reached text handler: %q", buf.String())
	}
	if n := len(exp.all()); n != 0 {
		t.Errorf("exported %d debug records, want 0", n)
	}
}

func TestLogHandler_AttrsAndGroups(t *testing.T) {
	logger, exp, _ := newBridge(t, slog.LevelDebug)

	logger.With("component", "scheduler").WithGroup("pass").Info("done", "trigger", "timer")

	recs := exp.all()
	if len(recs) != 1 {
		t.Fatalf("exported %d records, want 1", len(recs))
	}
	attrs := attrsOf(recs[0])
	if attrs["component"].AsString() != "scheduler" {
		t.Errorf("component = %v", attrs["component"])
	}
	if attrs["pass.trigger"].AsString() != "timer" {
		t.Errorf("pass.trigger = %v, attrs = %v", attrs["pass.trigger"], attrs)
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  log.Severity
	}{
		{slog.LevelDebug, log.SeverityDebug},
		{slog.LevelInfo, log.SeverityInfo},
		{slog.LevelWarn, log.SeverityWarn},
		{slog.LevelError, log.SeverityError},
		{slog.LevelError + 4, log.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestBuildResource_ServiceName(t *testing.T) {
	res, err := buildResource(Config{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got[string(semconv.ServiceNameKey)] != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", got[string(semconv.ServiceNameKey)], DefaultServiceName)
	}
	if got[string(semconv.ServiceVersionKey)] != "1.2.3" {
		t.Errorf("service.version = %q", got[string(semconv.ServiceVersionKey)])
	}

	res, err = buildResource(Config{ServiceName: "diary-laptop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, kv := range res.Attributes() {
		if kv.Key == semconv.ServiceNameKey && kv.Value.Emit() != "diary-laptop" {
			t.Errorf("service.name = %q, want diary-laptop", kv.Value.Emit())
		}
	}
}

func TestSetup_RequiresEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty endpoint, got nil")
	}
	if shutdown == nil {
		t.Fatal("shutdown must never be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}

// The gRPC client connects lazily, so Setup succeeds without a collector.
func TestSetup_InsecureEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{
		OTLPEndpoint: "127.0.0.1:4317",
		Insecure:     true,
		Headers:      map[string]string{"x-test": "1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx) // flush fails without a collector
}
