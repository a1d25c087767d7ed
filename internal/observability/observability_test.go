package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLogger(zap.New(core)).With("component", "test")
	logger.Debug("d")
	logger.Info("scope committed", "scope_id", "abc", "participants", 2)
	logger.Warn("w")
	logger.Error("batch commit failed", "store", "contacts")
	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	info := entries[1]
	if info.Level != zapcore.InfoLevel || info.Message != "scope committed" {
		t.Fatalf("unexpected entry %+v", info)
	}
	fields := info.ContextMap()
	if fields["scope_id"] != "abc" || fields["participants"] != int64(2) || fields["component"] != "test" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if entries[3].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error level, got %v", entries[3].Level)
	}
}

func TestNewZapLoggerModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		logger, err := NewZapLogger(mode)
		if err != nil {
			t.Fatalf("mode %q: %v", mode, err)
		}
		if logger.SugaredLogger == nil {
			t.Fatalf("mode %q: nil logger", mode)
		}
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected recorder published as %s", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, "scope.commit", true, 2*time.Millisecond)
	rec.Observe(ctx, "scope.commit", false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)
	snap := rec.Snapshot()
	if snap.DurationsMS["scope.commit"] != 5 {
		t.Fatalf("expected 5ms total, got %v", snap.DurationsMS["scope.commit"])
	}
	if snap.Results["scope.commit"]["success"] != 1 || snap.Results["scope.commit"]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if _, ok := snap.DurationsMS[""]; ok {
		t.Fatalf("empty operation must be ignored")
	}
	snap.Results["scope.commit"]["success"] = 99
	if rec.Snapshot().Results["scope.commit"]["success"] != 1 {
		t.Fatalf("snapshot must be a copy")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "batch.commit", true, time.Millisecond)
	rec.Observe(ctx, "batch.commit", true, time.Millisecond)
	rec.Observe(ctx, "batch.commit", false, time.Millisecond)
	if got := testutil.ToFloat64(rec.total.WithLabelValues("batch.commit", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.total.WithLabelValues("batch.commit", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestJSONTracerEncodesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	ctx := context.Background()
	_, span := tracer.Start(ctx, "scope.commit")
	span.End(nil)
	_, span = tracer.Start(ctx, "batch.commit")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %d", len(lines))
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Operation != "batch.commit" {
		t.Fatalf("unexpected decoded entry %+v", decoded)
	}
}

func TestJSONTracerNilWriter(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), "op")
	span.End(nil)
	if len(tracer.Entries()) != 1 {
		t.Fatalf("expected retained entry")
	}
}
