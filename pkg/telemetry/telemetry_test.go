package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	default:
		t.Fatalf("unsupported metric type")
		return 0
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "empty service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, wantErr: true},
		{name: "bad sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, wantErr: true},
		{name: "zero event buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsRecordStorageCall(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordStorageCall("oplog", "indexed", "append", time.Millisecond, nil)
	m.RecordStorageCall("oplog", "indexed", "append", time.Millisecond, nil)
	m.RecordStorageCall("oplog", "indexed", "append", time.Millisecond, errors.New("boom"))

	if got := metricValue(t, m.storageCalls.WithLabelValues("oplog", "indexed", "append", "ok")); got != 2 {
		t.Errorf("ok calls = %v, want 2", got)
	}
	if got := metricValue(t, m.storageCalls.WithLabelValues("oplog", "indexed", "append", "error")); got != 1 {
		t.Errorf("error calls = %v, want 1", got)
	}
}

func TestMetricsDomainCounters(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordOplogAppend("Log")
	m.RecordOplogCommit(3)
	m.RecordPayload(true, 4096)
	m.RecordReplayJump()
	m.RecordSwitchToLive()
	m.RecordSuppressedLog()
	m.RecordCacheMiss()
	m.RecordCacheHit()
	m.RecordCacheEviction("idle")
	m.SetCacheSize(4)
	m.OplogOpened()
	m.OplogOpened()
	m.OplogClosed()

	checks := map[string]float64{
		"appends":   metricValue(t, m.oplogEntries.WithLabelValues("Log")),
		"commits":   metricValue(t, m.oplogCommits),
		"external":  metricValue(t, m.oplogPayloads.WithLabelValues("external")),
		"jumps":     metricValue(t, m.replayJumps),
		"live":      metricValue(t, m.liveTransitions),
		"logs":      metricValue(t, m.suppressedLogs),
		"misses":    metricValue(t, m.cacheMisses),
		"hits":      metricValue(t, m.cacheHits),
		"evictions": metricValue(t, m.cacheEvictions.WithLabelValues("idle")),
		"open":      metricValue(t, m.openOplogs),
	}
	for name, got := range checks {
		if got != 1 {
			t.Errorf("%s = %v, want 1", name, got)
		}
	}
	if got := metricValue(t, m.cacheSize); got != 4 {
		t.Errorf("cache size = %v, want 4", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordError("permanent", "OPLOG_CORRUPT")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "worker_executor_errors_by_code_total") {
		t.Errorf("metrics output missing error counter:\n%s", rec.Body.String())
	}

	disabled, _ := NewMetrics(MetricsConfig{})
	rec = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
}

func TestEventPublisherAsyncDelivery(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, MaxBatchSize: 4, EnableAsync: true})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Message)
	}, FilterByType(EventTypeWorkerLog))

	for _, msg := range []string{"a", "b", "c"} {
		if err := ep.PublishWorkerLog("w1", "info", "", msg, true); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	_ = ep.PublishWorkerLive("w1", 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("delivered = %v, want [a b c]", got)
	}
}

func TestEventPublisherLevelFilter(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	var all, warnings int
	ep.Subscribe(func(Event) { all++ }, nil)
	ep.Subscribe(func(Event) { warnings++ }, FilterByLevel(EventLevelWarning))

	_ = ep.PublishWorkerLive("w1", 3)
	_ = ep.PublishIncompleteWrite("w1", 5)

	if all != 2 {
		t.Errorf("unfiltered subscriber got %d events, want 2", all)
	}
	if warnings != 1 {
		t.Errorf("warning subscriber got %d events, want 1", warnings)
	}
}

func TestNilPublisherDropsEvents(t *testing.T) {
	var ep *EventPublisher
	if err := ep.PublishOplogJump("w1", "<2..=4>"); err != nil {
		t.Errorf("nil publisher returned %v", err)
	}
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	zlog := logger.Zerolog()
	zlog.Debug().Str("component", "replay").Msg("switched")
	out := buf.String()
	for _, want := range []string{`"component":"replay"`, `"level":"debug"`, `"message":"switched"`, `"time":`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}

	var nilLogger *Logger
	nop := nilLogger.Zerolog()
	nop.Error().Msg("dropped")
}

func TestSetGlobalLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf).Zerolog()
	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	if err := SetGlobalLevel("info"); err != nil {
		t.Fatalf("SetGlobalLevel: %v", err)
	}
	logger.Info().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("info not logged after lowering level")
	}

	if err := SetGlobalLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNopTelemetry(t *testing.T) {
	tel := NewNop()

	_, span := tel.Tracer.StartWorkerSpan(context.Background(), "c:w", "load")
	span.SetAttributes(AttrOplogEntries.Int(2))
	EndSpan(span, errors.New("failed"))

	tel.Metrics.RecordCacheHit()
	if err := tel.Events.PublishWorkerLive("c:w", 1); err != nil {
		t.Errorf("publish on nop telemetry: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
