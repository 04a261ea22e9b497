package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProvider_ScrapeHandler(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.FramesDecoded.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	p.ScrapeHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"modplay_frames_decoded", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape body missing %q", want)
		}
	}
}

func TestProvider_Shutdown(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(ProviderConfig{SampleRatio: 0.5})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "playback.play")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown = %v", err)
	}
}

func TestProvider_ResourceCarriesService(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	p, err := NewProvider(ProviderConfig{ServiceVersion: "1.2.3", TraceExporter: exp})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "playback.load")
	span.End()
	if err := p.TracerProvider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != "modplay" || attrs["service.version"] != "1.2.3" {
		t.Errorf("resource attributes = %v", attrs)
	}
	if attrs["telemetry.sdk.language"] != "go" {
		t.Error("resource should keep the SDK defaults")
	}
}
