package otel

import (
	"context"
	"testing"
)

func TestInit_DisabledReturnsNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("noop provider missing tracer or meter")
	}
	// Spans on the noop tracer must be safe to use.
	_, span := StartSpan(context.Background(), p.Tracer, "vault.import")
	span.End()
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := StartSpan(context.Background(), p.Tracer, "vault.parse", AttrProvider.String("chatgpt"))
	span.End()
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected unknown exporter to fail")
	}
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.ImportDuration == nil || m.SearchDuration == nil || m.WipeFilesRemoved == nil || m.RunsFailed == nil {
		t.Fatal("missing instruments")
	}
	m.MessagesIngested.Add(context.Background(), 5)
	m.SearchHits.Add(context.Background(), 1)
}
