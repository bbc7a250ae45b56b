package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

func TestEndTagsRejectionsAndRecordsErrors(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantTag    string
	}{
		{"ok", nil, codes.Unset, ""},
		{"rejection", fmt.Errorf("risk: %w", domain.ErrPositionTooLarge), codes.Unset, "PositionTooLarge"},
		{"failure", errors.New("store down"), codes.Error, ""},
	}
	for _, tt := range tests {
		_, span := tracer.Start(context.Background(), tt.name)
		End(span, tt.err)
	}

	spans := rec.Ended()
	if len(spans) != len(tests) {
		t.Fatalf("ended %d spans, want %d", len(spans), len(tests))
	}
	for i, tt := range tests {
		s := spans[i]
		if s.Status().Code != tt.wantStatus {
			t.Errorf("%s: status %v, want %v", tt.name, s.Status().Code, tt.wantStatus)
		}
		var tag string
		for _, kv := range s.Attributes() {
			if kv.Key == "papertrade.rejection" {
				tag = kv.Value.AsString()
			}
		}
		if tag != tt.wantTag {
			t.Errorf("%s: rejection tag %q, want %q", tt.name, tag, tt.wantTag)
		}
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := Init(ctx, Config{Enabled: true, ServiceName: "papertrade-test", Version: "dev", Writer: &buf})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := Tracer("session").Start(ctx, "session.start")
	span.SetAttributes(SessionAttr("s1"))
	End(span, nil)

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "session.start") || !strings.Contains(out, "papertrade-test") {
		t.Errorf("exported output missing span or service name:\n%s", out)
	}
}
