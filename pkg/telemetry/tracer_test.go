package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointStaysNoop(t *testing.T) {
	if err := Init(context.Background(), Config{ServiceName: "pagesmith-test"}); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if Enabled() {
		t.Fatalf("tracing should be disabled without endpoint")
	}
	ctx, span := TraceDeployStep(context.Background(), "project-1", "export")
	defer span.End()
	if ctx == nil {
		t.Fatalf("expected context from noop span")
	}
	if span.SpanContext().IsValid() {
		t.Fatalf("noop spans should not carry a valid span context")
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}
