package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	if _, ok := Credential(context.Background()); ok {
		t.Fatalf("expected no credential")
	}
	ctx := WithCredential(context.Background(), "  tok-1 ")
	got, ok := Credential(ctx)
	if !ok || got != "tok-1" {
		t.Fatalf("expected trimmed credential, got %q (%v)", got, ok)
	}
	if _, ok := Credential(WithCredential(context.Background(), "   ")); ok {
		t.Fatalf("expected blank credential to be absent")
	}
}

func TestTraceID(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc"})
	if TraceID(ctx) != "abc" {
		t.Fatalf("expected trace id abc")
	}
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
}
