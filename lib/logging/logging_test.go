package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithRequestIDTagsLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := NewContextWithLogger(context.Background(), zap.New(core), true)

	ctx, requestID := WithRequestID(ctx)
	if requestID == "" || RequestID(ctx) != requestID {
		t.Fatalf("request ID not stored: %q vs %q", requestID, RequestID(ctx))
	}
	if !DataFromContext(ctx).Debug {
		t.Fatalf("debug flag lost")
	}

	FromContext(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if got := entries[0].ContextMap()["request_id"]; got != requestID {
		t.Fatalf("request_id = %v want %v", got, requestID)
	}
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	if FromContext(context.Background()) != zap.L() {
		t.Fatalf("expected global logger")
	}
	if RequestID(context.Background()) != "" {
		t.Fatalf("expected no request ID")
	}
}
