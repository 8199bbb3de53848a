package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithRequestID(ctx, "req")
	if got, ok := RequestID(ctx); !ok || got != "req" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithWorkflowID(ctx, "wf-1")
	if got, ok := WorkflowID(ctx); !ok || got != "wf-1" {
		t.Fatalf("WorkflowID mismatch: %v %v", got, ok)
	}

	ctx = WithSessionID(ctx, "s1")
	if got, ok := SessionID(ctx); !ok || got != "s1" {
		t.Fatalf("SessionID mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_EmptyValues(t *testing.T) {
	t.Parallel()

	ctx := WithRequestID(context.Background(), "")
	if _, ok := RequestID(ctx); ok {
		t.Fatalf("empty request id must report missing")
	}
	if _, ok := WorkflowID(context.Background()); ok {
		t.Fatalf("unset workflow id must report missing")
	}
}
