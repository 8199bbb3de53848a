package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/BaSui01/flowcanvas/internal/telemetry"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

// OperationRecorder receives one observation per store call.
type OperationRecorder interface {
	RecordStoreOperation(backend, operation string, duration time.Duration, err error)
}

// InstrumentedStore bounds every call with a timeout, traces it and records
// its latency. Infrastructure failures come back as STORE_UNAVAILABLE errors
// that still unwrap to the backend error.
type InstrumentedStore struct {
	next     DocumentStore
	backend  string
	timeout  time.Duration
	recorder OperationRecorder
}

// NewInstrumentedStore wraps next. A zero timeout leaves the caller's context
// untouched; recorder may be nil.
func NewInstrumentedStore(next DocumentStore, backend string, timeout time.Duration, recorder OperationRecorder) *InstrumentedStore {
	return &InstrumentedStore{next: next, backend: backend, timeout: timeout, recorder: recorder}
}

func (s *InstrumentedStore) observe(ctx context.Context, op, id string, fn func(context.Context) error) error {
	attrs := []attribute.KeyValue{attribute.String("store.backend", s.backend)}
	if id != "" {
		attrs = append(attrs, attribute.String("workflow.id", id))
	}
	ctx, span := telemetry.StartSpan(ctx, "store."+op, attrs...)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	if IsUnavailable(err) && types.GetErrorCode(err) == "" {
		err = types.Errorf(types.ErrStoreUnavailable, "%s store %s failed", s.backend, op).WithCause(err)
	}

	if s.recorder != nil {
		var failed error
		if IsUnavailable(err) {
			failed = err
		}
		s.recorder.RecordStoreOperation(s.backend, op, time.Since(start), failed)
	}
	telemetry.EndSpan(span, err)
	return err
}

func (s *InstrumentedStore) Load(ctx context.Context, id string) (workflow.Snapshot, error) {
	var snap workflow.Snapshot
	err := s.observe(ctx, "load", id, func(ctx context.Context) error {
		var err error
		snap, err = s.next.Load(ctx, id)
		return err
	})
	return snap, err
}

func (s *InstrumentedStore) Save(ctx context.Context, id string, snap workflow.Snapshot) error {
	return s.observe(ctx, "save", id, func(ctx context.Context) error {
		return s.next.Save(ctx, id, snap)
	})
}

func (s *InstrumentedStore) Delete(ctx context.Context, id string) error {
	return s.observe(ctx, "delete", id, func(ctx context.Context) error {
		return s.next.Delete(ctx, id)
	})
}

func (s *InstrumentedStore) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := s.observe(ctx, "list", "", func(ctx context.Context) error {
		var err error
		out, err = s.next.List(ctx)
		return err
	})
	return out, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	return s.observe(ctx, "ping", "", s.next.Ping)
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

// Backend returns the wrapped backend name.
func (s *InstrumentedStore) Backend() string { return s.backend }
