package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/store"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

// =============================================================================
// 🔧 测试辅助
// =============================================================================

type countingStore struct {
	*store.MemoryStore
	loads atomic.Int32
	saves atomic.Int32
	delay time.Duration
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) Load(ctx context.Context, id string) (workflow.Snapshot, error) {
	s.loads.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.MemoryStore.Load(ctx, id)
}

func (s *countingStore) Save(ctx context.Context, id string, snap workflow.Snapshot) error {
	s.saves.Add(1)
	return s.MemoryStore.Save(ctx, id, snap)
}

// gatedStore blocks the first Save until release is closed.
type gatedStore struct {
	*store.MemoryStore
	gated   atomic.Bool
	started chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (s *gatedStore) Save(ctx context.Context, id string, snap workflow.Snapshot) error {
	if s.gated.CompareAndSwap(false, true) {
		close(s.started)
		<-s.release
	}
	return s.MemoryStore.Save(ctx, id, snap)
}

func (s *gatedStore) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatal("save never started")
	}
}

type recordingMetrics struct {
	mu      sync.Mutex
	intents map[string]int
	changes int
	active  int
	loads   map[string]int
	dropped int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{intents: map[string]int{}, loads: map[string]int{}}
}

func (r *recordingMetrics) RecordIntent(intentType, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[intentType+"/"+outcome]++
}

func (r *recordingMetrics) RecordDocumentChange(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}

func (r *recordingMetrics) SetActiveSessions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func (r *recordingMetrics) RecordSessionLoad(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads[source]++
}

func (r *recordingMetrics) RecordDroppedChange() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func testEditorConfig() config.EditorConfig {
	cfg := config.DefaultEditorConfig()
	cfg.AutosaveInterval = 0
	cfg.IdleTimeout = 0
	return cfg
}

func newTestManager(t *testing.T, st store.DocumentStore, cfg config.EditorConfig, metrics Metrics) *Manager {
	t.Helper()
	m := NewManager(st, workflow.DefaultRegistry(), cfg, metrics, zap.NewNop())
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func pt(x, y float64) *workflow.Point { return &workflow.Point{X: x, Y: y} }

// readyCanvas initializes bounds and viewport so drops can be placed.
func readyCanvas(t *testing.T, m *Manager, id string) {
	t.Helper()
	ctx := context.Background()
	res, _, err := m.Apply(ctx, id, workflow.Intent{Type: workflow.IntentSetBounds, Bounds: &workflow.Rect{Width: 800, Height: 600}})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	res, _, err = m.Apply(ctx, id, workflow.Intent{Type: workflow.IntentSetViewport, Viewport: &workflow.Viewport{Zoom: 1}})
	require.NoError(t, err)
	require.NoError(t, res.Err)
}

// pan moves the viewport, which mutates the document.
func pan(t *testing.T, m *Manager, id string, x float64) {
	t.Helper()
	res, _, err := m.Apply(context.Background(), id, workflow.Intent{Type: workflow.IntentSetViewport, Viewport: &workflow.Viewport{X: x, Zoom: 1}})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.True(t, res.Changed)
}

func dropNode(t *testing.T, m *Manager, id, kind string, at *workflow.Point) workflow.Snapshot {
	t.Helper()
	ctx := context.Background()
	res, _, err := m.Apply(ctx, id, workflow.Intent{Type: workflow.IntentPaletteDragStart, Kind: kind})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	res, snap, err := m.Apply(ctx, id, workflow.Intent{Type: workflow.IntentCanvasDrop, Point: at})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.True(t, res.Changed)
	return snap
}

// =============================================================================
// 🧪 打开与加载
// =============================================================================

func TestManager_OpenSeedsUnknownDocument(t *testing.T) {
	metrics := newRecordingMetrics()
	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), metrics)

	snap, err := m.Snapshot(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 4)
	assert.Len(t, snap.Edges, 2)
	assert.Equal(t, 1, metrics.loads[SourceSeed])
	assert.Equal(t, 1, metrics.active)
}

func TestManager_OpenEmptyWhenSeedingDisabled(t *testing.T) {
	cfg := testEditorConfig()
	cfg.SeedNewDocuments = false
	m := newTestManager(t, store.NewMemoryStore(), cfg, nil)

	snap, err := m.Snapshot(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Empty(t, snap.Nodes)
	assert.Empty(t, snap.Edges)
}

func TestManager_OpenLoadsStoredDocument(t *testing.T) {
	st := store.NewMemoryStore()
	stored := workflow.SeedSnapshot()
	stored.Nodes = stored.Nodes[:2]
	stored.Edges = stored.Edges[:1]
	stored.Version = 12
	require.NoError(t, st.Save(context.Background(), "wf-1", stored))

	metrics := newRecordingMetrics()
	m := newTestManager(t, st, testEditorConfig(), metrics)

	snap, err := m.Snapshot(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
	assert.Equal(t, uint64(12), snap.Version)
	assert.Equal(t, 1, metrics.loads[SourceStore])
}

func TestManager_OpenRejectsCorruptDocument(t *testing.T) {
	st := store.NewMemoryStore()
	bad := workflow.SeedSnapshot()
	bad.Edges = append(bad.Edges, workflow.Edge{ID: "dangling", Source: "1", Target: "missing"})
	require.NoError(t, st.Save(context.Background(), "wf-bad", bad))

	m := newTestManager(t, st, testEditorConfig(), nil)
	_, err := m.Snapshot(context.Background(), "wf-bad")
	assert.True(t, types.IsCode(err, types.ErrCorruptDocument))
	assert.Zero(t, m.Active())
}

func TestManager_OpenRejectsInvalidID(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), nil)
	_, err := m.Open(context.Background(), "../etc/passwd")
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestManager_ConcurrentOpenLoadsOnce(t *testing.T) {
	st := newCountingStore()
	st.delay = 20 * time.Millisecond
	m := newTestManager(t, st, testEditorConfig(), nil)

	var wg sync.WaitGroup
	sessions := make([]*Session, 16)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Open(context.Background(), "shared")
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), st.loads.Load())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestManager_StoreFailurePropagates(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Close())
	m := newTestManager(t, st, testEditorConfig(), nil)

	_, err := m.Open(context.Background(), "wf-1")
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}

// =============================================================================
// 🎯 意图与保存
// =============================================================================

func TestManager_ApplyAndSave(t *testing.T) {
	st := store.NewMemoryStore()
	metrics := newRecordingMetrics()
	cfg := testEditorConfig()
	cfg.SeedNewDocuments = false
	m := newTestManager(t, st, cfg, metrics)
	ctx := context.Background()

	readyCanvas(t, m, "wf-1")
	snap := dropNode(t, m, "wf-1", "文本分割", pt(100, 80))
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "node_0", snap.Nodes[0].ID)
	assert.Equal(t, workflow.Point{X: 100, Y: 80}, snap.Nodes[0].Position)

	s, err := m.Open(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, s.Dirty())

	_, err = st.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	saved, err := m.Save(ctx, "wf-1")
	require.NoError(t, err)
	assert.False(t, s.Dirty())

	got, err := st.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, saved, got)

	assert.Equal(t, 1, metrics.intents["canvas_drop/applied"])
	assert.Equal(t, 1, metrics.intents["palette_drag_start/noop"])
	assert.Positive(t, metrics.changes)
}

func TestManager_ApplyRejectedIntent(t *testing.T) {
	metrics := newRecordingMetrics()
	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), metrics)

	res, snap, err := m.Apply(context.Background(), "wf-1", workflow.Intent{Type: workflow.IntentNodePointerUp})
	require.NoError(t, err)
	assert.True(t, types.IsCode(res.Err, types.ErrInvalidTransition))
	assert.False(t, res.Changed)
	assert.Len(t, snap.Nodes, 4)
	assert.Equal(t, 1, metrics.intents["node_pointer_up/INVALID_TRANSITION"])
}

func TestManager_ApplyRecordsSpan(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), nil)
	ctx := context.Background()
	_, _, err := m.Apply(ctx, "wf-1", workflow.Intent{Type: workflow.IntentSelect})
	require.NoError(t, err)
	_, _, err = m.Apply(ctx, "wf-1", workflow.Intent{Type: workflow.IntentNodePointerUp})
	require.NoError(t, err)

	var applies []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "session.apply" {
			applies = append(applies, s)
		}
	}
	require.Len(t, applies, 2)

	assert.Equal(t, codes.Unset, applies[0].Status().Code)
	assert.Contains(t, applies[0].Attributes(), attribute.String("intent.type", "select"))
	assert.Contains(t, applies[0].Attributes(), attribute.String("workflow.id", "wf-1"))

	assert.Equal(t, codes.Error, applies[1].Status().Code)
	assert.Contains(t, applies[1].Attributes(), attribute.String("flowcanvas.error_code", string(types.ErrInvalidTransition)))
}

func TestManager_ReplaceResetsGesture(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), nil)
	ctx := context.Background()

	readyCanvas(t, m, "wf-1")
	res, _, err := m.Apply(ctx, "wf-1", workflow.Intent{Type: workflow.IntentPaletteDragStart, Kind: "循环"})
	require.NoError(t, err)
	require.Equal(t, workflow.StateDraggingFromPalette, res.State.State)

	replacement := workflow.SeedSnapshot()
	replacement.Nodes = replacement.Nodes[:1]
	replacement.Edges = nil
	snap, err := m.Replace(ctx, "wf-1", replacement)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1)

	s, err := m.Open(ctx, "wf-1")
	require.NoError(t, err)
	gesture, _ := s.View()
	assert.Equal(t, workflow.StateIdle, gesture.State)
}

func TestManager_ReplaceRejectsCorrupt(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), nil)
	ctx := context.Background()

	before, err := m.Snapshot(ctx, "wf-1")
	require.NoError(t, err)

	bad := workflow.SeedSnapshot()
	bad.Nodes = append(bad.Nodes, bad.Nodes[0])
	_, err = m.Replace(ctx, "wf-1", bad)
	assert.True(t, types.IsCode(err, types.ErrCorruptDocument))

	after, err := m.Snapshot(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestManager_Delete(t *testing.T) {
	st := store.NewMemoryStore()
	m := newTestManager(t, st, testEditorConfig(), nil)
	ctx := context.Background()

	_, err := m.Save(ctx, "wf-1")
	require.NoError(t, err)
	_, sub, err := m.Subscribe(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "wf-1"))
	assert.Zero(t, m.Active())

	_, open := <-sub.C()
	assert.False(t, open, "subscription closed with the session")

	_, err = st.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = m.Delete(ctx, "wf-1")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestManager_DeleteWaitsForSaveInFlight(t *testing.T) {
	st := newGatedStore()
	m := newTestManager(t, st, testEditorConfig(), nil)
	ctx := context.Background()
	pan(t, m, "wf-1", 25)

	saved := make(chan error, 1)
	go func() {
		_, err := m.Save(ctx, "wf-1")
		saved <- err
	}()
	st.waitStarted(t)

	deleted := make(chan error, 1)
	go func() { deleted <- m.Delete(ctx, "wf-1") }()

	select {
	case err := <-deleted:
		t.Fatalf("delete returned before the save finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(st.release)
	require.NoError(t, <-saved)
	require.NoError(t, <-deleted)

	_, err := st.Load(ctx, "wf-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "saved snapshot must not outlive the delete")
}

func TestManager_List(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), nil)
	ctx := context.Background()

	for _, id := range []string{"b", "a"} {
		_, err := m.Save(ctx, id)
		require.NoError(t, err)
	}
	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
}

// =============================================================================
// 📡 订阅
// =============================================================================

func TestSubscription_ReceivesChanges(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), nil)
	ctx := context.Background()

	_, sub, err := m.Subscribe(ctx, "wf-1")
	require.NoError(t, err)
	defer sub.Close()

	readyCanvas(t, m, "wf-1")
	dropNode(t, m, "wf-1", "ChatGPT 4", pt(10, 10))

	var ops []workflow.ChangeOp
	for len(ops) < 1 {
		select {
		case ch := <-sub.C():
			ops = append(ops, ch.Op)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", ops)
		}
	}
	assert.Equal(t, []workflow.ChangeOp{workflow.ChangeNodeAdded}, ops)
	assert.False(t, sub.Lagged())
}

func TestSubscription_SlowReaderNeverBlocksWriter(t *testing.T) {
	cfg := testEditorConfig()
	cfg.SubscriberBuffer = 1
	metrics := newRecordingMetrics()
	m := newTestManager(t, store.NewMemoryStore(), cfg, metrics)
	ctx := context.Background()

	_, sub, err := m.Subscribe(ctx, "wf-1")
	require.NoError(t, err)
	defer sub.Close()

	readyCanvas(t, m, "wf-1")
	for i := range 5 {
		dropNode(t, m, "wf-1", "循环", pt(float64(i*10), 0))
	}

	assert.True(t, sub.Lagged())
	assert.False(t, sub.Lagged(), "flag clears on read")
	assert.Positive(t, metrics.dropped)
	assert.Len(t, sub.C(), 1)
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(), testEditorConfig(), nil)
	s, sub, err := m.Subscribe(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Subscribers())

	sub.Close()
	sub.Close()
	assert.Zero(t, s.Subscribers())
}

// =============================================================================
// ⏱️ 自动保存与回收
// =============================================================================

func TestManager_Autosave(t *testing.T) {
	st := newCountingStore()
	cfg := testEditorConfig()
	cfg.AutosaveInterval = 10 * time.Millisecond
	m := newTestManager(t, st, cfg, nil)

	pan(t, m, "wf-1", 25)

	require.Eventually(t, func() bool {
		_, err := st.MemoryStore.Load(context.Background(), "wf-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	saves := st.saves.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, saves, st.saves.Load(), "clean sessions are not re-saved")
}

func TestManager_EvictsIdleSessions(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := testEditorConfig()
	cfg.IdleTimeout = 40 * time.Millisecond
	m := newTestManager(t, st, cfg, nil)
	ctx := context.Background()

	pan(t, m, "idle", 25)
	_, sub, err := m.Subscribe(ctx, "watched")
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return m.Active() == 1 }, 2*time.Second, 10*time.Millisecond)

	// dirty state was saved on the way out
	_, err = st.Load(ctx, "idle")
	assert.NoError(t, err)

	// the watched session survives while subscribed
	_, err = m.lookup("watched")
	require.NoError(t, err)
}

func TestManager_EvictionSaveKeepsSessionReachable(t *testing.T) {
	st := newGatedStore()
	cfg := testEditorConfig()
	cfg.SeedNewDocuments = false
	cfg.IdleTimeout = 30 * time.Millisecond
	m := newTestManager(t, st, cfg, nil)
	ctx := context.Background()

	readyCanvas(t, m, "doc1")
	edited := dropNode(t, m, "doc1", "文本分割", pt(100, 80))
	require.Len(t, edited.Nodes, 1)

	// the eviction save is now blocked inside the store
	st.waitStarted(t)

	snap, err := m.Snapshot(ctx, "doc1")
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1, "reopen during the eviction save must see the edits")
	assert.Equal(t, edited.Version, snap.Version)
	assert.Equal(t, 1, m.Active())

	close(st.release)

	// the session stays idle afterwards and is dropped on a later pass
	require.Eventually(t, func() bool { return m.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
	stored, err := st.Load(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, edited.Version, stored.Version)
	assert.Len(t, stored.Nodes, 1)

	snap, err = m.Snapshot(ctx, "doc1")
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1)
}

func TestManager_EvictionKeepsSessionEditedDuringSave(t *testing.T) {
	st := newGatedStore()
	cfg := testEditorConfig()
	cfg.SeedNewDocuments = false
	cfg.IdleTimeout = 30 * time.Millisecond
	m := newTestManager(t, st, cfg, nil)
	ctx := context.Background()

	readyCanvas(t, m, "doc1")
	dropNode(t, m, "doc1", "文本分割", pt(100, 80))
	st.waitStarted(t)

	second := dropNode(t, m, "doc1", "ChatGPT 4", pt(200, 80))
	close(st.release)

	require.Eventually(t, func() bool {
		stored, err := st.Load(ctx, "doc1")
		return err == nil && stored.Version == second.Version
	}, 2*time.Second, 10*time.Millisecond, "the edit made during the first save is saved too")

	snap, err := m.Snapshot(ctx, "doc1")
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
}

func TestManager_CloseFlushesDirtySessions(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, testEditorConfig(), nil, zap.NewNop())
	ctx := context.Background()

	pan(t, m, "wf-1", 25)
	_, sub, err := m.Subscribe(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))

	_, err = st.Load(ctx, "wf-1")
	assert.NoError(t, err)

	_, open := <-sub.C()
	assert.False(t, open)

	_, err = m.Open(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_FlushReportsFailures(t *testing.T) {
	st := store.NewMemoryStore()
	m := newTestManager(t, st, testEditorConfig(), nil)
	ctx := context.Background()

	pan(t, m, "wf-1", 25)
	require.NoError(t, m.Flush(ctx))

	pan(t, m, "wf-1", 50)
	require.NoError(t, st.Close())
	err := m.Flush(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStoreClosed))
}
