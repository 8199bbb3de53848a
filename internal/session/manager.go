package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/store"
	"github.com/BaSui01/flowcanvas/internal/telemetry"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

// Load sources, used as the "source" metric label.
const (
	SourceStore = "store"
	SourceSeed  = "seed"
	SourceEmpty = "empty"
)

// Metrics is the metrics surface sessions report to. *metrics.Collector satisfies it.
type Metrics interface {
	RecordIntent(intentType, outcome string, duration time.Duration)
	RecordDocumentChange(op string)
	SetActiveSessions(n int)
	RecordSessionLoad(source string)
	RecordDroppedChange()
}

type nopMetrics struct{}

func (nopMetrics) RecordIntent(string, string, time.Duration) {}
func (nopMetrics) RecordDocumentChange(string)                {}
func (nopMetrics) SetActiveSessions(int)                      {}
func (nopMetrics) RecordSessionLoad(string)                   {}
func (nopMetrics) RecordDroppedChange()                       {}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session manager is closed")

// saveTimeout bounds each background save.
const saveTimeout = 10 * time.Second

// Manager owns the open editing sessions, one per workflow id.
type Manager struct {
	store    store.DocumentStore
	registry *workflow.Registry
	cfg      config.EditorConfig
	metrics  Metrics
	logger   *zap.Logger

	loads singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a manager and starts its autosave and eviction loop.
// metrics may be nil.
func NewManager(st store.DocumentStore, registry *workflow.Registry, cfg config.EditorConfig, metrics Metrics, logger *zap.Logger) *Manager {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 1
	}
	m := &Manager{
		store:    st,
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "sessions")),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

// Registry returns the node-kind registry shared by all sessions.
func (m *Manager) Registry() *workflow.Registry { return m.registry }

// Open returns the session for id, loading the document on first use.
// Concurrent opens of the same id share one load. An unknown id opens an
// empty document, or the starter graph when seeding is enabled.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	if s, err := m.lookup(id); s != nil || err != nil {
		return s, err
	}

	v, err, _ := m.loads.Do(id, func() (any, error) {
		if s, err := m.lookup(id); s != nil || err != nil {
			return s, err
		}
		doc, source, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		s := newSession(id, doc, workflow.CoordinateMapper{SnapGrid: m.cfg.SnapGrid}, m.store, m.cfg.SubscriberBuffer, m.metrics, m.logger)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, ErrClosed
		}
		m.sessions[id] = s
		m.metrics.SetActiveSessions(len(m.sessions))
		m.metrics.RecordSessionLoad(source)
		m.logger.Info("session opened",
			zap.String("workflow_id", id),
			zap.String("source", source),
			zap.Int("nodes", doc.NodeCount()),
			zap.Int("edges", doc.EdgeCount()),
		)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.sessions[id], nil
}

func (m *Manager) load(ctx context.Context, id string) (*workflow.Document, string, error) {
	opts := []workflow.DocumentOption{
		workflow.WithIDGenerator(workflow.NewIDGenerator(m.cfg.IDPrefix)),
		workflow.WithLogger(m.logger),
	}

	snap, err := m.store.Load(ctx, id)
	source := SourceStore
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		if !m.cfg.SeedNewDocuments {
			return workflow.NewDocument(m.registry, opts...), SourceEmpty, nil
		}
		snap, source = workflow.SeedSnapshot(), SourceSeed
	default:
		return nil, "", err
	}

	doc, err := workflow.Deserialize(snap, m.registry, opts...)
	if err != nil {
		return nil, "", err
	}
	return doc, source, nil
}

// withSession runs fn on the open session for id, reopening once if the
// session was evicted between lookup and use.
func (m *Manager) withSession(ctx context.Context, id string, fn func(*Session) error) error {
	for attempt := 0; ; attempt++ {
		s, err := m.Open(ctx, id)
		if err != nil {
			return err
		}
		err = fn(s)
		if !errors.Is(err, errEvicted) || attempt > 0 {
			return err
		}
	}
}

// Snapshot returns the current snapshot of id.
func (m *Manager) Snapshot(ctx context.Context, id string) (snap workflow.Snapshot, err error) {
	err = m.withSession(ctx, id, func(s *Session) error {
		snap, err = s.Snapshot()
		return err
	})
	return snap, err
}

// Apply runs one intent against id. A rejected intent is reported in
// res.Err; err is reserved for failures to open the session.
func (m *Manager) Apply(ctx context.Context, id string, in workflow.Intent) (res workflow.Result, snap workflow.Snapshot, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.apply",
		attribute.String("workflow.id", id),
		attribute.String("intent.type", string(in.Type)),
	)
	err = m.withSession(ctx, id, func(s *Session) error {
		res, snap, err = s.Apply(in)
		return err
	})
	if err == nil {
		telemetry.CountIntent(ctx, string(in.Type), outcome(res))
		span.SetAttributes(attribute.Int64("workflow.version", int64(snap.Version)))
		telemetry.EndSpan(span, res.Err)
	} else {
		telemetry.EndSpan(span, err)
	}
	return res, snap, err
}

// Replace swaps the content of id for snap.
func (m *Manager) Replace(ctx context.Context, id string, snap workflow.Snapshot) (out workflow.Snapshot, err error) {
	err = m.withSession(ctx, id, func(s *Session) error {
		out, err = s.Replace(snap)
		return err
	})
	return out, err
}

// Save persists id now.
func (m *Manager) Save(ctx context.Context, id string) (snap workflow.Snapshot, err error) {
	err = m.withSession(ctx, id, func(s *Session) error {
		snap, err = s.Save(ctx)
		return err
	})
	return snap, err
}

// Subscribe opens id and registers a change subscriber on it.
func (m *Manager) Subscribe(ctx context.Context, id string) (sess *Session, sub *Subscription, err error) {
	err = m.withSession(ctx, id, func(s *Session) error {
		sub, err = s.Subscribe()
		sess = s
		return err
	})
	return sess, sub, err
}

// Delete closes the session for id and removes the stored document.
// Deleting a document that was never saved returns NOT_FOUND.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := store.ValidateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s := m.sessions[id]
	delete(m.sessions, id)
	m.metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if s != nil {
		s.mu.Lock()
		s.evicted = true
		s.mu.Unlock()
		s.closeSubscribers()
		// a save that started before the flag was set must not recreate the document
		s.waitSaves()
	}

	err := m.store.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.Errorf(types.ErrNotFound, "workflow %q not found", id).WithCause(err)
	}
	return err
}

// List returns summaries of the stored documents.
func (m *Manager) List(ctx context.Context) ([]store.Summary, error) {
	return m.store.List(ctx)
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// =============================================================================
// ⏱️ 自动保存与空闲回收
// =============================================================================

func (m *Manager) loop() {
	defer close(m.done)

	var autosave, evict <-chan time.Time
	if m.cfg.AutosaveInterval > 0 {
		t := time.NewTicker(m.cfg.AutosaveInterval)
		defer t.Stop()
		autosave = t.C
	}
	if m.cfg.IdleTimeout > 0 {
		t := time.NewTicker(max(m.cfg.IdleTimeout/4, 10*time.Millisecond))
		defer t.Stop()
		evict = t.C
	}

	for {
		select {
		case <-m.stop:
			return
		case <-autosave:
			m.autosave()
		case now := <-evict:
			m.evictIdle(now)
		}
	}
}

func (m *Manager) open() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) autosave() {
	for _, s := range m.open() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := s.saveIfDirty(ctx); err != nil {
			m.logger.Warn("autosave failed", zap.String("workflow_id", s.id), zap.Error(err))
		}
		cancel()
	}
}

// evictIdle drops sessions idle longer than the idle timeout that have no
// subscribers. A dirty session is saved while it is still registered, so a
// concurrent Open keeps using it instead of loading the stored copy; it is
// dropped only if it is still idle and clean once the save returns.
func (m *Manager) evictIdle(now time.Time) {
	var candidates []*Session
	m.mu.Lock()
	for _, s := range m.sessions {
		if m.idle(s, now) {
			candidates = append(candidates, s)
		}
	}
	m.mu.Unlock()

	for _, s := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := s.saveIfDirty(ctx)
		cancel()
		if err != nil {
			m.logger.Warn("save before eviction failed, session kept", zap.String("workflow_id", s.id), zap.Error(err))
			continue
		}
		if m.evict(s, now) {
			m.logger.Info("session evicted", zap.String("workflow_id", s.id))
		}
	}
}

func (m *Manager) idle(s *Session, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleSince(now) >= m.cfg.IdleTimeout && s.Subscribers() == 0
}

// evict removes s if it is still the registered session for its id, has seen
// no activity since now and has nothing left to save.
func (m *Manager) evict(s *Session, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.id] != s {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleSince(now) < m.cfg.IdleTimeout || s.Subscribers() > 0 || s.doc.Version() != s.savedVersion {
		return false
	}
	s.evicted = true
	delete(m.sessions, s.id)
	m.metrics.SetActiveSessions(len(m.sessions))
	return true
}

// Flush saves every dirty session.
func (m *Manager) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m.open() {
		if err := s.saveIfDirty(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", s.id, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops the background loop, saves dirty sessions and ends every
// subscription. The store is not closed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.metrics.SetActiveSessions(0)
	m.mu.Unlock()

	close(m.stop)
	<-m.done

	var errs []error
	for _, s := range sessions {
		if err := s.saveIfDirty(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", s.id, err))
		}
		s.closeSubscribers()
	}
	m.logger.Info("session manager closed", zap.Int("sessions", len(sessions)))
	return errors.Join(errs...)
}
