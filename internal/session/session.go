package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

// errEvicted is returned by Session methods once the manager has dropped the
// session. Manager methods reopen the document and retry.
var errEvicted = errors.New("session evicted")

// Session is one open document with its controller. All intents for the
// document are serialized through the session lock.
type Session struct {
	id      string
	store   saver
	metrics Metrics
	logger  *zap.Logger

	mu           sync.Mutex
	doc          *workflow.Document
	ctrl         *workflow.Controller
	savedVersion uint64
	lastActive   time.Time
	evicted      bool

	// saveMu orders saves so an older snapshot never lands after a newer one.
	saveMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[string]*Subscription
	buffer int
}

type saver interface {
	Save(ctx context.Context, id string, snap workflow.Snapshot) error
}

func newSession(id string, doc *workflow.Document, mapper workflow.CoordinateMapper, st saver, buffer int, metrics Metrics, logger *zap.Logger) *Session {
	s := &Session{
		id:           id,
		store:        st,
		metrics:      metrics,
		logger:       logger.With(zap.String("workflow_id", id)),
		doc:          doc,
		savedVersion: doc.Version(),
		lastActive:   time.Now(),
		subs:         make(map[string]*Subscription),
		buffer:       buffer,
	}
	s.ctrl = workflow.NewController(doc, mapper, s.logger)
	doc.Subscribe(s.publish)
	return s
}

// ID returns the workflow id.
func (s *Session) ID() string { return s.id }

// Apply runs one intent and returns its result with the snapshot taken right after it.
func (s *Session) Apply(in workflow.Intent) (workflow.Result, workflow.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return workflow.Result{}, workflow.Snapshot{}, errEvicted
	}

	start := time.Now()
	res := s.ctrl.Apply(in)
	s.metrics.RecordIntent(string(in.Type), outcome(res), time.Since(start))
	s.lastActive = time.Now()

	if res.Err != nil {
		s.logger.Debug("intent rejected", zap.String("intent", string(in.Type)), zap.Error(res.Err))
	}
	return res, s.doc.Snapshot(), nil
}

func outcome(res workflow.Result) string {
	switch {
	case res.Err != nil:
		if code := types.GetErrorCode(res.Err); code != "" {
			return string(code)
		}
		return "error"
	case res.Changed:
		return "applied"
	default:
		return "noop"
	}
}

// Snapshot returns the current document state.
func (s *Session) Snapshot() (workflow.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return workflow.Snapshot{}, errEvicted
	}
	s.lastActive = time.Now()
	return s.doc.Snapshot(), nil
}

// View returns the controller's gesture and selection.
func (s *Session) View() (workflow.Gesture, workflow.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.State(), s.ctrl.Selection()
}

// Replace swaps the document for snap. Any gesture in flight is abandoned.
func (s *Session) Replace(snap workflow.Snapshot) (workflow.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return workflow.Snapshot{}, errEvicted
	}
	if err := s.doc.Replace(snap); err != nil {
		return workflow.Snapshot{}, err
	}
	s.ctrl.Reset()
	s.lastActive = time.Now()
	return s.doc.Snapshot(), nil
}

// Dirty reports whether the document changed since it was last saved or loaded.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Version() != s.savedVersion
}

// Save persists the current snapshot. A session saves even when clean.
func (s *Session) Save(ctx context.Context) (workflow.Snapshot, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return workflow.Snapshot{}, errEvicted
	}
	snap := s.doc.Snapshot()
	s.mu.Unlock()
	return snap, s.persist(ctx, snap)
}

// saveIfDirty is a no-op for clean or evicted sessions.
func (s *Session) saveIfDirty(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.evicted || s.doc.Version() == s.savedVersion {
		s.mu.Unlock()
		return nil
	}
	snap := s.doc.Snapshot()
	s.mu.Unlock()
	return s.persist(ctx, snap)
}

// waitSaves blocks until a save in flight has reached the store.
func (s *Session) waitSaves() {
	s.saveMu.Lock()
	s.saveMu.Unlock()
}

// persist must be called with saveMu held.
func (s *Session) persist(ctx context.Context, snap workflow.Snapshot) error {
	if err := s.store.Save(ctx, s.id, snap); err != nil {
		return err
	}
	s.mu.Lock()
	if snap.Version > s.savedVersion {
		s.savedVersion = snap.Version
	}
	s.mu.Unlock()
	s.logger.Debug("workflow saved", zap.Uint64("version", snap.Version))
	return nil
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(s.lastActive)
}

// =============================================================================
// 📡 订阅
// =============================================================================

// Subscription receives every Change of one session. Delivery never blocks
// the writer: when the buffer is full the change is dropped and Lagged is
// set, after which the reader should resynchronize from a fresh snapshot.
type Subscription struct {
	ID string

	ch     chan workflow.Change
	lagged atomic.Bool
	once   sync.Once
	cancel func()
}

// C delivers changes. It is closed on Close or when the session goes away.
func (sub *Subscription) C() <-chan workflow.Change { return sub.ch }

// Lagged reports and clears the dropped-change flag.
func (sub *Subscription) Lagged() bool { return sub.lagged.Swap(false) }

// Close unsubscribes and closes C.
func (sub *Subscription) Close() { sub.cancel() }

func (sub *Subscription) close() {
	sub.once.Do(func() { close(sub.ch) })
}

// Subscribe registers a new change subscriber.
func (s *Session) Subscribe() (*Subscription, error) {
	sub := &Subscription{
		ID: uuid.NewString(),
		ch: make(chan workflow.Change, s.buffer),
	}
	sub.cancel = func() {
		s.subMu.Lock()
		delete(s.subs, sub.ID)
		sub.close()
		s.subMu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return nil, errEvicted
	}
	s.lastActive = time.Now()

	s.subMu.Lock()
	s.subs[sub.ID] = sub
	s.subMu.Unlock()
	return sub, nil
}

// Subscribers returns the number of live subscriptions.
func (s *Session) Subscribers() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs)
}

// publish runs on the writer inside a document mutation.
func (s *Session) publish(ch workflow.Change) {
	s.metrics.RecordDocumentChange(string(ch.Op))

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- ch:
		default:
			sub.lagged.Store(true)
			s.metrics.RecordDroppedChange()
			s.logger.Debug("subscriber lagging, change dropped", zap.String("subscriber", sub.ID))
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, sub := range s.subs {
		sub.close()
		delete(s.subs, id)
	}
}
