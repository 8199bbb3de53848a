package store

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"time"

	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

// Backend names, also used as the "backend" metric label.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendDatabase = "database"
)

var (
	// ErrNotFound is returned by Load and Delete for unknown ids.
	ErrNotFound = errors.New("workflow document not found")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("workflow store is closed")
)

// DocumentStore loads and saves workflow snapshots by id.
// Implementations are safe for concurrent use.
type DocumentStore interface {
	// Load returns the stored snapshot, or ErrNotFound.
	Load(ctx context.Context, id string) (workflow.Snapshot, error)
	// Save creates or overwrites the snapshot stored under id.
	Save(ctx context.Context, id string, snap workflow.Snapshot) error
	// Delete removes the snapshot, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// List returns a summary of every stored document ordered by id.
	List(ctx context.Context) ([]Summary, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// Summary describes a stored document without its content.
type Summary struct {
	ID        string    `json:"id"`
	Version   uint64    `json:"version"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(id string, snap workflow.Snapshot, updated time.Time) Summary {
	return Summary{
		ID:        id,
		Version:   snap.Version,
		NodeCount: len(snap.Nodes),
		EdgeCount: len(snap.Edges),
		UpdatedAt: updated,
	}
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateID checks that id is usable as a key in every backend, including as a file name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return types.Errorf(types.ErrInvalidRequest,
			"invalid workflow id %q: want 1-128 chars of [A-Za-z0-9_.-] starting with a letter or digit", id)
	}
	return nil
}

// IsUnavailable reports whether err is an infrastructure failure rather than
// a missing or corrupt document.
func IsUnavailable(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	code := types.GetErrorCode(err)
	return code != types.ErrCorruptDocument && code != types.ErrInvalidRequest
}

func encode(snap workflow.Snapshot) ([]byte, error) {
	return workflow.EncodeJSON(snap)
}

func decode(data []byte) (workflow.Snapshot, error) {
	return workflow.DecodeJSON(data)
}
