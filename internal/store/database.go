package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/flowcanvas/internal/database"
	"github.com/BaSui01/flowcanvas/workflow"
)

// saveRetries bounds InTxRetry for lock and serialization failures.
const saveRetries = 3

// documentRecord maps to the workflow_documents table created by the migrations.
type documentRecord struct {
	ID        string `gorm:"primaryKey;size:128"`
	Version   uint64 `gorm:"not null;default:0"`
	Payload   string `gorm:"type:text;not null"`
	NodeCount int    `gorm:"not null;default:0"`
	EdgeCount int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index:idx_workflow_documents_updated_at"`
}

func (documentRecord) TableName() string { return "workflow_documents" }

// DatabaseStore keeps one row per document in workflow_documents.
type DatabaseStore struct {
	pool   *database.Pool
	logger *zap.Logger
	closed atomic.Bool
}

// NewDatabaseStore wraps pool. Close closes the pool.
// With autoMigrate set the table is created through gorm instead of the
// versioned migrations.
func NewDatabaseStore(pool *database.Pool, autoMigrate bool, logger *zap.Logger) (*DatabaseStore, error) {
	s := &DatabaseStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "database_store")),
	}
	if autoMigrate {
		if err := pool.DB().AutoMigrate(&documentRecord{}); err != nil {
			return nil, fmt.Errorf("auto-migrate workflow_documents: %w", err)
		}
		s.logger.Info("workflow_documents schema ensured")
	}
	return s, nil
}

func (s *DatabaseStore) Load(ctx context.Context, id string) (workflow.Snapshot, error) {
	if s.closed.Load() {
		return workflow.Snapshot{}, ErrStoreClosed
	}
	var rec documentRecord
	err := s.pool.DB().WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return workflow.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("load %s: %w", id, err)
	}
	return decode([]byte(rec.Payload))
}

func (s *DatabaseStore) Save(ctx context.Context, id string, snap workflow.Snapshot) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec := documentRecord{
		ID:        id,
		Version:   snap.Version,
		Payload:   string(data),
		NodeCount: len(snap.Nodes),
		EdgeCount: len(snap.Edges),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var stored bool
	err = s.pool.InTxRetry(ctx, saveRetries, func(tx *gorm.DB) error {
		// 版本守卫：只覆盖不高于本次版本的行
		res := tx.Model(&documentRecord{}).
			Where("id = ? AND version <= ?", id, snap.Version).
			Updates(map[string]any{
				"version":    rec.Version,
				"payload":    rec.Payload,
				"node_count": rec.NodeCount,
				"edge_count": rec.EdgeCount,
				"updated_at": rec.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			stored = true
			return nil
		}
		// 无行被更新：文档不存在，或已存有更高版本
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if ins.Error != nil {
			return ins.Error
		}
		stored = ins.RowsAffected > 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	if !stored {
		s.logger.Debug("newer version already stored, save ignored",
			zap.String("workflow_id", id),
			zap.Uint64("version", snap.Version),
		)
	}
	return nil
}

func (s *DatabaseStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	res := s.pool.DB().WithContext(ctx).Where("id = ?", id).Delete(&documentRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DatabaseStore) List(ctx context.Context) ([]Summary, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var recs []documentRecord
	err := s.pool.DB().WithContext(ctx).
		Select("id", "version", "node_count", "edge_count", "updated_at").
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]Summary, len(recs))
	for i, r := range recs {
		out[i] = Summary{
			ID:        r.ID,
			Version:   r.Version,
			NodeCount: r.NodeCount,
			EdgeCount: r.EdgeCount,
			UpdatedAt: r.UpdatedAt.UTC(),
		}
	}
	return out, nil
}

func (s *DatabaseStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.pool.Ping(ctx)
}

func (s *DatabaseStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pool.Close()
}
