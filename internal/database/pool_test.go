package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func mockGorm(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return mockDB, mock, gdb
}

func newMockPool(t *testing.T, opts ...PoolOption) (*Pool, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, gdb := mockGorm(t)
	p, err := NewPool(gdb, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return p, mock, mockDB
}

func TestNewPool(t *testing.T) {
	mockDB, _, gdb := mockGorm(t)
	defer mockDB.Close()

	cfg := PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}
	p, err := NewPool(gdb, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Same(t, gdb, p.DB())
	assert.Equal(t, 10, mockDB.Stats().MaxOpenConnections)
}

func TestNewPool_Rejects(t *testing.T) {
	_, err := NewPool(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)

	mockDB, _, gdb := mockGorm(t)
	defer mockDB.Close()
	_, err = NewPool(gdb, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 2}, zap.NewNop())
	assert.ErrorContains(t, err, "exceeds")
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PoolConfig
		wantErr string
	}{
		{"default", DefaultPoolConfig(), ""},
		{"no open conns", PoolConfig{MaxIdleConns: 5}, "max_open_conns"},
		{"no idle conns", PoolConfig{MaxOpenConns: 10}, "max_idle_conns must be positive"},
		{"idle above open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPool_CloseIsFinal(t *testing.T) {
	p, mock, _ := newMockPool(t)
	ctx := context.Background()

	assert.NoError(t, p.Ping(ctx))

	mock.ExpectClose()
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, p.Ping(ctx), ErrPoolClosed)
	assert.ErrorIs(t, p.InTx(ctx, func(*gorm.DB) error { return nil }), ErrPoolClosed)
}

func TestPool_ProbeReportsStats(t *testing.T) {
	var reported atomic.Int32
	p, mock, mockDB := newMockPool(t, WithStatsReporter(func(open, idle int) { reported.Add(1) }))

	p.probe()
	assert.Equal(t, int32(1), reported.Load())

	mock.ExpectClose()
	require.NoError(t, mockDB.Close())
	p.probe()
	assert.Equal(t, int32(1), reported.Load(), "failed ping must not report")
}

func TestPool_InTx(t *testing.T) {
	p, mock, mockDB := newMockPool(t)
	defer mockDB.Close()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	assert.NoError(t, p.InTx(ctx, func(*gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, p.InTx(ctx, func(*gorm.DB) error { return assert.AnError }), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_InTxRetry(t *testing.T) {
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key"}

	tests := []struct {
		name         string
		attempts     int
		failures     []error
		wantAttempts int
		wantErr      error
	}{
		{"succeeds first time", 3, nil, 1, nil},
		{"retries a deadlock", 3, []error{deadlock}, 2, nil},
		{"gives up after attempts", 2, []error{deadlock, deadlock, deadlock}, 2, deadlock},
		{"does not retry constraint violations", 3, []error{unique}, 1, unique},
		{"zero attempts still runs once", 0, nil, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock, mockDB := newMockPool(t)
			defer mockDB.Close()

			for i := 0; i < tt.wantAttempts; i++ {
				mock.ExpectBegin()
				if i < len(tt.failures) {
					mock.ExpectRollback()
				} else {
					mock.ExpectCommit()
				}
			}

			calls := 0
			err := p.InTxRetry(context.Background(), tt.attempts, func(*gorm.DB) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			assert.Equal(t, tt.wantAttempts, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPool_InTxRetryHonoursContext(t *testing.T) {
	p, mock, mockDB := newMockPool(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	err := p.InTxRetry(ctx, 5, func(*gorm.DB) error {
		cancel()
		return &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found"}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505", Message: "deadlock in message only"}, false},
		{"mysql lock wait", &mysqldriver.MySQLError{Number: 1205}, true},
		{"mysql duplicate", &mysqldriver.MySQLError{Number: 1062}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"wrapped network", fmt.Errorf("save: %w", errors.New("write: broken pipe")), true},
		{"syntax", errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestDialector(t *testing.T) {
	for _, name := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(name, "x")
		require.NoError(t, err, name)
		assert.Equal(t, name, d.Name())
	}

	_, err := Dialector("oracle", "x")
	assert.ErrorContains(t, err, "unsupported")
	_, err = Dialector("postgres", "")
	assert.Error(t, err)
}

func TestOpen_SQLiteInMemory(t *testing.T) {
	db, err := Open("sqlite", "file::memory:")
	require.NoError(t, err)

	p, err := NewPool(db, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	assert.NoError(t, p.Ping(context.Background()))
}
