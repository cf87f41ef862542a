package database

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/groundwork/config"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func newManager(t *testing.T, gormDB *gorm.DB, cfg PoolConfig) *PoolManager {
	t.Helper()
	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)
	return manager
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	cfg := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
	manager := newManager(t, gormDB, cfg)

	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, 10, manager.GetStats().MaxOpenConnections)

	_, err := NewPoolManager(nil, cfg, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	manager := newManager(t, gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, manager.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	manager := newManager(t, gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	mock.ExpectBegin()
	mock.ExpectCommit()
	err := manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil })
	assert.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	manager := newManager(t, gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	var attempts int
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		if attempts < 3 {
			return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_NonRetryable(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	manager := newManager(t, gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	mock.ExpectBegin()
	mock.ExpectRollback()

	var attempts int
	err := manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		return errors.New("unique constraint violated")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPoolManager_HealthCheckReportsStats(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 500; i++ {
		mock.ExpectPing()
	}
	mock.ExpectClose()

	var reports atomic.Int32
	manager := newManager(t, gormDB, PoolConfig{
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		HealthCheckInterval: 10 * time.Millisecond,
		OnStats:             func(sql.DBStats) { reports.Add(1) },
	})

	assert.Eventually(t, func() bool { return reports.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, manager.Close())
}

func TestPoolManager_CloseStopsHealthLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	_, mock, gormDB := setupTestDB(t)
	manager := newManager(t, gormDB, PoolConfig{
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		HealthCheckInterval: time.Hour,
	})

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	// 重复关闭是无操作
	require.NoError(t, manager.Close())
	assert.Error(t, manager.Ping(context.Background()))
	assert.Error(t, manager.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolConfigFrom(t *testing.T) {
	cfg := PoolConfigFrom(config.DatabaseConfig{Driver: "postgres", MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, time.Minute, cfg.ConnMaxLifetime)

	sqliteCfg := PoolConfigFrom(config.DatabaseConfig{Driver: "sqlite", MaxOpenConns: 25})
	assert.Equal(t, 1, sqliteCfg.MaxOpenConns)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Deadlock found when trying to get lock"), true},
		{errors.New("pq: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("database is locked"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Name: "groundwork"})
		require.NoError(t, err, driver)
		assert.Equal(t, driver, d.Name())
	}
	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
	_, err = Dialector(config.DatabaseConfig{})
	assert.Error(t, err)
}

func TestOpen_SQLiteMemory(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	assert.NoError(t, sqlDB.Ping())
}
