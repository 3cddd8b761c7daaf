//go:build integration

package ha

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("relocator"),
		postgres.WithUsername("relocator"),
		postgres.WithPassword("relocator"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	return db
}

func startMySQL(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("relocator"),
		mysql.WithUsername("relocator"),
		mysql.WithPassword("relocator"),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start mysql: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		t.Fatalf("mysql dsn: %v", err)
	}
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	return db
}

func assertSerialized(t *testing.T, locker RunLocker) {
	t.Helper()
	var concurrent, maxConcurrent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "ws-shared", func() error {
				cur := concurrent.Add(1)
				for {
					prev := maxConcurrent.Load()
					if cur <= prev || maxConcurrent.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				concurrent.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxConcurrent.Load() > 1 {
		t.Errorf("expected max concurrency of 1, got %d", maxConcurrent.Load())
	}
}

func TestPostgresAdvisoryLock_Serialization(t *testing.T) {
	db := startPostgres(t)
	locker, err := NewRunLocker(db, testLockConfig())
	if err != nil {
		t.Fatalf("NewRunLocker: %v", err)
	}
	if _, ok := locker.(*pgAdvisoryLock); !ok {
		t.Fatalf("expected advisory lock, got %T", locker)
	}
	assertSerialized(t, locker)
}

func TestPostgresAdvisoryLock_Timeout(t *testing.T) {
	db := startPostgres(t)
	cfg := testLockConfig()
	cfg.Timeout = 200 * time.Millisecond
	locker, err := NewRunLocker(db, cfg)
	if err != nil {
		t.Fatalf("NewRunLocker: %v", err)
	}

	err = locker.WithLock(context.Background(), "ws-1", func() error {
		return locker.WithLock(context.Background(), "ws-1", func() error {
			t.Error("advisory lock acquired twice")
			return nil
		})
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestMySQLTableLock_Serialization(t *testing.T) {
	db := startMySQL(t)
	locker, err := NewRunLocker(db, testLockConfig())
	if err != nil {
		t.Fatalf("NewRunLocker: %v", err)
	}
	if _, ok := locker.(*tableRunLock); !ok {
		t.Fatalf("expected table lock, got %T", locker)
	}
	assertSerialized(t, locker)
}
