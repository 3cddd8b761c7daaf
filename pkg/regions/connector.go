package regions

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tenantfed/relocator/pkg/objectstore"
)

// Connector opens database and storage handles from configuration.
type Connector interface {
	OpenDB(cfg DBConfig) (*gorm.DB, error)
	OpenStorage(ctx context.Context, cfg StorageConfig) (objectstore.Client, error)
}

// DefaultConnector opens real gorm connections and S3 (or in-memory)
// buckets.
type DefaultConnector struct {
	// LogLevel of the gorm logger. Zero means warnings only.
	LogLevel logger.LogLevel
}

// OpenDB connects with the dialect named by cfg.Type. Unique-key
// violations are translated to gorm.ErrDuplicatedKey.
func (c DefaultConnector) OpenDB(cfg DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case DBTypePostgres:
		dialector = postgres.Open(cfg.DSN)
	case DBTypeMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DBTypeSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	level := c.LogLevel
	if level == 0 {
		level = logger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(stdlog.New(os.Stderr, "\r\n", stdlog.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Type, err)
	}
	return db, nil
}

func (c DefaultConnector) OpenStorage(ctx context.Context, cfg StorageConfig) (objectstore.Client, error) {
	switch cfg.Type {
	case "", StorageTypeS3:
		client, err := objectstore.NewS3Client(ctx, cfg.s3Config())
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", cfg.Bucket, err)
		}
		return client, nil
	case StorageTypeMemory:
		return objectstore.NewMemoryClient(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}
