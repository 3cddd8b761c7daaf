// Package regions resolves where a workspace's data lives: the main
// deployment or one of the configured data regions, each with its own
// database and bucket.
package regions

import (
	"fmt"
	"regexp"

	"github.com/tenantfed/relocator/pkg/objectstore"
)

// MainRegionKey names the main deployment in registry listings.
const MainRegionKey = "main"

// maxRegionKeyLen follows the length limit of DNS labels.
const maxRegionKeyLen = 63

var regionKeyRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Supported database types.
const (
	DBTypePostgres = "postgres"
	DBTypeMySQL    = "mysql"
	DBTypeSQLite   = "sqlite"
)

// Supported storage types.
const (
	StorageTypeS3     = "s3"
	StorageTypeMemory = "memory"
)

// DBConfig selects a gorm dialect and its DSN.
type DBConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// StorageConfig addresses one bucket. Type defaults to s3.
type StorageConfig struct {
	Type           string `mapstructure:"type" yaml:"type"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	Region         string `mapstructure:"region" yaml:"region"`
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey      string `mapstructure:"accessKey" yaml:"accessKey"`
	SecretKey      string `mapstructure:"secretKey" yaml:"secretKey"`
	ForcePathStyle bool   `mapstructure:"forcePathStyle" yaml:"forcePathStyle"`
}

func (c StorageConfig) s3Config() objectstore.S3Config {
	return objectstore.S3Config{
		Endpoint:       c.Endpoint,
		Region:         c.Region,
		Bucket:         c.Bucket,
		AccessKey:      c.AccessKey,
		SecretKey:      c.SecretKey,
		ForcePathStyle: c.ForcePathStyle,
	}
}

// RegionConfig is the connection material of one deployment.
type RegionConfig struct {
	DB      DBConfig      `mapstructure:"db" yaml:"db"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// Validate checks that the config names a supported database and a bucket.
func (c RegionConfig) Validate() error {
	switch c.DB.Type {
	case DBTypePostgres, DBTypeMySQL, DBTypeSQLite:
	case "":
		return fmt.Errorf("db.type is required")
	default:
		return fmt.Errorf("unsupported db.type %q (want postgres, mysql or sqlite)", c.DB.Type)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	switch c.Storage.Type {
	case "", StorageTypeS3, StorageTypeMemory:
	default:
		return fmt.Errorf("unsupported storage.type %q (want s3 or memory)", c.Storage.Type)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	return nil
}

func validateRegionKey(key string) error {
	if key == "" {
		return fmt.Errorf("region key must not be empty")
	}
	if len(key) > maxRegionKeyLen {
		return fmt.Errorf("region key %q exceeds maximum length of %d characters", key, maxRegionKeyLen)
	}
	if !regionKeyRe.MatchString(key) {
		return fmt.Errorf("region key %q is invalid: must consist of lowercase alphanumeric characters or hyphens, and must start and end with an alphanumeric character", key)
	}
	return nil
}
