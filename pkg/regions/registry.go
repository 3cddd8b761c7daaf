package regions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/tenantfed/relocator/pkg/objectstore"
)

// ErrRegionNotConfigured is returned when a workspace is assigned to a region
// key that has no connection material in the registry.
var ErrRegionNotConfigured = errors.New("region is not configured")

// Registry holds the connection material of the main deployment and every
// data region, and caches the handles opened from it. It is constructed
// explicitly and passed to whoever needs it.
type Registry struct {
	main      RegionConfig
	regions   map[string]RegionConfig
	connector Connector

	mu     sync.Mutex
	dbs    map[string]*gorm.DB
	stores map[string]objectstore.Client
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConnector replaces the DefaultConnector.
func WithConnector(c Connector) RegistryOption {
	return func(r *Registry) { r.connector = c }
}

// NewRegistry validates every config and returns a registry that opens
// handles lazily.
func NewRegistry(main RegionConfig, regions map[string]RegionConfig, opts ...RegistryOption) (*Registry, error) {
	if err := main.Validate(); err != nil {
		return nil, fmt.Errorf("main region: %w", err)
	}
	table := make(map[string]RegionConfig, len(regions))
	for key, cfg := range regions {
		if err := validateRegionKey(key); err != nil {
			return nil, err
		}
		if key == MainRegionKey {
			return nil, fmt.Errorf("region key %q is reserved", key)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("region %s: %w", key, err)
		}
		table[key] = cfg
	}

	r := &Registry{
		main:      main,
		regions:   table,
		connector: DefaultConnector{},
		dbs:       make(map[string]*gorm.DB),
		stores:    make(map[string]objectstore.Client),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Keys lists the configured data regions in sorted order, main excluded.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.regions))
	for k := range r.regions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is a configured data region.
func (r *Registry) Has(key string) bool {
	_, ok := r.regions[key]
	return ok
}

// Main returns the main deployment's database and bucket.
func (r *Registry) Main(ctx context.Context) (*gorm.DB, objectstore.Client, error) {
	return r.open(ctx, MainRegionKey, r.main)
}

// Region returns the database and bucket of a data region.
func (r *Registry) Region(ctx context.Context, key string) (*gorm.DB, objectstore.Client, error) {
	if key == MainRegionKey {
		return r.Main(ctx)
	}
	cfg, ok := r.regions[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrRegionNotConfigured, key)
	}
	return r.open(ctx, key, cfg)
}

func (r *Registry) open(ctx context.Context, key string, cfg RegionConfig) (*gorm.DB, objectstore.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, ok := r.dbs[key]
	if !ok {
		var err error
		db, err = r.connector.OpenDB(cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("region %s: %w", key, err)
		}
		r.dbs[key] = db
	}

	st, ok := r.stores[key]
	if !ok {
		var err error
		st, err = r.connector.OpenStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, nil, fmt.Errorf("region %s: %w", key, err)
		}
		r.stores[key] = st
	}
	return db, st, nil
}

// Close releases every database handle opened so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, db := range r.dbs {
		sqlDB, err := db.DB()
		if err != nil {
			errs = append(errs, fmt.Errorf("region %s: %w", key, err))
			continue
		}
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close region %s: %w", key, err))
		}
	}
	r.dbs = make(map[string]*gorm.DB)
	r.stores = make(map[string]objectstore.Client)
	return errors.Join(errs...)
}

// RegionInfo is a printable, credential-free view of one region.
type RegionInfo struct {
	Key         string `json:"key" yaml:"key"`
	DBType      string `json:"dbType" yaml:"dbType"`
	DSN         string `json:"dsn" yaml:"dsn"`
	StorageType string `json:"storageType" yaml:"storageType"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Bucket      string `json:"bucket" yaml:"bucket"`
}

// Describe lists main followed by the data regions, with passwords masked.
func (r *Registry) Describe() []RegionInfo {
	infos := []RegionInfo{describe(MainRegionKey, r.main)}
	for _, key := range r.Keys() {
		infos = append(infos, describe(key, r.regions[key]))
	}
	return infos
}

func describe(key string, cfg RegionConfig) RegionInfo {
	storageType := cfg.Storage.Type
	if storageType == "" {
		storageType = StorageTypeS3
	}
	return RegionInfo{
		Key:         key,
		DBType:      cfg.DB.Type,
		DSN:         RedactDSN(cfg.DB.Type, cfg.DB.DSN),
		StorageType: storageType,
		Endpoint:    cfg.Storage.Endpoint,
		Bucket:      cfg.Storage.Bucket,
	}
}
