package regions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tenantfed/relocator/pkg/model"
	"github.com/tenantfed/relocator/pkg/objectstore"
)

func sqliteRegion(t *testing.T, name string) RegionConfig {
	t.Helper()
	return RegionConfig{
		DB: DBConfig{
			Type: DBTypeSQLite,
			DSN:  filepath.Join(t.TempDir(), name+".db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		},
		Storage: StorageConfig{Type: StorageTypeMemory, Bucket: name + "-bucket"},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(sqliteRegion(t, "main"), map[string]RegionConfig{
		"eu-1": sqliteRegion(t, "eu-1"),
	}, WithConnector(DefaultConnector{LogLevel: logger.Silent}))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func seedMain(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, model.AutoMigrate(db))
	require.NoError(t, db.Create(&[]model.Workspace{
		{ID: "ws-main", Name: "Main"},
		{ID: "ws-eu", Name: "EU"},
		{ID: "ws-ap", Name: "AP"},
	}).Error)
	require.NoError(t, db.Create(&[]model.WorkspaceRegion{
		{WorkspaceID: "ws-eu", RegionKey: "eu-1"},
		{WorkspaceID: "ws-ap", RegionKey: "ap-1"},
	}).Error)
}

func TestResolveWorkspaceWithoutRegion(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mainDB, mainStorage, err := reg.Main(ctx)
	require.NoError(t, err)
	seedMain(t, mainDB)

	h, err := NewResolver(reg, nil).Resolve(ctx, "ws-main")
	require.NoError(t, err)
	assert.False(t, h.Regionalized())
	assert.Nil(t, h.RegionKey)
	assert.Same(t, h.MainDB, h.RegionDB)
	assert.Equal(t, mainStorage, h.RegionStorage)
	assert.Equal(t, "main-bucket", h.MainStorage.Bucket())
}

func TestResolveRegionalizedWorkspace(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mainDB, _, err := reg.Main(ctx)
	require.NoError(t, err)
	seedMain(t, mainDB)

	h, err := NewResolver(reg, nil).Resolve(ctx, "ws-eu")
	require.NoError(t, err)
	require.True(t, h.Regionalized())
	assert.Equal(t, "eu-1", *h.RegionKey)
	assert.NotSame(t, h.MainDB, h.RegionDB)
	assert.Equal(t, "eu-1-bucket", h.RegionStorage.Bucket())
	assert.Equal(t, "main-bucket", h.MainStorage.Bucket())
}

func TestResolveUnknownWorkspace(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mainDB, _, err := reg.Main(ctx)
	require.NoError(t, err)
	seedMain(t, mainDB)

	_, err = NewResolver(reg, nil).Resolve(ctx, "ws-nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
	var nf *WorkspaceNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ws-nope", nf.WorkspaceID)
}

func TestResolveRegionMissingFromRegistry(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	mainDB, _, err := reg.Main(ctx)
	require.NoError(t, err)
	seedMain(t, mainDB)

	_, err = NewResolver(reg, nil).Resolve(ctx, "ws-ap")
	assert.ErrorIs(t, err, ErrRegionNotConfigured)
}

type countingConnector struct {
	dbOpens      int
	storageOpens int
	inner        DefaultConnector
}

func (c *countingConnector) OpenDB(cfg DBConfig) (*gorm.DB, error) {
	c.dbOpens++
	return c.inner.OpenDB(cfg)
}

func (c *countingConnector) OpenStorage(ctx context.Context, cfg StorageConfig) (objectstore.Client, error) {
	c.storageOpens++
	return c.inner.OpenStorage(ctx, cfg)
}

func TestRegistryCachesHandles(t *testing.T) {
	ctx := context.Background()
	conn := &countingConnector{inner: DefaultConnector{LogLevel: logger.Silent}}
	reg, err := NewRegistry(sqliteRegion(t, "main"), map[string]RegionConfig{
		"eu-1": sqliteRegion(t, "eu-1"),
	}, WithConnector(conn))
	require.NoError(t, err)
	defer reg.Close()

	db1, _, err := reg.Region(ctx, "eu-1")
	require.NoError(t, err)
	db2, _, err := reg.Region(ctx, "eu-1")
	require.NoError(t, err)
	assert.Same(t, db1, db2)
	assert.Equal(t, 1, conn.dbOpens)
	assert.Equal(t, 1, conn.storageOpens)

	_, _, err = reg.Main(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, conn.dbOpens)

	require.NoError(t, reg.Close())
	_, _, err = reg.Region(ctx, "eu-1")
	require.NoError(t, err)
	assert.Equal(t, 3, conn.dbOpens)
}

func TestNewRegistryValidation(t *testing.T) {
	good := sqliteRegion(t, "x")

	_, err := NewRegistry(RegionConfig{}, nil)
	assert.Error(t, err)

	_, err = NewRegistry(good, map[string]RegionConfig{"EU_1": good})
	assert.ErrorContains(t, err, "invalid")

	_, err = NewRegistry(good, map[string]RegionConfig{MainRegionKey: good})
	assert.ErrorContains(t, err, "reserved")

	bad := good
	bad.DB.Type = "oracle"
	_, err = NewRegistry(good, map[string]RegionConfig{"eu-1": bad})
	assert.ErrorContains(t, err, "oracle")

	noBucket := good
	noBucket.Storage.Bucket = ""
	_, err = NewRegistry(good, map[string]RegionConfig{"eu-1": noBucket})
	assert.ErrorContains(t, err, "bucket")
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		name    string
		dbType  string
		dsn     string
		want    string
		notWant string
	}{
		{"mysql", DBTypeMySQL, "app:s3cret@tcp(db:3306)/main?parseTime=true", "app:xxxxx@tcp(db:3306)/main", "s3cret"},
		{"postgres url", DBTypePostgres, "postgres://app:s3cret@db:5432/main?sslmode=disable", "postgres://app:xxxxx@db:5432/main", "s3cret"},
		{"postgres keyword", DBTypePostgres, "host=db user=app password=s3cret dbname=main", "password=xxxxx", "s3cret"},
		{"sqlite untouched", DBTypeSQLite, "/tmp/main.db", "/tmp/main.db", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RedactDSN(tc.dbType, tc.dsn)
			assert.Contains(t, got, tc.want)
			if tc.notWant != "" {
				assert.NotContains(t, got, tc.notWant)
			}
		})
	}
}

func TestDescribeListsMainFirst(t *testing.T) {
	main := sqliteRegion(t, "main")
	eu := RegionConfig{
		DB:      DBConfig{Type: DBTypeMySQL, DSN: "app:pw@tcp(eu:3306)/eu"},
		Storage: StorageConfig{Endpoint: "https://s3.eu.example", Bucket: "eu"},
	}
	reg, err := NewRegistry(main, map[string]RegionConfig{"eu-1": eu, "ap-1": main})
	require.NoError(t, err)

	infos := reg.Describe()
	require.Len(t, infos, 3)
	assert.Equal(t, []string{MainRegionKey, "ap-1", "eu-1"}, []string{infos[0].Key, infos[1].Key, infos[2].Key})
	assert.Equal(t, StorageTypeS3, infos[2].StorageType)
	assert.NotContains(t, infos[2].DSN, ":pw@")
	assert.True(t, reg.Has("eu-1"))
	assert.False(t, reg.Has("main"))
}
