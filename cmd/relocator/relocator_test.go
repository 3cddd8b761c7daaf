package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tenantfed/relocator/pkg/config"
	"github.com/tenantfed/relocator/pkg/ha"
	"github.com/tenantfed/relocator/pkg/identity"
	"github.com/tenantfed/relocator/pkg/jobs"
	"github.com/tenantfed/relocator/pkg/migration"
	"github.com/tenantfed/relocator/pkg/model"
	"github.com/tenantfed/relocator/pkg/store"
)

// --- loadMapping tests ---

func TestLoadMapping(t *testing.T) {
	file := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(file, []byte("u1: d1\nu2: d2\n"), 0o600))

	tests := []struct {
		name    string
		pairs   []string
		file    string
		want    map[string]string
		wantErr string
	}{
		{
			name:  "pairs only",
			pairs: []string{"u1=d1", " u2 = d2 "},
			want:  map[string]string{"u1": "d1", "u2": "d2"},
		},
		{
			name: "file only",
			file: file,
			want: map[string]string{"u1": "d1", "u2": "d2"},
		},
		{
			name:  "pairs override file",
			pairs: []string{"u2=d9"},
			file:  file,
			want:  map[string]string{"u1": "d1", "u2": "d9"},
		},
		{
			name: "nothing",
			want: map[string]string{},
		},
		{
			name:    "missing separator",
			pairs:   []string{"u1"},
			wantErr: "invalid user mapping",
		},
		{
			name:    "empty destination",
			pairs:   []string{"u1="},
			wantErr: "invalid user mapping",
		},
		{
			name:    "missing file",
			file:    filepath.Join(t.TempDir(), "nope.yaml"),
			wantErr: "read mapping file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadMapping(tt.pairs, tt.file)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// --- explain tests ---

func TestExplainNamesOffendingID(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "unmapped user",
			err:  fmt.Errorf("project p1: %w", &identity.UnmappedUserError{UserID: "u-missing", Context: "branch b1"}),
			want: "add source user u-missing to the user mapping",
		},
		{
			name: "conflict",
			err:  &store.RelationalWriteError{Table: "projects", Conflict: true, Err: errors.New("exists")},
			want: "destination already has rows in projects",
		},
		{
			name: "lock timeout",
			err:  ha.ErrLockTimeout,
			want: "another relocation into workspace",
		},
		{
			name: "run in progress",
			err:  fmt.Errorf("%w: run r1 is abandoned", jobs.ErrRunInProgress),
			want: "runs recover",
		},
		{
			name: "other",
			err:  errors.New("disk full"),
			want: "disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := explain(tt.err)
			assert.Contains(t, got.Error(), tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

// --- output tests ---

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"Key", "Bucket"}, [][]string{{"main", "main-blobs"}, {"eu-1", "eu-blobs"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "KEY"))
	assert.Contains(t, lines[2], "eu-blobs")
}

func TestPrintYAMLUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printYAML(&buf, resolution{WorkspaceID: "ws", Region: "main"}))
	assert.Contains(t, buf.String(), "workspaceId: ws")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

// --- logging tests ---

func TestNewLoggerJSONToStderr(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Nil(t, closer)

	l.Info("hidden")
	l.Warn("shown", "project", "p1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "p1", rec["project"])
}

func TestNewLoggerToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relocator.log")
	l, closer, err := newLogger(config.LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1}, &bytes.Buffer{})
	require.NoError(t, err)
	require.NotNil(t, closer)

	l.Info("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, _, err := newLogger(config.LogConfig{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}

// --- end to end ---

func openTestDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	dsn := func(name string) string {
		return filepath.Join(dir, name) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	source := openTestDB(t, filepath.Join(dir, "source.db"))
	owner := "u1"
	require.NoError(t, source.Create(&model.User{ID: "u1"}).Error)
	require.NoError(t, source.Create(&model.Project{ID: "p1", Name: "Bridge", OwnerID: &owner}).Error)
	require.NoError(t, source.Create(&[]model.ObjectRecord{
		{ProjectID: "p1", ID: "o1", Payload: []byte("{}")},
		{ProjectID: "p1", ID: "o2", Payload: []byte("{}")},
		{ProjectID: "p1", ID: "o3", Payload: []byte("{}")},
	}).Error)
	require.NoError(t, source.Create(&model.Branch{ID: "b1", ProjectID: "p1", Name: "main", AuthorID: &owner}).Error)

	mainDB := openTestDB(t, filepath.Join(dir, "main.db"))
	require.NoError(t, mainDB.Create(&model.Workspace{ID: "ws-main", Name: "Main"}).Error)
	require.NoError(t, mainDB.Create(&model.WorkspaceRole{WorkspaceID: "ws-main", UserID: "d1", Role: model.WorkspaceRoleAdmin}).Error)

	cfgPath := filepath.Join(dir, "relocator.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
source:
  db: {type: sqlite, dsn: %q}
  storage: {type: memory, bucket: source}
regions:
  main:
    db: {type: sqlite, dsn: %q}
    storage: {type: memory, bucket: main}
  available:
    eu-1:
      db: {type: sqlite, dsn: %q}
      storage: {type: memory, bucket: eu}
migration:
  requestedBy: tester
log:
  level: error
`, dsn("source.db"), dsn("main.db"), dsn("eu.db"))), 0o600))
	noEnv := filepath.Join(dir, "none.env")

	out, err := execute(t, "--config", cfgPath, "--env-file", noEnv, "-o", "json",
		"migrate", "--workspace", "ws-main", "--project", "p1", "--map", "u1=d1")
	require.NoError(t, err)

	var reports []migration.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].Objects)
	assert.Equal(t, 1, reports[0].Branches)
	assert.Equal(t, 1, reports[0].Roles)
	assert.NotEmpty(t, reports[0].RunID)

	var n int64
	require.NoError(t, mainDB.Model(&model.ObjectRecord{}).Where("project_id = ?", "p1").Count(&n).Error)
	assert.Equal(t, int64(3), n)

	out, err = execute(t, "--config", cfgPath, "--env-file", noEnv, "-o", "json", "runs", "list", "--project", "p1")
	require.NoError(t, err)
	var list runList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, jobs.RunStateSucceeded, list.Runs[0].State)
	assert.Equal(t, "tester", list.Runs[0].RequestedBy)

	out, err = execute(t, "--config", cfgPath, "--env-file", noEnv, "-o", "table", "regions")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "eu-1")
	assert.Contains(t, out, "main")
}
