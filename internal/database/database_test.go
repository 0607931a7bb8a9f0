package database

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kkers42/PLM-Lite/internal/config"
	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpen_SQLitePragmas(t *testing.T) {
	cfg := config.Default(t.TempDir()).Database

	db, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { Close(db) })

	var journal string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&journal).Error)
	assert.Equal(t, "wal", strings.ToLower(journal))

	var busy int
	require.NoError(t, db.Raw("PRAGMA busy_timeout").Scan(&busy).Error)
	assert.Equal(t, 10000, busy)

	var fk int
	require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&fk).Error)
	assert.Equal(t, 1, fk)
}

func TestMigrate_Idempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir).Database

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { Close(db) })

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	for _, table := range []string{"parts", "part_attributes", "part_revisions", "part_relationships", "documents", "file_versions", "audit_log", "users", "roles"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasColumn(&entity.FileVersion{}, "Seq"))
	assert.True(t, db.Migrator().HasColumn(&entity.PartRevision{}, "Seq"))
	assert.FileExists(t, filepath.Join(dir, "plm.db"))
}

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN(config.DatabaseConfig{Path: "/tmp/x.db"})
	assert.Contains(t, dsn, "_busy_timeout=10000")
	assert.Contains(t, dsn, "_txlock=immediate")
}

func TestBackfillSeq_OrdersByTime(t *testing.T) {
	db, err := Open(config.Default(t.TempDir()).Database, nil)
	require.NoError(t, err)
	t.Cleanup(func() { Close(db) })
	require.NoError(t, Migrate(db))

	doc := &entity.Document{ID: "doc1", Filename: "a.prt", StoredPath: "NX/a.prt"}
	require.NoError(t, db.Create(doc).Error)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"v-late", "v-early", "v-mid"} {
		offset := []time.Duration{2 * time.Hour, 0, time.Hour}[i]
		require.NoError(t, db.Create(&entity.FileVersion{
			ID: id, DocumentID: doc.ID, VersionLabel: id, BackupPath: id, SavedAt: base.Add(offset),
		}).Error)
	}

	require.NoError(t, backfillSeq(db, "file_versions", "document_id", "saved_at"))

	var versions []entity.FileVersion
	require.NoError(t, db.Order("seq").Find(&versions).Error)
	require.Len(t, versions, 3)
	assert.Equal(t, []string{"v-early", "v-mid", "v-late"}, []string{versions[0].ID, versions[1].ID, versions[2].ID})
	assert.EqualValues(t, 3, versions[2].Seq)
}
