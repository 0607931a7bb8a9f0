package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (f *testFixture) upload(t *testing.T, filename string, partID *string, content string) *UploadResult {
	t.Helper()
	res, err := f.svc.Document.SaveUpload(f.ctx, strings.NewReader(content), &UploadRequest{Filename: filename, PartID: partID}, f.admin.ID)
	require.NoError(t, err)
	return res
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func newDocFixture(t *testing.T) (*testFixture, *string) {
	f := newFixture(t)
	f.svc.Document.SetClock(testutil.StepClock(time.Date(2026, 1, 2, 15, 4, 0, 0, time.Local), time.Minute))
	id := f.createPart(t, "100-001", "Housing")
	return f, &id
}

func TestSaveUpload_FirstUploadCreatesDocument(t *testing.T) {
	f, part := newDocFixture(t)

	res := f.upload(t, "widget.prt", part, "v1")
	assert.True(t, res.Created)
	assert.Nil(t, res.Backup)
	assert.EqualValues(t, 2, res.Size)

	want := filepath.Join(f.svc.Document.Layout().Root(), "NX", "widget.prt")
	assert.Equal(t, want, res.Document.StoredPath)
	assert.Equal(t, "prt", res.Document.FileType)
	assert.Equal(t, "v1", readFile(t, want))
}

func TestSaveUpload_RetentionKeepsNewestBackups(t *testing.T) {
	f, part := newDocFixture(t)
	dir := filepath.Join(f.svc.Document.Layout().Root(), "NX")

	first := f.upload(t, "widget.prt", part, "v1")
	var firstBackup string
	for i, content := range []string{"v2", "v3", "v4"} {
		res := f.upload(t, "widget.prt", part, content)
		assert.False(t, res.Created)
		assert.Equal(t, first.Document.ID, res.Document.ID)
		require.NotNil(t, res.Backup)
		assert.Empty(t, res.Evicted)
		if i == 0 {
			firstBackup = res.Backup.BackupPath
			assert.Equal(t, "v1", readFile(t, firstBackup))
		}
	}

	versions, err := f.svc.Document.ListVersions(f.ctx, first.Document.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 3)

	res := f.upload(t, "widget.prt", part, "v5")
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, firstBackup, res.Evicted[0].BackupPath)
	assert.NoFileExists(t, firstBackup)

	versions, err = f.svc.Document.ListVersions(f.ctx, first.Document.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "v4", readFile(t, versions[0].BackupPath))
	assert.Equal(t, "v2", readFile(t, versions[2].BackupPath))

	backups, err := filepath.Glob(filepath.Join(dir, "widget_*.prt"))
	require.NoError(t, err)
	assert.Len(t, backups, 3)
	assert.Equal(t, "v5", readFile(t, filepath.Join(dir, "widget.prt")))
}

func TestSaveUpload_SameMinuteBackupsGetSuffix(t *testing.T) {
	f, part := newDocFixture(t)
	fixed := time.Date(2026, 3, 4, 9, 30, 0, 0, time.Local)
	f.svc.Document.SetClock(func() time.Time { return fixed })

	f.upload(t, "bracket.sldprt", part, "a")
	b1 := f.upload(t, "bracket.sldprt", part, "b")
	b2 := f.upload(t, "bracket.sldprt", part, "c")

	assert.Equal(t, "0304_0930", b1.Backup.VersionLabel)
	assert.Equal(t, "0304_0930_2", b2.Backup.VersionLabel)
	assert.Equal(t, "bracket_0304_0930_2.sldprt", filepath.Base(b2.Backup.BackupPath))
	assert.Equal(t, "SOLIDWORKS", filepath.Base(filepath.Dir(b2.Backup.BackupPath)))
}

func TestSaveUpload_SameMinuteRetentionEvictsOldest(t *testing.T) {
	f, part := newDocFixture(t)
	fixed := time.Date(2026, 3, 4, 9, 30, 0, 0, time.Local)
	f.svc.Document.SetClock(func() time.Time { return fixed })

	var doc string
	for _, content := range []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7"} {
		doc = f.upload(t, "w.prt", part, content).Document.ID
	}

	versions, err := f.svc.Document.ListVersions(f.ctx, doc)
	require.NoError(t, err)
	require.Len(t, versions, 3)

	var kept []string
	for _, v := range versions {
		kept = append(kept, readFile(t, v.BackupPath))
	}
	assert.Equal(t, []string{"v6", "v5", "v4"}, kept)
	assert.Greater(t, versions[0].Seq, versions[1].Seq)
	assert.Greater(t, versions[1].Seq, versions[2].Seq)
	assert.True(t, versions[0].SavedAt.Equal(fixed))
}

func TestSaveUpload_NoBackupForOtherFilesOrUnattached(t *testing.T) {
	f, part := newDocFixture(t)

	f.upload(t, "notes.txt", part, "one")
	res := f.upload(t, "notes.txt", part, "two")
	assert.False(t, res.Created)
	assert.Nil(t, res.Backup)
	assert.Equal(t, "two", readFile(t, res.Document.StoredPath))
	assert.Equal(t, "TXT", filepath.Base(filepath.Dir(res.Document.StoredPath)))

	loose := f.upload(t, "loose.step", nil, "one")
	again := f.upload(t, "loose.step", nil, "two")
	assert.True(t, loose.Created)
	assert.False(t, again.Created)
	assert.Equal(t, loose.Document.ID, again.Document.ID)
	assert.Nil(t, again.Backup)
}

func TestSaveUpload_Rejects(t *testing.T) {
	f, _ := newDocFixture(t)
	missing := "missing"

	_, err := f.svc.Document.SaveUpload(f.ctx, strings.NewReader("x"), &UploadRequest{Filename: "../evil.prt"}, f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrValidation)

	_, err = f.svc.Document.SaveUpload(f.ctx, strings.NewReader("x"), &UploadRequest{Filename: "a.prt", PartID: &missing}, f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
}

func TestRestoreVersion(t *testing.T) {
	f, part := newDocFixture(t)

	f.upload(t, "widget.prt", part, "v1")
	f.upload(t, "widget.prt", part, "v2")
	res := f.upload(t, "widget.prt", part, "v3")

	versions, err := f.svc.Document.ListVersions(f.ctx, res.Document.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	oldest := versions[1]

	restored, err := f.svc.Document.RestoreVersion(f.ctx, res.Document.ID, oldest.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", readFile(t, res.Document.StoredPath))
	assert.Equal(t, "v3", readFile(t, restored.DisplacedPath))
	assert.Equal(t, filepath.Join(f.svc.Document.Layout().Root(), "Temp"), filepath.Dir(restored.DisplacedPath))

	versions, err = f.svc.Document.ListVersions(f.ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	assert.FileExists(t, oldest.BackupPath)

	_, err = f.svc.Document.RestoreVersion(f.ctx, res.Document.ID, "missing", f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
}

func TestRestoreVersion_MissingBackupFile(t *testing.T) {
	f, part := newDocFixture(t)
	f.upload(t, "widget.prt", part, "v1")
	res := f.upload(t, "widget.prt", part, "v2")
	require.NoError(t, os.Remove(res.Backup.BackupPath))

	_, err := f.svc.Document.RestoreVersion(f.ctx, res.Document.ID, res.Backup.ID, f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
	assert.ErrorIs(t, err, plmerr.ErrIO)
	assert.Equal(t, "v2", readFile(t, res.Document.StoredPath))
}

func TestResolveSafePath(t *testing.T) {
	f, _ := newDocFixture(t)
	root := f.svc.Document.Layout().Root()

	got, err := f.svc.Document.ResolveSafePath("NX/widget.prt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "NX", "widget.prt"), got)

	for _, bad := range []string{"../../etc/passwd", "NX/../../outside.prt", root, "/etc/passwd"} {
		_, err := f.svc.Document.ResolveSafePath(bad)
		assert.ErrorIs(t, err, plmerr.ErrPathTraversal, bad)
	}
}

func TestDeleteDocument(t *testing.T) {
	f, part := newDocFixture(t)
	f.upload(t, "widget.prt", part, "v1")
	res := f.upload(t, "widget.prt", part, "v2")

	path, err := f.svc.Document.Delete(f.ctx, res.Document.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Document.StoredPath, path)
	assert.NoFileExists(t, res.Backup.BackupPath)

	_, err = f.svc.Document.Get(f.ctx, res.Document.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)

	path, err = f.svc.Document.Delete(f.ctx, "unknown", f.admin.ID)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestDeleteDocument_SharedCanonicalFile(t *testing.T) {
	f, partA := newDocFixture(t)
	partB := f.createPart(t, "100-002", "Cover")

	a := f.upload(t, "shared.prt", partA, "a")
	b := f.upload(t, "shared.prt", &partB, "b")
	require.NotEqual(t, a.Document.ID, b.Document.ID)
	require.Equal(t, a.Document.StoredPath, b.Document.StoredPath)

	stored, err := f.svc.Document.Delete(f.ctx, a.Document.ID, f.admin.ID)
	require.NoError(t, err)
	inUse, err := f.svc.Document.CanonicalInUse(f.ctx, stored)
	require.NoError(t, err)
	assert.True(t, inUse)

	stored, err = f.svc.Document.Delete(f.ctx, b.Document.ID, f.admin.ID)
	require.NoError(t, err)
	inUse, err = f.svc.Document.CanonicalInUse(f.ctx, stored)
	require.NoError(t, err)
	assert.False(t, inUse)
}

func TestAttachDetach(t *testing.T) {
	f, part := newDocFixture(t)
	res := f.upload(t, "drawing.pdf", nil, "pdf")

	doc, err := f.svc.Document.Attach(f.ctx, res.Document.ID, *part, f.admin.ID)
	require.NoError(t, err)
	require.NotNil(t, doc.PartID)
	assert.Equal(t, *part, *doc.PartID)

	listed, err := f.svc.Document.ListDocuments(f.ctx, part)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "100-001", listed[0].PartNumber)

	doc, err = f.svc.Document.Detach(f.ctx, res.Document.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Nil(t, doc.PartID)

	_, err = f.svc.Document.Attach(f.ctx, res.Document.ID, "missing", f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
	_, err = f.svc.Document.Detach(f.ctx, "missing", f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)

	opened, err := f.svc.Document.Open(f.ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, "pdf", readFile(t, opened))
}

type recordingMirror struct {
	puts    []string
	removes []string
	fail    bool
}

func (m *recordingMirror) Put(_ context.Context, key, _ string) error {
	m.puts = append(m.puts, key)
	if m.fail {
		return errors.New("bucket unavailable")
	}
	return nil
}

func (m *recordingMirror) Remove(_ context.Context, key string) error {
	m.removes = append(m.removes, key)
	if m.fail {
		return errors.New("bucket unavailable")
	}
	return nil
}

func TestDocumentMirror(t *testing.T) {
	for _, fail := range []bool{false, true} {
		env := testutil.SetupTestEnv(t)
		mirror := &recordingMirror{fail: fail}
		svc, err := NewServices(env.DB, env.Config, Deps{Mirror: mirror, Logger: zap.NewNop()})
		require.NoError(t, err)
		admin := testutil.SeedTestUser(t, env.DB, "alice", testutil.SeedTestRole(t, env.DB, "Admin", entity.AbilityAdmin))
		ctx := context.Background()

		res, err := svc.Document.SaveUpload(ctx, strings.NewReader("mesh"), &UploadRequest{Filename: "part.stl"}, admin.ID)
		require.NoError(t, err, "mirror failures must not fail the upload")
		assert.Equal(t, []string{"STL/part.stl"}, mirror.puts)

		_, err = svc.Document.Delete(ctx, res.Document.ID, admin.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"STL/part.stl"}, mirror.removes)
	}
}
