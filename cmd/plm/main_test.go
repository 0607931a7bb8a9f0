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

	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
storage:
  files_root: %s
versioning:
  max_file_versions: 2
log:
  level: error
`, filepath.Join(dir, "plm.db"), filepath.Join(dir, "files"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(t *testing.T, cfgPath, as string, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLIWithStderr(t, cfgPath, as, args...)
	return out, err
}

func runCLIWithStderr(t *testing.T, cfgPath, as string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	full := []string{"--config", cfgPath}
	if as != "" {
		full = append(full, "--as", as)
	}
	cmd.SetArgs(append(full, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCmd_Help(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	for _, sub := range []string{"part", "bom", "doc", "user", "role", "audit", "migrate", "seed"} {
		assert.Contains(t, out, sub)
	}
}

func TestPartCmd_Help(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"part", "create", "--help"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "--number")
	assert.Contains(t, buf.String(), "--as")
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "plm dev"))
}

func TestCLI_EndToEnd(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCLI(t, cfg, "", "seed")
	require.NoError(t, err)

	_, err = runCLI(t, cfg, "", "part", "create", "--number", "x-1", "--name", "Frame")
	assert.ErrorIs(t, err, errPermissionDenied)
	assert.Equal(t, 3, exitCode(err))

	out, err := runCLI(t, cfg, "admin", "part", "create", "--number", "asm-1", "--name", "Frame")
	require.NoError(t, err)
	var part struct {
		ID         string `json:"id"`
		PartNumber string `json:"part_number"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &part))
	assert.Equal(t, "ASM-1", part.PartNumber)

	_, err = runCLI(t, cfg, "admin", "part", "create", "--number", "bolt", "--name", "Bolt")
	require.NoError(t, err)
	_, err = runCLI(t, cfg, "admin", "bom", "add", "ASM-1", "BOLT", "--qty", "4")
	require.NoError(t, err)

	out, err = runCLI(t, cfg, "admin", "bom", "flat", "asm-1")
	require.NoError(t, err)
	var flat struct {
		Rows []struct {
			PartNumber string  `json:"part_number"`
			Quantity   float64 `json:"quantity"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &flat))
	require.Len(t, flat.Rows, 1)
	assert.Equal(t, "BOLT", flat.Rows[0].PartNumber)
	assert.Equal(t, 4.0, flat.Rows[0].Quantity)

	_, err = runCLI(t, cfg, "admin", "user", "create", "vic", "--role", "Viewer")
	require.NoError(t, err)
	_, err = runCLI(t, cfg, "vic", "part", "checkout", "BOLT")
	assert.ErrorIs(t, err, errPermissionDenied)

	_, err = runCLI(t, cfg, "admin", "part", "release", "BOLT")
	require.NoError(t, err)
	_, err = runCLI(t, cfg, "admin", "part", "update", "BOLT", "--name", "Hex Bolt")
	assert.ErrorIs(t, err, plmerr.ErrLocked)
	assert.Equal(t, 5, exitCode(err))

	xlsx := filepath.Join(t.TempDir(), "bom.xlsx")
	_, err = runCLI(t, cfg, "admin", "bom", "export", "ASM-1", "-o", xlsx)
	require.NoError(t, err)
	assert.FileExists(t, xlsx)

	out, err = runCLI(t, cfg, "admin", "audit", "list", "--action", "release")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 1`)
}

func TestCLI_DocumentFlow(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, cfg, "", "seed")
	require.NoError(t, err)
	_, err = runCLI(t, cfg, "admin", "part", "create", "--number", "p-1", "--name", "Plate")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "plate.stl")
	var docID string
	for _, content := range []string{"one", "two"} {
		require.NoError(t, os.WriteFile(src, []byte(content), 0o644))
		out, err := runCLI(t, cfg, "admin", "doc", "upload", src, "--part", "P-1")
		require.NoError(t, err)
		var res struct {
			Document struct {
				ID string `json:"id"`
			} `json:"document"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		docID = res.Document.ID
	}

	out, err := runCLI(t, cfg, "admin", "doc", "versions", docID)
	require.NoError(t, err)
	var versions []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &versions))
	require.Len(t, versions, 1)

	_, err = runCLI(t, cfg, "admin", "doc", "restore", docID, versions[0].ID)
	require.NoError(t, err)

	out, err = runCLI(t, cfg, "admin", "doc", "path", docID)
	require.NoError(t, err)
	content, err := os.ReadFile(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "one", string(content))

	_, err = runCLI(t, cfg, "admin", "doc", "delete", docID)
	require.NoError(t, err)
	assert.NoFileExists(t, strings.TrimSpace(out))

	_, err = runCLI(t, cfg, "admin", "doc", "path", docID)
	assert.True(t, errors.Is(err, plmerr.ErrNotFound))
}

func TestCLI_ShowAudit(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, cfg, "", "seed")
	require.NoError(t, err)

	_, stderr, err := runCLIWithStderr(t, cfg, "admin", "--show-audit", "part", "create", "--number", "n-1", "--name", "Nut")
	require.NoError(t, err)
	_, stderr2, err := runCLIWithStderr(t, cfg, "admin", "--show-audit", "part", "checkout", "N-1", "--station", "bench-3")
	require.NoError(t, err)

	type auditLine struct {
		Action     string `json:"action"`
		EntityType string `json:"entity_type"`
	}
	var entries []auditLine
	dec := json.NewDecoder(strings.NewReader(stderr + stderr2))
	for dec.More() {
		var e auditLine
		require.NoError(t, dec.Decode(&e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "create_part", entries[0].Action)
	assert.Equal(t, "checkout", entries[1].Action)
	assert.Equal(t, "part", entries[1].EntityType)

	_, quiet, err := runCLIWithStderr(t, cfg, "admin", "part", "checkin", "N-1")
	require.NoError(t, err)
	assert.Empty(t, quiet)
}

func TestCLI_DeleteKeepsSharedFile(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, cfg, "", "seed")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "shared.stl")
	require.NoError(t, os.WriteFile(src, []byte("mesh"), 0o644))

	var ids []string
	for _, number := range []string{"s-1", "s-2"} {
		_, err := runCLI(t, cfg, "admin", "part", "create", "--number", number, "--name", "Shell")
		require.NoError(t, err)
		out, err := runCLI(t, cfg, "admin", "doc", "upload", src, "--part", number)
		require.NoError(t, err)
		var res struct {
			Document struct {
				ID string `json:"id"`
			} `json:"document"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		ids = append(ids, res.Document.ID)
	}

	out, err := runCLI(t, cfg, "admin", "doc", "path", ids[1])
	require.NoError(t, err)
	canonical := strings.TrimSpace(out)

	_, err = runCLI(t, cfg, "admin", "doc", "delete", ids[0])
	require.NoError(t, err)
	assert.FileExists(t, canonical)

	_, err = runCLI(t, cfg, "admin", "doc", "delete", ids[1])
	require.NoError(t, err)
	assert.NoFileExists(t, canonical)
}
