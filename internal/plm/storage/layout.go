// Package storage maps documents onto the files root: canonical files by
// type folder, timestamped backups beside them, displaced files under Temp.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
)

// OtherFolder receives files without an extension.
const OtherFolder = "OTHER"

var folderByExt = map[string]string{
	"PRT":    "NX",
	"ASM":    "NX",
	"DRW":    "NX",
	"SLDPRT": "SOLIDWORKS",
	"SLDASM": "SOLIDWORKS",
	"IPT":    "INVENTOR",
	"IAM":    "INVENTOR",
	"STEP":   "STEP",
	"STP":    "STEP",
	"STL":    "STL",
	"3MF":    "3MF",
	"OBJ":    "OBJ",
}

// Layout resolves on-disk locations under a single files root.
type Layout struct {
	root       string
	tempFolder string
}

// NewLayout returns a layout rooted at the absolute form of root.
func NewLayout(root, tempFolder string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve files root: %v", plmerr.ErrIO, err)
	}
	if tempFolder == "" {
		tempFolder = "Temp"
	}
	return &Layout{root: filepath.Clean(abs), tempFolder: tempFolder}, nil
}

// Root returns the absolute files root.
func (l *Layout) Root() string {
	return l.root
}

// FolderFor returns the type folder for filename.
func FolderFor(filename string) string {
	ext := strings.ToUpper(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return OtherFolder
	}
	if folder, ok := folderByExt[ext]; ok {
		return folder
	}
	return ext
}

// FileType is the lower-cased extension without the dot.
func FileType(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// ValidateFilename rejects anything that is not a plain base name.
func ValidateFilename(filename string) error {
	name := strings.TrimSpace(filename)
	if name == "" {
		return plmerr.Validation("filename is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return plmerr.Validation("filename %q must not contain path elements", filename)
	}
	return nil
}

// CanonicalPath is <root>/<TYPE_FOLDER>/<filename>.
func (l *Layout) CanonicalPath(filename string) string {
	return filepath.Join(l.root, FolderFor(filename), filename)
}

// VersionLabel formats the minute-resolution backup label.
func VersionLabel(at time.Time) string {
	return at.Format("0102_1504")
}

// BackupPath returns <dir>/<stem>_<MMDD_HHMM><ext> next to canonical, plus the
// label used. When that name is taken (on disk or per inUse) a numeric
// suffix is appended: _2, _3, ...
func (l *Layout) BackupPath(canonical string, at time.Time, inUse func(string) (bool, error)) (string, string, error) {
	dir := filepath.Dir(canonical)
	ext := filepath.Ext(canonical)
	stem := strings.TrimSuffix(filepath.Base(canonical), ext)
	base := VersionLabel(at)

	for n := 1; ; n++ {
		label := base
		if n > 1 {
			label = fmt.Sprintf("%s_%d", base, n)
		}
		candidate := filepath.Join(dir, stem+"_"+label+ext)
		if Exists(candidate) {
			continue
		}
		if inUse != nil {
			used, err := inUse(candidate)
			if err != nil {
				return "", "", err
			}
			if used {
				continue
			}
		}
		return candidate, label, nil
	}
}

// TempPath returns <root>/Temp/<stem>_<MMDD_HHMMSS><ext>, suffixed on collision.
func (l *Layout) TempPath(filename string, at time.Time) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filepath.Base(filename), ext)
	dir := filepath.Join(l.root, l.tempFolder)
	name := stem + "_" + at.Format("0102_150405")

	candidate := filepath.Join(dir, name+ext)
	for n := 2; Exists(candidate); n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", name, n, ext))
	}
	return candidate
}

// ResolveSafe returns the absolute, cleaned form of stored and fails with
// ErrPathTraversal unless it lies strictly inside the files root.
func (l *Layout) ResolveSafe(stored string) (string, error) {
	if strings.TrimSpace(stored) == "" {
		return "", plmerr.Validation("stored path is empty")
	}
	p := stored
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.root, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", plmerr.ErrPathTraversal, err)
	}
	abs = filepath.Clean(abs)

	root, check := l.root, abs
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		if resolvedRoot, err := filepath.EvalSymlinks(l.root); err == nil {
			root, check = resolvedRoot, resolved
		}
	}

	rel, err := filepath.Rel(root, check)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", plmerr.ErrPathTraversal, stored)
	}
	return abs, nil
}
