package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kkers42/PLM-Lite/internal/config"
	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/repository"
	"github.com/kkers42/PLM-Lite/internal/plm/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DocumentService 文档服务。
// Each document has one canonical ("god") file under the files root. Re-uploading
// a CAD file for the same part first copies the current content to a
// timestamped backup, recorded as a FileVersion, and keeps only the newest
// MaxFileVersions backups.
type DocumentService struct {
	db         *gorm.DB
	docs       *repository.DocumentRepository
	parts      *repository.PartRepository
	audit      *AuditService
	layout     *storage.Layout
	versioning config.VersioningConfig
	mirror     storage.Mirror
	log        *zap.Logger
	now        func() time.Time
}

// NewDocumentService 创建文档服务
func NewDocumentService(
	db *gorm.DB,
	docs *repository.DocumentRepository,
	parts *repository.PartRepository,
	audit *AuditService,
	layout *storage.Layout,
	versioning config.VersioningConfig,
	mirror storage.Mirror,
	log *zap.Logger,
) *DocumentService {
	return &DocumentService{
		db:         db,
		docs:       docs,
		parts:      parts,
		audit:      audit,
		layout:     layout,
		versioning: versioning,
		mirror:     mirror,
		log:        log,
		now:        defaultClock,
	}
}

// SetClock replaces the time source used for backup and Temp names.
func (s *DocumentService) SetClock(now func() time.Time) {
	s.now = now
}

// Layout exposes the storage layout the service writes to.
func (s *DocumentService) Layout() *storage.Layout {
	return s.layout
}

// UploadRequest 上传文档请求
type UploadRequest struct {
	Filename    string  `json:"filename" validate:"required,max=256"`
	PartID      *string `json:"part_id"`
	Description string  `json:"description"`
}

// UploadResult describes what an upload did.
type UploadResult struct {
	Document *entity.Document     `json:"document"`
	Created  bool                 `json:"created"`
	Backup   *entity.FileVersion  `json:"backup,omitempty"`
	Evicted  []entity.FileVersion `json:"evicted,omitempty"`
	Size     int64                `json:"size"`
}

// RestoreResult describes a completed restore. DisplacedPath is where the
// previous canonical content was moved, empty if there was none.
type RestoreResult struct {
	Document      *entity.Document    `json:"document"`
	Version       *entity.FileVersion `json:"version"`
	DisplacedPath string              `json:"displaced_path"`
}

// SaveUpload writes content as the canonical file for req.Filename.
//
// Steps, none of which hold a transaction across file-system work:
//  1. pick the type folder from the extension
//  2. for a CAD file already on record for the same part, back up the current
//     canonical file, record the FileVersion and evict versions beyond the limit
//  3. replace the canonical file
//  4. reuse the (part, filename) document or create one
func (s *DocumentService) SaveUpload(ctx context.Context, content io.Reader, req *UploadRequest, actor string) (*UploadResult, error) {
	req.Filename = strings.TrimSpace(req.Filename)
	if err := storage.ValidateFilename(req.Filename); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.PartID != nil {
		exists, err := s.parts.Exists(ctx, *req.PartID)
		if err != nil {
			return nil, fmt.Errorf("save upload: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("save upload: %w", plmerr.NotFound("part", *req.PartID))
		}
	}

	canonical := s.layout.CanonicalPath(req.Filename)
	existing, err := s.docs.FindByPartAndFilename(ctx, req.PartID, req.Filename)
	if err != nil && !errors.Is(err, plmerr.ErrNotFound) {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	result := &UploadResult{}
	if existing != nil && req.PartID != nil && s.versioning.IsCADFile(req.Filename) && storage.Exists(canonical) {
		backup, evicted, err := s.rotate(ctx, existing, canonical, actor)
		if err != nil {
			return nil, fmt.Errorf("save upload %s: %w", req.Filename, err)
		}
		result.Backup = backup
		result.Evicted = evicted
	}

	size, err := storage.WriteFile(canonical, content)
	if err != nil {
		return nil, fmt.Errorf("save upload %s: %w", req.Filename, err)
	}
	result.Size = size

	err = s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		docs := s.docs.WithTx(tx)
		detail := map[string]interface{}{
			"filename": req.Filename,
			"size":     size,
		}
		if result.Backup != nil {
			detail["backup_label"] = result.Backup.VersionLabel
			detail["evicted"] = len(result.Evicted)
		}

		if existing != nil {
			result.Document = existing
			return rec.record(ctx, AuditEvent{
				UserID:     actor,
				Action:     ActionUpdateDocument,
				EntityType: entity.AuditEntityDocument,
				EntityID:   existing.ID,
				Detail:     detail,
			})
		}

		doc := &entity.Document{
			PartID:      req.PartID,
			Filename:    req.Filename,
			StoredPath:  canonical,
			FileType:    storage.FileType(req.Filename),
			Description: req.Description,
			UploadedBy:  actor,
			UploadedAt:  s.now(),
		}
		if err := docs.Create(ctx, doc); err != nil {
			return err
		}
		result.Document = doc
		result.Created = true
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionUploadDocument,
			EntityType: entity.AuditEntityDocument,
			EntityID:   doc.ID,
			Detail:     detail,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("save upload %s: %w", req.Filename, err)
	}

	s.mirrorPut(ctx, canonical)
	return result, nil
}

// rotate copies the canonical file to a new backup, records it and evicts
// the versions beyond the retention limit, oldest first.
func (s *DocumentService) rotate(ctx context.Context, doc *entity.Document, canonical, actor string) (*entity.FileVersion, []entity.FileVersion, error) {
	at := s.now()
	backupPath, label, err := s.layout.BackupPath(canonical, at, func(p string) (bool, error) {
		return s.docs.BackupPathInUse(ctx, p)
	})
	if err != nil {
		return nil, nil, err
	}
	size, err := storage.CopyFile(canonical, backupPath)
	if err != nil {
		return nil, nil, err
	}

	version := &entity.FileVersion{
		DocumentID:   doc.ID,
		VersionLabel: label,
		BackupPath:   backupPath,
		FileSize:     size,
		SavedBy:      actor,
		SavedAt:      at,
	}
	var evicted []entity.FileVersion
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docs := s.docs.WithTx(tx)
		if err := docs.CreateVersion(ctx, version); err != nil {
			return err
		}
		stale, err := docs.VersionsBeyond(ctx, doc.ID, s.versioning.MaxFileVersions)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(stale))
		for _, v := range stale {
			ids = append(ids, v.ID)
		}
		if err := docs.DeleteVersions(ctx, ids); err != nil {
			return err
		}
		evicted = stale
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for _, v := range evicted {
		if err := storage.RemoveFile(v.BackupPath); err != nil {
			s.log.Warn("remove evicted backup",
				zap.String("document_id", doc.ID),
				zap.String("path", v.BackupPath),
				zap.Error(err),
			)
		}
	}
	s.log.Debug("document backup saved",
		zap.String("document_id", doc.ID),
		zap.String("label", label),
		zap.Int("evicted", len(evicted)),
	)
	return version, evicted, nil
}

// RestoreVersion makes the backup of versionID the canonical content of
// documentID. The content it replaces is moved under Temp and is not recorded
// as a version.
func (s *DocumentService) RestoreVersion(ctx context.Context, documentID, versionID, actor string) (*RestoreResult, error) {
	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("restore version: %w", notFound(err, "document", documentID))
	}
	version, err := s.docs.FindVersion(ctx, documentID, versionID)
	if err != nil {
		return nil, fmt.Errorf("restore version: %w", notFound(err, "file version", versionID))
	}

	canonical, err := s.layout.ResolveSafe(doc.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("restore version: %w", err)
	}
	backup, err := s.layout.ResolveSafe(version.BackupPath)
	if err != nil {
		return nil, fmt.Errorf("restore version: %w", err)
	}
	if !storage.Exists(backup) {
		return nil, fmt.Errorf("restore version: %w: %w: backup file missing: %s", plmerr.ErrNotFound, plmerr.ErrIO, backup)
	}

	displaced := ""
	if storage.Exists(canonical) {
		displaced = s.layout.TempPath(doc.Filename, s.now())
		if err := storage.MoveFile(canonical, displaced); err != nil {
			return nil, fmt.Errorf("restore version: %w", err)
		}
	}
	if _, err := storage.CopyFile(backup, canonical); err != nil {
		if displaced != "" {
			if rerr := storage.MoveFile(displaced, canonical); rerr != nil {
				s.log.Error("put back displaced file",
					zap.String("document_id", doc.ID),
					zap.String("displaced", displaced),
					zap.Error(rerr),
				)
			}
		}
		return nil, fmt.Errorf("restore version: %w", err)
	}

	_, err = s.audit.Append(ctx, AuditEvent{
		UserID:     actor,
		Action:     ActionRestoreVersion,
		EntityType: entity.AuditEntityDocument,
		EntityID:   doc.ID,
		Detail: map[string]interface{}{
			"version_id":     version.ID,
			"version_label":  version.VersionLabel,
			"displaced_path": displaced,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("restore version: %w", err)
	}

	s.mirrorPut(ctx, canonical)
	return &RestoreResult{Document: doc, Version: version, DisplacedPath: displaced}, nil
}

// Delete removes the document record and its versions, deletes the backup
// files, and returns the canonical path for the caller to unlink once
// CanonicalInUse reports it unused. An unknown id returns "" and no error.
func (s *DocumentService) Delete(ctx context.Context, documentID, actor string) (string, error) {
	var (
		storedPath string
		backups    []string
	)
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		docs := s.docs.WithTx(tx)
		doc, err := docs.FindByID(ctx, documentID)
		if errors.Is(err, plmerr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		versions, err := docs.ListVersions(ctx, documentID)
		if err != nil {
			return err
		}
		if _, err := docs.Delete(ctx, documentID); err != nil {
			return err
		}
		storedPath = doc.StoredPath
		for _, v := range versions {
			backups = append(backups, v.BackupPath)
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionDeleteDocument,
			EntityType: entity.AuditEntityDocument,
			EntityID:   documentID,
			Detail: map[string]interface{}{
				"filename": doc.Filename,
				"versions": len(versions),
			},
		})
	})
	if err != nil {
		return "", fmt.Errorf("delete document %s: %w", documentID, err)
	}

	for _, path := range backups {
		if err := storage.RemoveFile(path); err != nil {
			s.log.Warn("remove backup of deleted document", zap.String("path", path), zap.Error(err))
		}
	}
	if storedPath != "" && s.mirror != nil {
		if shared, err := s.CanonicalInUse(ctx, storedPath); err != nil || shared {
			return storedPath, nil
		}
		if err := s.mirror.Remove(ctx, s.layout.ObjectKey(storedPath)); err != nil {
			s.log.Warn("remove mirrored file", zap.String("path", storedPath), zap.Error(err))
		}
	}
	return storedPath, nil
}

// Get 获取文档
func (s *DocumentService) Get(ctx context.Context, documentID string) (*entity.Document, error) {
	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("find document: %w", notFound(err, "document", documentID))
	}
	return doc, nil
}

// ListDocuments lists the documents of partID, or all documents when partID is nil.
func (s *DocumentService) ListDocuments(ctx context.Context, partID *string) ([]repository.DocumentView, error) {
	docs, err := s.docs.List(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ListVersions 获取文档备份版本，最新在前
func (s *DocumentService) ListVersions(ctx context.Context, documentID string) ([]entity.FileVersion, error) {
	if _, err := s.Get(ctx, documentID); err != nil {
		return nil, err
	}
	versions, err := s.docs.ListVersions(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// Attach 将文档关联到零件
func (s *DocumentService) Attach(ctx context.Context, documentID, partID, actor string) (*entity.Document, error) {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		exists, err := s.parts.WithTx(tx).Exists(ctx, partID)
		if err != nil {
			return err
		}
		if !exists {
			return plmerr.NotFound("part", partID)
		}
		ok, err := s.docs.WithTx(tx).SetPart(ctx, documentID, &partID)
		if err != nil {
			return err
		}
		if !ok {
			return plmerr.NotFound("document", documentID)
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionAttachDocument,
			EntityType: entity.AuditEntityDocument,
			EntityID:   documentID,
			Detail:     map[string]interface{}{"part_id": partID},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("attach document %s: %w", documentID, err)
	}
	return s.Get(ctx, documentID)
}

// Detach 解除文档与零件的关联
func (s *DocumentService) Detach(ctx context.Context, documentID, actor string) (*entity.Document, error) {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		ok, err := s.docs.WithTx(tx).SetPart(ctx, documentID, nil)
		if err != nil {
			return err
		}
		if !ok {
			return plmerr.NotFound("document", documentID)
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionDetachDocument,
			EntityType: entity.AuditEntityDocument,
			EntityID:   documentID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("detach document %s: %w", documentID, err)
	}
	return s.Get(ctx, documentID)
}

// CanonicalInUse reports whether a remaining document still uses the
// canonical file at stored. Documents with the same filename share one file.
func (s *DocumentService) CanonicalInUse(ctx context.Context, stored string) (bool, error) {
	inUse, err := s.docs.StoredPathInUse(ctx, stored)
	if err != nil {
		return false, fmt.Errorf("check canonical file: %w", err)
	}
	return inUse, nil
}

// ResolveSafePath resolves stored against the files root, rejecting paths outside it.
func (s *DocumentService) ResolveSafePath(stored string) (string, error) {
	return s.layout.ResolveSafe(stored)
}

// Open returns the safe path of a document's canonical file.
func (s *DocumentService) Open(ctx context.Context, documentID string) (string, error) {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return "", err
	}
	path, err := s.layout.ResolveSafe(doc.StoredPath)
	if err != nil {
		return "", err
	}
	if !storage.Exists(path) {
		return "", fmt.Errorf("%w: %w: canonical file missing: %s", plmerr.ErrNotFound, plmerr.ErrIO, path)
	}
	return path, nil
}

func (s *DocumentService) mirrorPut(ctx context.Context, path string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(ctx, s.layout.ObjectKey(path), path); err != nil {
		s.log.Warn("mirror canonical file", zap.String("path", path), zap.Error(err))
	}
}
