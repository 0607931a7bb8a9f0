package repository

import (
	"context"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"gorm.io/gorm"
)

// DocumentView is a document joined with its uploader and owning part.
type DocumentView struct {
	entity.Document
	UploadedByName string `json:"uploaded_by_name"`
	PartNumber     string `json:"part_number"`
	VersionCount   int64  `json:"version_count"`
}

// DocumentRepository 文档仓库
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) WithTx(tx *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

// Create 创建文档记录
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == "" {
		doc.ID = generateID()
	}
	return translateError(r.db.WithContext(ctx).Create(doc).Error)
}

// FindByID 根据ID查找文档
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*entity.Document, error) {
	var doc entity.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, translateError(err)
	}
	return &doc, nil
}

// FindByPartAndFilename finds the document keyed by (part, filename).
// A nil partID matches unattached documents.
func (r *DocumentRepository) FindByPartAndFilename(ctx context.Context, partID *string, filename string) (*entity.Document, error) {
	query := r.db.WithContext(ctx).Where("filename = ?", filename)
	if partID == nil {
		query = query.Where("part_id IS NULL")
	} else {
		query = query.Where("part_id = ?", *partID)
	}
	var doc entity.Document
	if err := query.Order("uploaded_at ASC").First(&doc).Error; err != nil {
		return nil, translateError(err)
	}
	return &doc, nil
}

// List 获取文档列表；partID 为空时返回全部
func (r *DocumentRepository) List(ctx context.Context, partID *string) ([]DocumentView, error) {
	query := r.db.WithContext(ctx).
		Table("documents AS d").
		Select(`d.*, COALESCE(u.username, '') AS uploaded_by_name, COALESCE(p.part_number, '') AS part_number,
			(SELECT COUNT(*) FROM file_versions fv WHERE fv.document_id = d.id) AS version_count`).
		Joins("LEFT JOIN users u ON u.id = d.uploaded_by").
		Joins("LEFT JOIN parts p ON p.id = d.part_id")
	if partID != nil {
		query = query.Where("d.part_id = ?", *partID)
	}

	docs := []DocumentView{}
	err := query.Order("d.uploaded_at DESC").Scan(&docs).Error
	return docs, translateError(err)
}

// StoredPathInUse reports whether any document points at stored.
func (r *DocumentRepository) StoredPathInUse(ctx context.Context, stored string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Document{}).
		Where("stored_path = ?", stored).
		Count(&count).Error
	return count > 0, translateError(err)
}

// SetPart attaches the document to partID, or detaches it when partID is nil.
func (r *DocumentRepository) SetPart(ctx context.Context, id string, partID *string) (bool, error) {
	var value interface{} = gorm.Expr("NULL")
	if partID != nil {
		value = *partID
	}
	res := r.db.WithContext(ctx).
		Model(&entity.Document{}).
		Where("id = ?", id).
		Update("part_id", value)
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete 删除文档记录，版本记录由外键级联删除
func (r *DocumentRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Document{})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ============================================================
// File versions
// ============================================================

// CreateVersion 记录一个备份版本，Seq 取该文档当前最大值加一
func (r *DocumentRepository) CreateVersion(ctx context.Context, v *entity.FileVersion) error {
	if v.ID == "" {
		v.ID = generateID()
	}
	if v.Seq == 0 {
		var last int64
		err := r.db.WithContext(ctx).
			Model(&entity.FileVersion{}).
			Where("document_id = ?", v.DocumentID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error
		if err != nil {
			return translateError(err)
		}
		v.Seq = last + 1
	}
	v.SavedAt = v.SavedAt.UTC()
	return translateError(r.db.WithContext(ctx).Create(v).Error)
}

// FindVersion returns a version only if it belongs to documentID.
func (r *DocumentRepository) FindVersion(ctx context.Context, documentID, versionID string) (*entity.FileVersion, error) {
	var v entity.FileVersion
	err := r.db.WithContext(ctx).
		Where("id = ? AND document_id = ?", versionID, documentID).
		First(&v).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &v, nil
}

// ListVersions 获取版本列表，最新在前
func (r *DocumentRepository) ListVersions(ctx context.Context, documentID string) ([]entity.FileVersion, error) {
	versions := []entity.FileVersion{}
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("seq DESC").
		Find(&versions).Error
	return versions, translateError(err)
}

// VersionsBeyond returns the versions older than the newest keep, oldest first.
func (r *DocumentRepository) VersionsBeyond(ctx context.Context, documentID string, keep int) ([]entity.FileVersion, error) {
	all, err := r.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(all) <= keep {
		return nil, nil
	}
	stale := all[keep:]
	for i, j := 0, len(stale)-1; i < j; i, j = i+1, j-1 {
		stale[i], stale[j] = stale[j], stale[i]
	}
	return stale, nil
}

// DeleteVersions removes version rows by id.
func (r *DocumentRepository) DeleteVersions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&entity.FileVersion{}).Error
	return translateError(err)
}

// BackupPathInUse reports whether any version row already points at path.
func (r *DocumentRepository) BackupPathInUse(ctx context.Context, path string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.FileVersion{}).
		Where("backup_path = ?", path).
		Count(&count).Error
	return count > 0, translateError(err)
}
