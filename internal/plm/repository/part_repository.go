package repository

import (
	"context"
	"strings"
	"time"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PartView is a part joined with creator / checkout holder display names.
type PartView struct {
	entity.Part
	CreatedByName    string                 `json:"created_by_name"`
	CheckedOutByName string                 `json:"checked_out_by_name"`
	Attributes       []entity.PartAttribute `json:"attributes" gorm:"-"`
}

// PartFilter 零件列表过滤条件
type PartFilter struct {
	Search         string
	Status         string
	CheckedOutOnly bool
	Page           int
	PerPage        int
}

// PartRepository 零件仓库
type PartRepository struct {
	db *gorm.DB
}

func NewPartRepository(db *gorm.DB) *PartRepository {
	return &PartRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *PartRepository) WithTx(tx *gorm.DB) *PartRepository {
	return &PartRepository{db: tx}
}

func (r *PartRepository) viewQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("parts AS p").
		Select("p.*, COALESCE(u1.username, '') AS created_by_name, COALESCE(u2.username, '') AS checked_out_by_name").
		Joins("LEFT JOIN users u1 ON p.created_by = u1.id").
		Joins("LEFT JOIN users u2 ON p.checked_out_by = u2.id")
}

// Create 创建零件
func (r *PartRepository) Create(ctx context.Context, part *entity.Part) error {
	if part.ID == "" {
		part.ID = generateID()
	}
	return translateError(r.db.WithContext(ctx).Create(part).Error)
}

// FindByID returns the bare part row.
func (r *PartRepository) FindByID(ctx context.Context, id string) (*entity.Part, error) {
	var part entity.Part
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&part).Error; err != nil {
		return nil, translateError(err)
	}
	return &part, nil
}

// Exists reports whether a part with id exists.
func (r *PartRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Part{}).Where("id = ?", id).Count(&count).Error
	return count > 0, translateError(err)
}

// ExistsByNumber reports whether the (already normalised) part number is taken.
func (r *PartRepository) ExistsByNumber(ctx context.Context, partNumber string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Part{}).
		Where("UPPER(part_number) = ?", strings.ToUpper(partNumber)).
		Count(&count).Error
	return count > 0, translateError(err)
}

// GetView 获取零件详情（含显示名与属性）
func (r *PartRepository) GetView(ctx context.Context, id string) (*PartView, error) {
	return r.findView(ctx, "p.id = ?", id)
}

// GetViewByNumber 根据零件号获取零件详情
func (r *PartRepository) GetViewByNumber(ctx context.Context, partNumber string) (*PartView, error) {
	return r.findView(ctx, "UPPER(p.part_number) = ?", strings.ToUpper(partNumber))
}

func (r *PartRepository) findView(ctx context.Context, cond string, arg interface{}) (*PartView, error) {
	var views []PartView
	if err := r.viewQuery(ctx).Where(cond, arg).Limit(1).Scan(&views).Error; err != nil {
		return nil, translateError(err)
	}
	if len(views) == 0 {
		return nil, ErrNotFound
	}
	view := views[0]
	attrs, err := r.ListAttributes(ctx, view.ID)
	if err != nil {
		return nil, err
	}
	view.Attributes = attrs
	return &view, nil
}

// List 获取零件列表
func (r *PartRepository) List(ctx context.Context, f PartFilter) ([]PartView, int64, error) {
	page, perPage := Page(f.Page, f.PerPage, 200)

	query := r.viewQuery(ctx)
	if f.Search != "" {
		like := "%" + escapeLike(strings.ToLower(f.Search)) + "%"
		query = query.Where(`(LOWER(p.part_number) LIKE ? ESCAPE '\' OR LOWER(p.part_name) LIKE ? ESCAPE '\')`, like, like)
	}
	if f.Status != "" {
		query = query.Where("p.release_status = ?", f.Status)
	}
	if f.CheckedOutOnly {
		query = query.Where("p.checked_out_by IS NOT NULL")
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	var views []PartView
	err := query.
		Order("p.part_number ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Scan(&views).Error
	if err != nil {
		return nil, 0, translateError(err)
	}
	return views, total, nil
}

// UpdateUnlocked applies updates only while the part is not locked.
// It returns false when no unlocked row with id matched.
func (r *PartRepository) UpdateUnlocked(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Part{}).
		Where("id = ? AND is_locked = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete 删除零件，级联由外键完成
func (r *PartRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Part{})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Checkout sets the holder only if nobody holds the part. The check and the
// write are one statement, so concurrent callers cannot both win.
func (r *PartRepository) Checkout(ctx context.Context, id, userID, station string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Part{}).
		Where("id = ? AND checked_out_by IS NULL", id).
		Updates(map[string]interface{}{
			"checked_out_by":      userID,
			"checked_out_at":      at,
			"checked_out_station": station,
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Checkin clears the checkout fields unconditionally.
func (r *PartRepository) Checkin(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Part{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"checked_out_by":      gorm.Expr("NULL"),
			"checked_out_at":      gorm.Expr("NULL"),
			"checked_out_station": "",
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetReleaseState writes release_status and is_locked together.
func (r *PartRepository) SetReleaseState(ctx context.Context, id, status string, locked bool, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Part{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"release_status": status,
			"is_locked":      locked,
			"updated_at":     at,
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetRevision moves the part to a new revision label and back to an unlocked prototype.
func (r *PartRepository) SetRevision(ctx context.Context, id, revision string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Part{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"part_revision":  revision,
			"is_locked":      false,
			"release_status": entity.PartStatusPrototype,
			"updated_at":     at,
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ============================================================
// Revision history
// ============================================================

// CreateRevision 追加修订快照
func (r *PartRepository) CreateRevision(ctx context.Context, rev *entity.PartRevision) error {
	if rev.ID == "" {
		rev.ID = generateID()
	}
	if rev.Seq == 0 {
		var last int64
		err := r.db.WithContext(ctx).
			Model(&entity.PartRevision{}).
			Where("part_id = ?", rev.PartID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error
		if err != nil {
			return translateError(err)
		}
		rev.Seq = last + 1
	}
	rev.ChangedAt = rev.ChangedAt.UTC()
	return translateError(r.db.WithContext(ctx).Create(rev).Error)
}

// ListRevisions 获取修订历史，最新在前
func (r *PartRepository) ListRevisions(ctx context.Context, partID string) ([]entity.PartRevision, error) {
	var revs []entity.PartRevision
	err := r.db.WithContext(ctx).
		Where("part_id = ?", partID).
		Order("seq DESC").
		Find(&revs).Error
	return revs, translateError(err)
}

// ============================================================
// Attributes
// ============================================================

// ListAttributes 获取零件属性
func (r *PartRepository) ListAttributes(ctx context.Context, partID string) ([]entity.PartAttribute, error) {
	attrs := []entity.PartAttribute{}
	err := r.db.WithContext(ctx).
		Where("part_id = ?", partID).
		Order("attr_order ASC, attr_key ASC").
		Find(&attrs).Error
	return attrs, translateError(err)
}

// UpsertAttribute inserts the attribute or overwrites value and order for an existing key.
func (r *PartRepository) UpsertAttribute(ctx context.Context, attr *entity.PartAttribute) error {
	if attr.ID == "" {
		attr.ID = generateID()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "part_id"}, {Name: "attr_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"attr_value", "attr_order"}),
		}).
		Create(attr).Error
	return translateError(err)
}

// DeleteAttribute removes a key; a missing key is not an error.
func (r *PartRepository) DeleteAttribute(ctx context.Context, partID, key string) error {
	err := r.db.WithContext(ctx).
		Where("part_id = ? AND attr_key = ?", partID, key).
		Delete(&entity.PartAttribute{}).Error
	return translateError(err)
}

// ListAttributeKeys returns every distinct attribute key in use.
func (r *PartRepository) ListAttributeKeys(ctx context.Context) ([]string, error) {
	keys := []string{}
	err := r.db.WithContext(ctx).
		Model(&entity.PartAttribute{}).
		Distinct("attr_key").
		Order("attr_key ASC").
		Pluck("attr_key", &keys).Error
	return keys, translateError(err)
}
