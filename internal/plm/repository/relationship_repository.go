package repository

import (
	"context"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"gorm.io/gorm"
)

// LinkedPart is an edge joined with the display fields of the part on its far end.
type LinkedPart struct {
	entity.Relationship
	PartNumber    string `json:"part_number"`
	PartName      string `json:"part_name"`
	PartRevision  string `json:"part_revision"`
	ReleaseStatus string `json:"release_status"`
}

// EdgeView is an edge joined with both endpoints' display fields.
type EdgeView struct {
	entity.Relationship
	ParentPartNumber   string `json:"parent_part_number"`
	ParentPartName     string `json:"parent_part_name"`
	ChildPartNumber    string `json:"child_part_number"`
	ChildPartName      string `json:"child_part_name"`
	ChildPartRevision  string `json:"child_part_revision"`
	ChildReleaseStatus string `json:"child_release_status"`
	ChildPartLevel     string `json:"child_part_level"`
	ChildDescription   string `json:"child_description"`
}

// RelationshipRepository BOM关系仓库
type RelationshipRepository struct {
	db *gorm.DB
}

func NewRelationshipRepository(db *gorm.DB) *RelationshipRepository {
	return &RelationshipRepository{db: db}
}

func (r *RelationshipRepository) WithTx(tx *gorm.DB) *RelationshipRepository {
	return &RelationshipRepository{db: tx}
}

// Create 创建BOM关系
func (r *RelationshipRepository) Create(ctx context.Context, rel *entity.Relationship) error {
	if rel.ID == "" {
		rel.ID = generateID()
	}
	return translateError(r.db.WithContext(ctx).Create(rel).Error)
}

// FindByID 根据ID查找关系
func (r *RelationshipRepository) FindByID(ctx context.Context, id string) (*entity.Relationship, error) {
	var rel entity.Relationship
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rel).Error; err != nil {
		return nil, translateError(err)
	}
	return &rel, nil
}

// ExistsPair reports whether the (parent, child) edge is already present.
func (r *RelationshipRepository) ExistsPair(ctx context.Context, parentID, childID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Relationship{}).
		Where("parent_part_id = ? AND child_part_id = ?", parentID, childID).
		Count(&count).Error
	return count > 0, translateError(err)
}

// Delete 删除关系
func (r *RelationshipRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Relationship{})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Children 获取直接子件，按零件号排序
func (r *RelationshipRepository) Children(ctx context.Context, partID string) ([]LinkedPart, error) {
	return r.linked(ctx, "r.child_part_id", "r.parent_part_id = ?", partID)
}

// Parents 获取直接父件（反查），按零件号排序
func (r *RelationshipRepository) Parents(ctx context.Context, partID string) ([]LinkedPart, error) {
	return r.linked(ctx, "r.parent_part_id", "r.child_part_id = ?", partID)
}

func (r *RelationshipRepository) linked(ctx context.Context, joinCol, cond, partID string) ([]LinkedPart, error) {
	rows := []LinkedPart{}
	err := r.db.WithContext(ctx).
		Table("part_relationships AS r").
		Select("r.*, p.part_number, p.part_name, p.part_revision, p.release_status").
		Joins("JOIN parts p ON p.id = "+joinCol).
		Where(cond, partID).
		Order("p.part_number ASC").
		Scan(&rows).Error
	return rows, translateError(err)
}

// AllEdges returns every edge with both endpoints resolved, ordered by
// parent then child part number.
func (r *RelationshipRepository) AllEdges(ctx context.Context) ([]EdgeView, error) {
	rows := []EdgeView{}
	err := r.db.WithContext(ctx).
		Table("part_relationships AS r").
		Select(`r.*,
			pp.part_number AS parent_part_number, pp.part_name AS parent_part_name,
			cp.part_number AS child_part_number, cp.part_name AS child_part_name,
			cp.part_revision AS child_part_revision, cp.release_status AS child_release_status,
			COALESCE(cp.part_level, '') AS child_part_level, COALESCE(cp.description, '') AS child_description`).
		Joins("JOIN parts pp ON pp.id = r.parent_part_id").
		Joins("JOIN parts cp ON cp.id = r.child_part_id").
		Order("pp.part_number ASC, cp.part_number ASC").
		Scan(&rows).Error
	return rows, translateError(err)
}
