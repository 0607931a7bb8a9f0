package repository

import (
	"context"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"gorm.io/gorm"
)

// AuditLogView is an audit entry with the acting username resolved.
type AuditLogView struct {
	entity.AuditLog
	Username string `json:"username"`
}

// AuditLogFilter 审计日志过滤条件
type AuditLogFilter struct {
	EntityType string
	EntityID   string
	UserID     string
	Action     string
	Page       int
	PerPage    int
}

// AuditLogRepository 审计日志仓库，只追加
type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) WithTx(tx *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: tx}
}

// Create 追加审计记录
func (r *AuditLogRepository) Create(ctx context.Context, entry *entity.AuditLog) error {
	if entry.ID == "" {
		entry.ID = generateID()
	}
	return translateError(r.db.WithContext(ctx).Create(entry).Error)
}

// List 分页查询审计日志，按时间倒序
func (r *AuditLogRepository) List(ctx context.Context, f AuditLogFilter) ([]AuditLogView, int64, error) {
	page, perPage := Page(f.Page, f.PerPage, 500)

	query := r.db.WithContext(ctx).
		Table("audit_log AS a").
		Select("a.*, COALESCE(u.username, a.user_id) AS username").
		Joins("LEFT JOIN users u ON u.id = a.user_id")
	if f.EntityType != "" {
		query = query.Where("a.entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		query = query.Where("a.entity_id = ?", f.EntityID)
	}
	if f.UserID != "" {
		query = query.Where("a.user_id = ?", f.UserID)
	}
	if f.Action != "" {
		query = query.Where("a.action = ?", f.Action)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}

	entries := []AuditLogView{}
	err := query.
		Order("a.timestamp DESC, a.id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Scan(&entries).Error
	if err != nil {
		return nil, 0, translateError(err)
	}
	return entries, total, nil
}
