package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/repository"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// PartService owns parts, their attributes, lifecycle state and revision history.
type PartService struct {
	db    *gorm.DB
	repo  *repository.PartRepository
	audit *AuditService
	log   *zap.Logger
	now   func() time.Time
}

// NewPartService 创建零件服务
func NewPartService(db *gorm.DB, repo *repository.PartRepository, audit *AuditService, log *zap.Logger) *PartService {
	return &PartService{db: db, repo: repo, audit: audit, log: log, now: defaultClock}
}

// CreatePartRequest 创建零件请求
type CreatePartRequest struct {
	PartNumber   string `json:"part_number" validate:"required,max=64"`
	PartName     string `json:"part_name" validate:"required,max=256"`
	PartRevision string `json:"part_revision" validate:"max=16"`
	Description  string `json:"description"`
	PartLevel    string `json:"part_level" validate:"max=32"`
}

// UpdatePartRequest 更新零件请求; nil fields are left alone.
type UpdatePartRequest struct {
	PartName    *string `json:"part_name" validate:"omitempty,min=1,max=256"`
	Description *string `json:"description"`
	PartLevel   *string `json:"part_level" validate:"omitempty,max=32"`
}

// PartListFilter 零件列表过滤条件
type PartListFilter struct {
	Search         string
	Status         string
	CheckedOutOnly bool
	Page           int
	PerPage        int
}

// PartListResult 零件列表结果
type PartListResult struct {
	Items   []repository.PartView `json:"items"`
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}

// NormalizePartNumber trims and upper-cases a part number.
func NormalizePartNumber(raw string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(raw))
}

// Create 创建零件
func (s *PartService) Create(ctx context.Context, actor string, req *CreatePartRequest) (*repository.PartView, error) {
	req.PartNumber = NormalizePartNumber(req.PartNumber)
	req.PartName = strings.TrimSpace(req.PartName)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	revision := strings.TrimSpace(req.PartRevision)
	if revision == "" {
		revision = entity.DefaultPartRevision
	}
	now := s.now()
	part := &entity.Part{
		PartNumber:    req.PartNumber,
		PartName:      req.PartName,
		PartRevision:  revision,
		Description:   req.Description,
		PartLevel:     req.PartLevel,
		ReleaseStatus: entity.PartStatusPrototype,
		CreatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		parts := s.repo.WithTx(tx)
		taken, err := parts.ExistsByNumber(ctx, part.PartNumber)
		if err != nil {
			return err
		}
		if taken {
			return plmerr.Conflict("part number %s already exists", part.PartNumber)
		}
		if err := parts.Create(ctx, part); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionCreatePart,
			EntityType: entity.AuditEntityPart,
			EntityID:   part.ID,
			Detail: map[string]interface{}{
				"part_number":   part.PartNumber,
				"part_name":     part.PartName,
				"part_revision": part.PartRevision,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create part %s: %w", req.PartNumber, err)
	}
	return s.Get(ctx, part.ID)
}

// Get 获取零件详情
func (s *PartService) Get(ctx context.Context, id string) (*repository.PartView, error) {
	view, err := s.repo.GetView(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get part: %w", notFound(err, "part", id))
	}
	return view, nil
}

// GetByNumber 根据零件号获取零件详情，大小写不敏感
func (s *PartService) GetByNumber(ctx context.Context, partNumber string) (*repository.PartView, error) {
	number := NormalizePartNumber(partNumber)
	view, err := s.repo.GetViewByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("get part: %w", notFound(err, "part", number))
	}
	return view, nil
}

// List 获取零件列表
func (s *PartService) List(ctx context.Context, f PartListFilter) (*PartListResult, error) {
	page, perPage := repository.Page(f.Page, f.PerPage, 200)
	items, total, err := s.repo.List(ctx, repository.PartFilter{
		Search:         strings.TrimSpace(f.Search),
		Status:         f.Status,
		CheckedOutOnly: f.CheckedOutOnly,
		Page:           page,
		PerPage:        perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	return &PartListResult{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// Update 更新零件；已发布（锁定）的零件返回 ErrLocked
func (s *PartService) Update(ctx context.Context, id, actor string, req *UpdatePartRequest) (*repository.PartView, error) {
	if req.PartName != nil {
		name := strings.TrimSpace(*req.PartName)
		req.PartName = &name
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": s.now()}
	changed := map[string]interface{}{}
	if req.PartName != nil {
		updates["part_name"] = *req.PartName
		changed["part_name"] = *req.PartName
	}
	if req.Description != nil {
		updates["description"] = *req.Description
		changed["description"] = *req.Description
	}
	if req.PartLevel != nil {
		updates["part_level"] = *req.PartLevel
		changed["part_level"] = *req.PartLevel
	}

	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		parts := s.repo.WithTx(tx)
		ok, err := parts.UpdateUnlocked(ctx, id, updates)
		if err != nil {
			return err
		}
		if !ok {
			return s.lockedOrMissing(ctx, parts, id)
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionUpdatePart,
			EntityType: entity.AuditEntityPart,
			EntityID:   id,
			Detail:     changed,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update part %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *PartService) lockedOrMissing(ctx context.Context, parts *repository.PartRepository, id string) error {
	exists, err := parts.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return plmerr.NotFound("part", id)
	}
	return plmerr.ErrLocked
}

// Delete 删除零件。属性、修订历史和BOM关系由外键级联删除，文档解除关联
func (s *PartService) Delete(ctx context.Context, id, actor string) error {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		parts := s.repo.WithTx(tx)
		part, err := parts.FindByID(ctx, id)
		if err != nil {
			return notFound(err, "part", id)
		}
		if _, err := parts.Delete(ctx, id); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionDeletePart,
			EntityType: entity.AuditEntityPart,
			EntityID:   id,
			Detail:     map[string]interface{}{"part_number": part.PartNumber},
		})
	})
	if err != nil {
		return fmt.Errorf("delete part %s: %w", id, err)
	}
	return nil
}

// ============================================================
// Checkout
// ============================================================

// Checkout 签出零件。只有当前无人签出时才成功，否则返回 ErrConflict
func (s *PartService) Checkout(ctx context.Context, id, actor, station string) (*repository.PartView, error) {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		parts := s.repo.WithTx(tx)
		ok, err := parts.Checkout(ctx, id, actor, station, s.now())
		if err != nil {
			return err
		}
		if !ok {
			part, err := parts.FindByID(ctx, id)
			if err != nil {
				return notFound(err, "part", id)
			}
			holder := ""
			if part.CheckedOutBy != nil {
				holder = *part.CheckedOutBy
			}
			return plmerr.Conflict("part %s is already checked out by %s", part.PartNumber, holder)
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionCheckout,
			EntityType: entity.AuditEntityPart,
			EntityID:   id,
			Detail:     map[string]interface{}{"station": station},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("checkout part %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Checkin clears the checkout. Whether actor may do so is the caller's
// decision, see CanCheckin.
func (s *PartService) Checkin(ctx context.Context, id, actor string) (*repository.PartView, error) {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		parts := s.repo.WithTx(tx)
		part, err := parts.FindByID(ctx, id)
		if err != nil {
			return notFound(err, "part", id)
		}
		if _, err := parts.Checkin(ctx, id); err != nil {
			return err
		}
		detail := map[string]interface{}{}
		if part.CheckedOutBy != nil {
			detail["previous_holder"] = *part.CheckedOutBy
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionCheckin,
			EntityType: entity.AuditEntityPart,
			EntityID:   id,
			Detail:     detail,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("checkin part %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// ============================================================
// Release / revision
// ============================================================

// Release 发布并锁定零件，可重复调用
func (s *PartService) Release(ctx context.Context, id, actor string) (*repository.PartView, error) {
	return s.setReleaseState(ctx, id, actor, entity.PartStatusReleased, true, ActionRelease)
}

// Unrelease 撤销发布并解锁，可重复调用
func (s *PartService) Unrelease(ctx context.Context, id, actor string) (*repository.PartView, error) {
	return s.setReleaseState(ctx, id, actor, entity.PartStatusPrototype, false, ActionUnrelease)
}

func (s *PartService) setReleaseState(ctx context.Context, id, actor, status string, locked bool, action string) (*repository.PartView, error) {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		ok, err := s.repo.WithTx(tx).SetReleaseState(ctx, id, status, locked, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return plmerr.NotFound("part", id)
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     action,
			EntityType: entity.AuditEntityPart,
			EntityID:   id,
			Detail:     map[string]interface{}{"release_status": status},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s part %s: %w", action, id, err)
	}
	return s.Get(ctx, id)
}

// ReviseRevision snapshots the part under its current label, then moves it to
// the next label as an unlocked prototype, whatever its state was. It returns
// the new label.
func (s *PartService) ReviseRevision(ctx context.Context, id, actor, description string) (string, error) {
	var next string
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		parts := s.repo.WithTx(tx)
		part, err := parts.FindByID(ctx, id)
		if err != nil {
			return notFound(err, "part", id)
		}
		next, err = NextRevision(part.PartRevision)
		if err != nil {
			return err
		}

		snapshot, err := entity.ToJSONB(part)
		if err != nil {
			return fmt.Errorf("snapshot part: %w", err)
		}
		now := s.now()
		if err := parts.CreateRevision(ctx, &entity.PartRevision{
			PartID:        part.ID,
			RevisionLabel: part.PartRevision,
			Description:   description,
			ChangedBy:     actor,
			Snapshot:      snapshot,
			ChangedAt:     now,
		}); err != nil {
			return err
		}
		if _, err := parts.SetRevision(ctx, id, next, now); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionBumpRevision,
			EntityType: entity.AuditEntityPart,
			EntityID:   id,
			Detail: map[string]interface{}{
				"from":        part.PartRevision,
				"to":          next,
				"description": description,
			},
		})
	})
	if err != nil {
		return "", fmt.Errorf("revise part %s: %w", id, err)
	}
	s.log.Info("part revised", zap.String("part_id", id), zap.String("revision", next))
	return next, nil
}

// ListRevisions 获取修订历史，最新在前
func (s *PartService) ListRevisions(ctx context.Context, id string) ([]entity.PartRevision, error) {
	if err := s.ensureExists(ctx, id); err != nil {
		return nil, err
	}
	revs, err := s.repo.ListRevisions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revs, nil
}

// ============================================================
// Attributes
// ============================================================

// SetAttributeRequest 设置属性请求
type SetAttributeRequest struct {
	Key   string `json:"attr_key" validate:"required,max=128"`
	Value string `json:"attr_value"`
	Order int    `json:"attr_order"`
}

// SetAttribute inserts or overwrites the value stored under key.
func (s *PartService) SetAttribute(ctx context.Context, partID, actor string, req *SetAttributeRequest) error {
	req.Key = strings.TrimSpace(req.Key)
	if err := validateStruct(req); err != nil {
		return err
	}
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		parts := s.repo.WithTx(tx)
		exists, err := parts.Exists(ctx, partID)
		if err != nil {
			return err
		}
		if !exists {
			return plmerr.NotFound("part", partID)
		}
		if err := parts.UpsertAttribute(ctx, &entity.PartAttribute{
			PartID:    partID,
			AttrKey:   req.Key,
			AttrValue: req.Value,
			AttrOrder: req.Order,
		}); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionSetAttribute,
			EntityType: entity.AuditEntityPart,
			EntityID:   partID,
			Detail:     map[string]interface{}{"key": req.Key, "value": req.Value},
		})
	})
	if err != nil {
		return fmt.Errorf("set attribute %s: %w", req.Key, err)
	}
	return nil
}

// DeleteAttribute removes key from the part; removing an absent key is a no-op.
func (s *PartService) DeleteAttribute(ctx context.Context, partID, actor, key string) error {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		if err := s.repo.WithTx(tx).DeleteAttribute(ctx, partID, key); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionDeleteAttribute,
			EntityType: entity.AuditEntityPart,
			EntityID:   partID,
			Detail:     map[string]interface{}{"key": key},
		})
	})
	if err != nil {
		return fmt.Errorf("delete attribute %s: %w", key, err)
	}
	return nil
}

// ListAttributes 获取零件属性
func (s *PartService) ListAttributes(ctx context.Context, partID string) ([]entity.PartAttribute, error) {
	if err := s.ensureExists(ctx, partID); err != nil {
		return nil, err
	}
	attrs, err := s.repo.ListAttributes(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	return attrs, nil
}

// ListAllAttributeKeys 获取所有已使用的属性键
func (s *PartService) ListAllAttributeKeys(ctx context.Context) ([]string, error) {
	keys, err := s.repo.ListAttributeKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attribute keys: %w", err)
	}
	return keys, nil
}

func (s *PartService) ensureExists(ctx context.Context, id string) error {
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return plmerr.NotFound("part", id)
	}
	return nil
}
