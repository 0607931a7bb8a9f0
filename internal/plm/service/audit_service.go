package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/events"
	"github.com/kkers42/PLM-Lite/internal/plm/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Audit actions
const (
	ActionCreatePart         = "create_part"
	ActionUpdatePart         = "update_part"
	ActionDeletePart         = "delete_part"
	ActionCheckout           = "checkout"
	ActionCheckin            = "checkin"
	ActionRelease            = "release"
	ActionUnrelease          = "unrelease"
	ActionBumpRevision       = "bump_revision"
	ActionSetAttribute       = "set_attribute"
	ActionDeleteAttribute    = "delete_attribute"
	ActionAddRelationship    = "add_relationship"
	ActionDeleteRelationship = "delete_relationship"
	ActionUploadDocument     = "upload_document"
	ActionUpdateDocument     = "update_document"
	ActionRestoreVersion     = "restore_version"
	ActionDeleteDocument     = "delete_document"
	ActionAttachDocument     = "attach_document"
	ActionDetachDocument     = "detach_document"
	ActionCreateUser         = "create_user"
	ActionUpdateUser         = "update_user"
	ActionCreateRole         = "create_role"
	ActionDeleteRole         = "delete_role"
)

// AuditEvent is one mutation to record.
type AuditEvent struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Detail     map[string]interface{}
}

// AuditQuery 审计日志查询条件
type AuditQuery struct {
	EntityType string
	EntityID   string
	UserID     string
	Action     string
	Page       int
	PerPage    int
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Items   []repository.AuditLogView `json:"items"`
	Total   int64                     `json:"total"`
	Page    int                       `json:"page"`
	PerPage int                       `json:"per_page"`
}

// AuditService is the append-only sink every mutation writes through.
// Entries are written inside the caller's transaction and, once it commits,
// handed to the in-process hub and optionally published to a Redis channel.
type AuditService struct {
	repo    *repository.AuditLogRepository
	hub     *events.Hub
	rdb     *redis.Client
	channel string
	log     *zap.Logger
	now     func() time.Time
}

// NewAuditService 创建审计服务
func NewAuditService(repo *repository.AuditLogRepository, hub *events.Hub, rdb *redis.Client, channel string, log *zap.Logger) *AuditService {
	if channel == "" {
		channel = "plm:audit"
	}
	return &AuditService{repo: repo, hub: hub, rdb: rdb, channel: channel, log: log, now: defaultClock}
}

// Hub returns the in-process fan-out, nil when none is configured.
func (s *AuditService) Hub() *events.Hub {
	return s.hub
}

// Append records an event outside any other unit of work.
func (s *AuditService) Append(ctx context.Context, ev AuditEvent) (*entity.AuditLog, error) {
	entry, err := s.appendTx(ctx, nil, ev)
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, entry)
	return entry, nil
}

// appendTx inserts the entry using tx, or the service's own handle when tx is nil.
func (s *AuditService) appendTx(ctx context.Context, tx *gorm.DB, ev AuditEvent) (*entity.AuditLog, error) {
	repo := s.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	entry := &entity.AuditLog{
		UserID:     ev.UserID,
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Detail:     entity.JSONB(ev.Detail),
		Timestamp:  s.now(),
	}
	if err := repo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit %s: %w", ev.Action, err)
	}
	return entry, nil
}

// Notify publishes committed entries. Failures are logged and dropped;
// the database row is the record of truth.
func (s *AuditService) Notify(ctx context.Context, entries ...*entity.AuditLog) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		s.log.Debug("audit",
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID),
			zap.String("user_id", entry.UserID),
		)
		if s.hub != nil {
			s.hub.Broadcast(entry)
		}
		if s.rdb == nil {
			continue
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			s.log.Warn("encode audit event", zap.Error(err))
			continue
		}
		if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
			s.log.Warn("publish audit event",
				zap.String("channel", s.channel),
				zap.String("action", entry.Action),
				zap.Error(err),
			)
		}
	}
}

// Query 分页查询审计日志
func (s *AuditService) Query(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	page, perPage := repository.Page(q.Page, q.PerPage, 500)
	items, total, err := s.repo.List(ctx, repository.AuditLogFilter{
		EntityType: q.EntityType,
		EntityID:   q.EntityID,
		UserID:     q.UserID,
		Action:     q.Action,
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return &AuditPage{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// recorder collects the entries written during one transaction.
type recorder struct {
	audit   *AuditService
	tx      *gorm.DB
	entries []*entity.AuditLog
}

func (r *recorder) record(ctx context.Context, ev AuditEvent) error {
	entry, err := r.audit.appendTx(ctx, r.tx, ev)
	if err != nil {
		return err
	}
	r.entries = append(r.entries, entry)
	return nil
}

// inTx runs fn as one transaction on db. Audit entries recorded through rec
// commit or roll back with it and are published only after commit.
func (s *AuditService) inTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB, rec *recorder) error) error {
	rec := &recorder{audit: s}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec.tx = tx
		return fn(tx, rec)
	})
	if err != nil {
		return err
	}
	s.Notify(ctx, rec.entries...)
	return nil
}
