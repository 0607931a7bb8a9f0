package entity

import "time"

// Audit entity types
const (
	AuditEntityPart         = "part"
	AuditEntityRelationship = "relationship"
	AuditEntityDocument     = "document"
	AuditEntityUser         = "user"
	AuditEntityRole         = "role"
)

// AuditLog is an append-only record of a mutation. Rows are never updated or deleted.
type AuditLog struct {
	ID         string    `json:"id" gorm:"primaryKey;size:32"`
	UserID     string    `json:"user_id" gorm:"size:32;index"`
	Action     string    `json:"action" gorm:"size:50;not null"`
	EntityType string    `json:"entity_type" gorm:"size:50;not null;index:idx_audit_entity"`
	EntityID   string    `json:"entity_id" gorm:"size:32;index:idx_audit_entity"`
	Detail     JSONB     `json:"detail" gorm:"type:text"`
	Timestamp  time.Time `json:"timestamp" gorm:"not null;index"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}
