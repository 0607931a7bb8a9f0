package entity

import "time"

// DefaultRelationshipType is used when an edge is added without a type.
const DefaultRelationshipType = "assembly"

// Relationship is a BOM edge from a parent part to a child part.
type Relationship struct {
	ID               string    `json:"id" gorm:"primaryKey;size:32"`
	ParentPartID     string    `json:"parent_part_id" gorm:"size:32;not null;uniqueIndex:idx_rel_parent_child"`
	ChildPartID      string    `json:"child_part_id" gorm:"size:32;not null;uniqueIndex:idx_rel_parent_child;index"`
	Quantity         float64   `json:"quantity" gorm:"not null;default:1"`
	RelationshipType string    `json:"relationship_type" gorm:"size:32;not null;default:assembly"`
	Notes            string    `json:"notes" gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at"`

	Parent *Part `json:"-" gorm:"foreignKey:ParentPartID;constraint:OnDelete:CASCADE"`
	Child  *Part `json:"-" gorm:"foreignKey:ChildPartID;constraint:OnDelete:CASCADE"`
}

func (Relationship) TableName() string {
	return "part_relationships"
}
