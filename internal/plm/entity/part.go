package entity

import "time"

// Part release states
const (
	PartStatusPrototype = "Prototype"
	PartStatusReleased  = "Released"
)

// DefaultPartRevision is the revision label of a newly created part.
const DefaultPartRevision = "A"

// Part is an engineering part. PartNumber is stored upper-cased and never changes.
type Part struct {
	ID                string     `json:"id" gorm:"primaryKey;size:32"`
	PartNumber        string     `json:"part_number" gorm:"size:64;not null;uniqueIndex"`
	PartName          string     `json:"part_name" gorm:"size:256;not null"`
	PartRevision      string     `json:"part_revision" gorm:"size:16;not null;default:A"`
	Description       string     `json:"description" gorm:"type:text"`
	PartLevel         string     `json:"part_level" gorm:"size:32"`
	ReleaseStatus     string     `json:"release_status" gorm:"size:16;not null;default:Prototype;index"`
	IsLocked          bool       `json:"is_locked" gorm:"not null;default:false"`
	CheckedOutBy      *string    `json:"checked_out_by" gorm:"size:32;index"`
	CheckedOutAt      *time.Time `json:"checked_out_at"`
	CheckedOutStation string     `json:"checked_out_station" gorm:"size:128"`
	CreatedBy         string     `json:"created_by" gorm:"size:32"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Part) TableName() string {
	return "parts"
}

// IsCheckedOut reports whether somebody holds the checkout.
func (p *Part) IsCheckedOut() bool {
	return p.CheckedOutBy != nil && *p.CheckedOutBy != ""
}

// PartAttribute is a key/value pair on a part; keys are unique per part.
type PartAttribute struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	PartID    string `json:"part_id" gorm:"size:32;not null;uniqueIndex:idx_part_attr_key"`
	AttrKey   string `json:"attr_key" gorm:"size:128;not null;uniqueIndex:idx_part_attr_key"`
	AttrValue string `json:"attr_value" gorm:"type:text"`
	AttrOrder int    `json:"attr_order" gorm:"not null;default:0"`

	Part *Part `json:"-" gorm:"foreignKey:PartID;constraint:OnDelete:CASCADE"`
}

func (PartAttribute) TableName() string {
	return "part_attributes"
}

// PartRevision is an append-only snapshot taken when a part's revision is bumped.
// RevisionLabel is the label the part had before the bump.
type PartRevision struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	PartID        string    `json:"part_id" gorm:"size:32;not null;index:idx_part_revisions_part_seq,priority:1"`
	Seq           int64     `json:"seq" gorm:"not null;default:0;index:idx_part_revisions_part_seq,priority:2"`
	RevisionLabel string    `json:"revision_label" gorm:"size:16;not null"`
	Description   string    `json:"description" gorm:"type:text"`
	ChangedBy     string    `json:"changed_by" gorm:"size:32"`
	Snapshot      JSONB     `json:"snapshot" gorm:"type:text"`
	ChangedAt     time.Time `json:"changed_at" gorm:"index"`

	Part *Part `json:"-" gorm:"foreignKey:PartID;constraint:OnDelete:CASCADE"`
}

func (PartRevision) TableName() string {
	return "part_revisions"
}
