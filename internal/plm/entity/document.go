package entity

import "time"

// Document points at the canonical ("god") copy of a file on disk.
// PartID is nil for unattached documents.
type Document struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	PartID      *string   `json:"part_id" gorm:"size:32;index"`
	Filename    string    `json:"filename" gorm:"size:256;not null;index"`
	StoredPath  string    `json:"stored_path" gorm:"size:1024;not null"`
	FileType    string    `json:"file_type" gorm:"size:32"`
	Description string    `json:"description" gorm:"type:text"`
	UploadedBy  string    `json:"uploaded_by" gorm:"size:32"`
	UploadedAt  time.Time `json:"uploaded_at" gorm:"index"`

	Part *Part `json:"-" gorm:"foreignKey:PartID;constraint:OnDelete:SET NULL"`
}

func (Document) TableName() string {
	return "documents"
}

// FileVersion is a retained backup of a document's earlier content.
// Seq increases with every backup of the same document and orders versions;
// SavedAt is stored in UTC.
type FileVersion struct {
	ID           string    `json:"id" gorm:"primaryKey;size:32"`
	DocumentID   string    `json:"document_id" gorm:"size:32;not null;index:idx_file_versions_doc_seq,priority:1"`
	Seq          int64     `json:"seq" gorm:"not null;default:0;index:idx_file_versions_doc_seq,priority:2"`
	VersionLabel string    `json:"version_label" gorm:"size:32;not null"`
	BackupPath   string    `json:"backup_path" gorm:"size:1024;not null"`
	FileSize     int64     `json:"file_size" gorm:"not null;default:0"`
	SavedBy      string    `json:"saved_by" gorm:"size:32"`
	SavedAt      time.Time `json:"saved_at" gorm:"index"`

	Document *Document `json:"-" gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

func (FileVersion) TableName() string {
	return "file_versions"
}
