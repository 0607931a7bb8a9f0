package database

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"gorm.io/gorm"
)

// AllModels lists every table owned by the core, parents before children.
func AllModels() []interface{} {
	return []interface{}{
		&entity.Role{},
		&entity.User{},
		&entity.Part{},
		&entity.PartAttribute{},
		&entity.PartRevision{},
		&entity.Relationship{},
		&entity.Document{},
		&entity.FileVersion{},
		&entity.AuditLog{},
	}
}

// Migrate brings the schema up to date. A clean database gets the full schema
// in one step; later migrations are applied in order.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202610190001_initial",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(AllModels()...)
			},
			Rollback: func(tx *gorm.DB) error {
				models := AllModels()
				for i := len(models) - 1; i >= 0; i-- {
					if err := tx.Migrator().DropTable(models[i]); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			ID: "202610200001_history_seq",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&entity.FileVersion{}, &entity.PartRevision{}); err != nil {
					return err
				}
				if err := backfillSeq(tx, "file_versions", "document_id", "saved_at"); err != nil {
					return err
				}
				return backfillSeq(tx, "part_revisions", "part_id", "changed_at")
			},
			Rollback: func(tx *gorm.DB) error {
				if err := tx.Migrator().DropColumn(&entity.PartRevision{}, "Seq"); err != nil {
					return err
				}
				return tx.Migrator().DropColumn(&entity.FileVersion{}, "Seq")
			},
		},
	})

	m.InitSchema(func(tx *gorm.DB) error {
		return tx.AutoMigrate(AllModels()...)
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// backfillSeq numbers existing history rows per owner in time order.
func backfillSeq(tx *gorm.DB, table, owner, at string) error {
	var rows []struct {
		ID    string
		Owner string
	}
	err := tx.Table(table).
		Select("id, " + owner + " AS owner").
		Order(owner + ", " + at + ", id").
		Scan(&rows).Error
	if err != nil {
		return err
	}
	seq := map[string]int64{}
	for _, row := range rows {
		seq[row.Owner]++
		err := tx.Table(table).
			Where("id = ?", row.ID).
			Update("seq", seq[row.Owner]).Error
		if err != nil {
			return err
		}
	}
	return nil
}
