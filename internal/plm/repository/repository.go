package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = plmerr.ErrNotFound
)

// Repositories 仓库集合
type Repositories struct {
	Part         *PartRepository
	Relationship *RelationshipRepository
	Document     *DocumentRepository
	AuditLog     *AuditLogRepository
	User         *UserRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Part:         NewPartRepository(db),
		Relationship: NewRelationshipRepository(db),
		Document:     NewDocumentRepository(db),
		AuditLog:     NewAuditLogRepository(db),
		User:         NewUserRepository(db),
	}
}

// generateID 生成32位ID
func generateID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:32]
}

// translateError maps driver and gorm errors onto the core error kinds.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", plmerr.ErrConflict, err)
	case isBusy(err):
		return fmt.Errorf("%w: storage busy: %v", plmerr.ErrIO, err)
	}
	return err
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// Page normalises 1-based pagination arguments.
func Page(page, perPage, maxPerPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes LIKE wildcards so s matches literally with ESCAPE '\'.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
