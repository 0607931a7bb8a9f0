package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kkers42/PLM-Lite/internal/config"
	"github.com/kkers42/PLM-Lite/internal/plm/events"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/repository"
	"github.com/kkers42/PLM-Lite/internal/plm/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Audit    *AuditService
	Part     *PartService
	BOM      *BOMService
	Document *DocumentService
	User     *UserService
	Gate     *RoleGate
}

// Deps are the optional collaborators. Nil Redis disables audit publishing,
// nil Mirror disables off-box copies of canonical files. A nil Hub is
// replaced by a fresh one.
type Deps struct {
	Hub    *events.Hub
	Redis  *redis.Client
	Mirror storage.Mirror
	Logger *zap.Logger
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, cfg *config.Config, deps Deps) (*Services, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	layout, err := storage.NewLayout(cfg.Storage.FilesRoot, cfg.Storage.TempFolder)
	if err != nil {
		return nil, err
	}

	repos := repository.NewRepositories(db)
	hub := deps.Hub
	if hub == nil {
		hub = events.NewHub(log)
	}
	audit := NewAuditService(repos.AuditLog, hub, deps.Redis, cfg.Redis.Channel, log)

	return &Services{
		Audit:    audit,
		Part:     NewPartService(db, repos.Part, audit, log),
		BOM:      NewBOMService(db, repos.Part, repos.Relationship, audit, cfg.BOM.MaxDepth, log),
		Document: NewDocumentService(db, repos.Document, repos.Part, audit, layout, cfg.Versioning, deps.Mirror, log),
		User:     NewUserService(db, repos.User, audit, log),
		Gate:     NewRoleGate(repos.User, log),
	}, nil
}

// ============================================================
// Validation
// ============================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// validateStruct runs tag validation and reports failures as ErrValidation.
func validateStruct(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return plmerr.Validation("%v", err)
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fe.Field()+" "+validationMessage(fe))
	}
	return plmerr.Validation("%s", strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "email":
		return "must be a valid email"
	}
	return "is invalid"
}

// ============================================================
// Helpers
// ============================================================

func defaultClock() time.Time {
	return time.Now()
}

// notFound keeps the sentinel while naming the missing record.
func notFound(err error, kind, id string) error {
	if errors.Is(err, plmerr.ErrNotFound) {
		return plmerr.NotFound(kind, id)
	}
	return err
}
