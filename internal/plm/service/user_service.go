package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Built-in roles created by SeedDefaults
const (
	RoleAdmin    = "Admin"
	RoleEngineer = "Engineer"
	RoleViewer   = "Viewer"

	DefaultAdminUsername = "admin"
)

// UserService 用户与角色服务
type UserService struct {
	db    *gorm.DB
	repo  *repository.UserRepository
	audit *AuditService
	log   *zap.Logger
	now   func() time.Time
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB, repo *repository.UserRepository, audit *AuditService, log *zap.Logger) *UserService {
	return &UserService{db: db, repo: repo, audit: audit, log: log, now: defaultClock}
}

// CreateRoleRequest 创建角色请求
type CreateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	CanView     bool   `json:"can_view"`
	CanWrite    bool   `json:"can_write"`
	CanUpload   bool   `json:"can_upload"`
	CanCheckout bool   `json:"can_checkout"`
	CanRelease  bool   `json:"can_release"`
	CanAdmin    bool   `json:"can_admin"`
}

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"omitempty,email"`
	RoleID   string `json:"role_id"`
}

// UpdateUserRequest 更新用户请求
type UpdateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	RoleID   *string `json:"role_id"`
	IsActive *bool   `json:"is_active"`
}

// ============================================================
// Roles
// ============================================================

// CreateRole 创建角色，名称重复返回 ErrConflict
func (s *UserService) CreateRole(ctx context.Context, actor string, req *CreateRoleRequest) (*entity.Role, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	role := &entity.Role{
		Name:        req.Name,
		CanView:     req.CanView,
		CanWrite:    req.CanWrite,
		CanUpload:   req.CanUpload,
		CanCheckout: req.CanCheckout,
		CanRelease:  req.CanRelease,
		CanAdmin:    req.CanAdmin,
		CreatedAt:   s.now(),
	}
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		users := s.repo.WithTx(tx)
		if _, err := users.FindRoleByName(ctx, role.Name); err == nil {
			return plmerr.Conflict("role %s already exists", role.Name)
		} else if !errors.Is(err, plmerr.ErrNotFound) {
			return err
		}
		if err := users.CreateRole(ctx, role); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionCreateRole,
			EntityType: entity.AuditEntityRole,
			EntityID:   role.ID,
			Detail:     map[string]interface{}{"name": role.Name},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create role %s: %w", req.Name, err)
	}
	return role, nil
}

// ListRoles 获取角色列表
func (s *UserService) ListRoles(ctx context.Context) ([]entity.Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// GetRoleByName 根据名称获取角色
func (s *UserService) GetRoleByName(ctx context.Context, name string) (*entity.Role, error) {
	role, err := s.repo.FindRoleByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find role: %w", notFound(err, "role", name))
	}
	return role, nil
}

// DeleteRole 删除角色；持有该角色的用户失去角色
func (s *UserService) DeleteRole(ctx context.Context, id, actor string) error {
	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		users := s.repo.WithTx(tx)
		role, err := users.FindRole(ctx, id)
		if err != nil {
			return notFound(err, "role", id)
		}
		if _, err := users.DeleteRole(ctx, id); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionDeleteRole,
			EntityType: entity.AuditEntityRole,
			EntityID:   id,
			Detail:     map[string]interface{}{"name": role.Name},
		})
	})
	if err != nil {
		return fmt.Errorf("delete role %s: %w", id, err)
	}
	return nil
}

// ============================================================
// Users
// ============================================================

// CreateUser 创建用户。用户名统一小写，重复返回 ErrConflict
func (s *UserService) CreateUser(ctx context.Context, actor string, req *CreateUserRequest) (*entity.User, error) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = strings.TrimSpace(req.Email)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	user := &entity.User{
		Username:  req.Username,
		Email:     req.Email,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if req.RoleID != "" {
		roleID := req.RoleID
		user.RoleID = &roleID
	}

	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		users := s.repo.WithTx(tx)
		if user.RoleID != nil {
			if _, err := users.FindRole(ctx, *user.RoleID); err != nil {
				return notFound(err, "role", *user.RoleID)
			}
		}
		if _, err := users.FindByUsername(ctx, user.Username); err == nil {
			return plmerr.Conflict("username %s already exists", user.Username)
		} else if !errors.Is(err, plmerr.ErrNotFound) {
			return err
		}
		if err := users.Create(ctx, user); err != nil {
			return err
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionCreateUser,
			EntityType: entity.AuditEntityUser,
			EntityID:   user.ID,
			Detail:     map[string]interface{}{"username": user.Username},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", req.Username, err)
	}
	return s.GetUser(ctx, user.ID)
}

// GetUser 获取用户
func (s *UserService) GetUser(ctx context.Context, id string) (*entity.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", notFound(err, "user", id))
	}
	return user, nil
}

// GetUserByUsername 根据用户名获取用户
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*entity.User, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", notFound(err, "user", username))
	}
	return user, nil
}

// ListUsers 获取用户列表
func (s *UserService) ListUsers(ctx context.Context) ([]entity.User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUser 更新用户邮箱、角色、启用状态
func (s *UserService) UpdateUser(ctx context.Context, id, actor string, req *UpdateUserRequest) (*entity.User, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if req.Email != nil {
		updates["email"] = strings.TrimSpace(*req.Email)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.RoleID != nil {
		if *req.RoleID == "" {
			updates["role_id"] = gorm.Expr("NULL")
		} else {
			updates["role_id"] = *req.RoleID
		}
	}
	if len(updates) == 0 {
		return s.GetUser(ctx, id)
	}

	err := s.audit.inTx(ctx, s.db, func(tx *gorm.DB, rec *recorder) error {
		users := s.repo.WithTx(tx)
		if req.RoleID != nil && *req.RoleID != "" {
			if _, err := users.FindRole(ctx, *req.RoleID); err != nil {
				return notFound(err, "role", *req.RoleID)
			}
		}
		ok, err := users.Update(ctx, id, updates)
		if err != nil {
			return err
		}
		if !ok {
			return plmerr.NotFound("user", id)
		}
		detail := map[string]interface{}{}
		for k, v := range updates {
			if k == "role_id" && req.RoleID != nil {
				v = *req.RoleID
			}
			detail[k] = v
		}
		return rec.record(ctx, AuditEvent{
			UserID:     actor,
			Action:     ActionUpdateUser,
			EntityType: entity.AuditEntityUser,
			EntityID:   id,
			Detail:     detail,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update user %s: %w", id, err)
	}
	return s.GetUser(ctx, id)
}

// TouchLastActive records that the user just acted. Failures are only logged.
func (s *UserService) TouchLastActive(ctx context.Context, id string) {
	if err := s.repo.TouchLastActive(ctx, id, s.now()); err != nil {
		s.log.Warn("update last active", zap.String("user_id", id), zap.Error(err))
	}
}

// SeedDefaults creates the built-in roles and the admin user when missing.
// It is safe to run repeatedly and returns the admin user.
func (s *UserService) SeedDefaults(ctx context.Context) (*entity.User, error) {
	defaults := []CreateRoleRequest{
		{Name: RoleAdmin, CanView: true, CanWrite: true, CanUpload: true, CanCheckout: true, CanRelease: true, CanAdmin: true},
		{Name: RoleEngineer, CanView: true, CanWrite: true, CanUpload: true, CanCheckout: true},
		{Name: RoleViewer, CanView: true},
	}
	var adminRoleID string
	for i := range defaults {
		req := defaults[i]
		role, err := s.repo.FindRoleByName(ctx, req.Name)
		if errors.Is(err, plmerr.ErrNotFound) {
			role, err = s.CreateRole(ctx, "", &req)
		}
		if err != nil {
			return nil, fmt.Errorf("seed role %s: %w", req.Name, err)
		}
		if req.Name == RoleAdmin {
			adminRoleID = role.ID
		}
	}

	admin, err := s.repo.FindByUsername(ctx, DefaultAdminUsername)
	if err == nil {
		return admin, nil
	}
	if !errors.Is(err, plmerr.ErrNotFound) {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	admin, err = s.CreateUser(ctx, "", &CreateUserRequest{Username: DefaultAdminUsername, RoleID: adminRoleID})
	if err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	s.log.Info("seeded default roles and admin user", zap.String("admin_id", admin.ID))
	return admin, nil
}
