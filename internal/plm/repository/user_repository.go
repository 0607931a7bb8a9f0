package repository

import (
	"context"
	"strings"
	"time"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"gorm.io/gorm"
)

// UserRepository 用户与角色仓库
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	if user.ID == "" {
		user.ID = generateID()
	}
	return translateError(r.db.WithContext(ctx).Create(user).Error)
}

// FindByID 根据ID查找用户（含角色）
func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	if err := r.db.WithContext(ctx).Preload("Role").Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

// FindByUsername 根据用户名查找用户，大小写不敏感
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Preload("Role").
		Where("username = ?", strings.ToLower(strings.TrimSpace(username))).
		First(&user).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

// List 获取用户列表
func (r *UserRepository) List(ctx context.Context) ([]entity.User, error) {
	users := []entity.User{}
	err := r.db.WithContext(ctx).Preload("Role").Order("username ASC").Find(&users).Error
	return users, translateError(err)
}

// Update applies field updates to a user.
func (r *UserRepository) Update(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchLastActive 更新最后活跃时间
func (r *UserRepository) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&entity.User{}).Where("id = ?", id).Update("last_active", at).Error
	return translateError(err)
}

// CountUsers 用户总数
func (r *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.User{}).Count(&count).Error
	return count, translateError(err)
}

// ============================================================
// Roles
// ============================================================

// CreateRole 创建角色
func (r *UserRepository) CreateRole(ctx context.Context, role *entity.Role) error {
	if role.ID == "" {
		role.ID = generateID()
	}
	return translateError(r.db.WithContext(ctx).Create(role).Error)
}

// FindRole 根据ID查找角色
func (r *UserRepository) FindRole(ctx context.Context, id string) (*entity.Role, error) {
	var role entity.Role
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&role).Error; err != nil {
		return nil, translateError(err)
	}
	return &role, nil
}

// FindRoleByName 根据名称查找角色，大小写不敏感
func (r *UserRepository) FindRoleByName(ctx context.Context, name string) (*entity.Role, error) {
	var role entity.Role
	err := r.db.WithContext(ctx).Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).First(&role).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &role, nil
}

// ListRoles 获取角色列表
func (r *UserRepository) ListRoles(ctx context.Context) ([]entity.Role, error) {
	roles := []entity.Role{}
	err := r.db.WithContext(ctx).Order("name ASC").Find(&roles).Error
	return roles, translateError(err)
}

// DeleteRole 删除角色，关联用户的 role_id 置空
func (r *UserRepository) DeleteRole(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Role{})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}
