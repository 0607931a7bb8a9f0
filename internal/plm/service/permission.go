package service

import (
	"context"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/repository"
	"go.uber.org/zap"
)

// Gate decides whether actor may exercise ability. Adapters call it once per
// mutating request before reaching a service.
type Gate interface {
	Allowed(ctx context.Context, actor, ability string) bool
}

// RoleGate grants abilities from the actor's role flags.
// Unknown and inactive users are denied everything.
type RoleGate struct {
	users *repository.UserRepository
	log   *zap.Logger
}

// NewRoleGate 创建基于角色的权限检查
func NewRoleGate(users *repository.UserRepository, log *zap.Logger) *RoleGate {
	return &RoleGate{users: users, log: log}
}

// Allowed implements Gate.
func (g *RoleGate) Allowed(ctx context.Context, actor, ability string) bool {
	if actor == "" {
		return false
	}
	user, err := g.users.FindByID(ctx, actor)
	if err != nil {
		g.log.Debug("permission lookup failed", zap.String("actor", actor), zap.Error(err))
		return false
	}
	if !user.IsActive {
		return false
	}
	return user.Role.Has(ability)
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, actor, ability string) bool

// Allowed implements Gate.
func (f GateFunc) Allowed(ctx context.Context, actor, ability string) bool {
	return f(ctx, actor, ability)
}

// CanCheckin applies the check-in policy: only the current holder or an admin
// may release a checkout. A part nobody holds may be checked in by anyone
// with the checkout ability.
func CanCheckin(ctx context.Context, gate Gate, part *entity.Part, actor string) bool {
	if !part.IsCheckedOut() {
		return gate.Allowed(ctx, actor, entity.AbilityCheckout)
	}
	if *part.CheckedOutBy == actor {
		return true
	}
	return gate.Allowed(ctx, actor, entity.AbilityAdmin)
}
