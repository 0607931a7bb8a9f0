package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kkers42/PLM-Lite/internal/config"
	"github.com/kkers42/PLM-Lite/internal/database"
	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Config *config.Config
	T      *testing.T
}

// SetupTestEnv opens a fresh migrated SQLite database and files root under
// t.TempDir. Everything is removed when the test ends.
func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	cfg := config.Default(t.TempDir())

	db, err := database.Open(cfg.Database, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close(db)
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return &TestEnv{DB: db, Config: cfg, T: t}
}

// SetupTestDB returns just the database of a fresh test environment.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return SetupTestEnv(t).DB
}

// SeedTestRole creates a role granting the given abilities.
func SeedTestRole(t *testing.T, db *gorm.DB, name string, abilities ...string) *entity.Role {
	t.Helper()
	role := &entity.Role{
		ID:        newID(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	for _, a := range abilities {
		switch a {
		case entity.AbilityView:
			role.CanView = true
		case entity.AbilityWrite:
			role.CanWrite = true
		case entity.AbilityUpload:
			role.CanUpload = true
		case entity.AbilityCheckout:
			role.CanCheckout = true
		case entity.AbilityRelease:
			role.CanRelease = true
		case entity.AbilityAdmin:
			role.CanAdmin = true
		default:
			t.Fatalf("unknown ability %q", a)
		}
	}
	if err := db.Create(role).Error; err != nil {
		t.Fatalf("Failed to seed test role: %v", err)
	}
	return role
}

// SeedTestUser creates an active user, optionally holding role.
func SeedTestUser(t *testing.T, db *gorm.DB, username string, role *entity.Role) *entity.User {
	t.Helper()
	user := &entity.User{
		ID:        newID(),
		Username:  strings.ToLower(username),
		Email:     strings.ToLower(username) + "@test.local",
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if role != nil {
		user.RoleID = &role.ID
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed test user: %v", err)
	}
	user.Role = role
	return user
}

// StepClock returns a clock starting at start that advances by step on every call.
func StepClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:32]
}
