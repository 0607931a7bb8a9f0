package service

import (
	"context"
	"testing"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testFixture struct {
	env   *testutil.TestEnv
	svc   *Services
	admin *entity.User
	ctx   context.Context
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	env := testutil.SetupTestEnv(t)
	svc, err := NewServices(env.DB, env.Config, Deps{Logger: zap.NewNop()})
	require.NoError(t, err)

	adminRole := testutil.SeedTestRole(t, env.DB, "Admin", entity.AbilityAdmin)
	admin := testutil.SeedTestUser(t, env.DB, "alice", adminRole)
	return &testFixture{env: env, svc: svc, admin: admin, ctx: context.Background()}
}

func (f *testFixture) createPart(t *testing.T, number, name string) string {
	t.Helper()
	p, err := f.svc.Part.Create(f.ctx, f.admin.ID, &CreatePartRequest{PartNumber: number, PartName: name})
	require.NoError(t, err)
	return p.ID
}
