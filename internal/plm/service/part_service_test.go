package service

import (
	"sync"
	"testing"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartCreate_NormalisesAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.Part.Create(f.ctx, f.admin.ID, &CreatePartRequest{PartNumber: "  abc-100 ", PartName: "Bracket"})
	require.NoError(t, err)
	assert.Equal(t, "ABC-100", p.PartNumber)
	assert.Equal(t, entity.DefaultPartRevision, p.PartRevision)
	assert.Equal(t, entity.PartStatusPrototype, p.ReleaseStatus)
	assert.False(t, p.IsLocked)
	assert.Equal(t, "alice", p.CreatedByName)

	_, err = f.svc.Part.Create(f.ctx, f.admin.ID, &CreatePartRequest{PartNumber: "Abc-100", PartName: "Other"})
	assert.ErrorIs(t, err, plmerr.ErrConflict)

	_, err = f.svc.Part.Create(f.ctx, f.admin.ID, &CreatePartRequest{PartNumber: "   ", PartName: "Blank"})
	assert.ErrorIs(t, err, plmerr.ErrValidation)
}

func TestPartGet(t *testing.T) {
	f := newFixture(t)
	id := f.createPart(t, "100-001", "Housing")
	require.NoError(t, f.svc.Part.SetAttribute(f.ctx, id, f.admin.ID, &SetAttributeRequest{Key: "material", Value: "AL6061"}))

	byNumber, err := f.svc.Part.GetByNumber(f.ctx, "100-001")
	require.NoError(t, err)
	assert.Equal(t, id, byNumber.ID)
	require.Len(t, byNumber.Attributes, 1)
	assert.Equal(t, "AL6061", byNumber.Attributes[0].AttrValue)

	_, err = f.svc.Part.Get(f.ctx, "missing")
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
	_, err = f.svc.Part.GetByNumber(f.ctx, "nope")
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
}

func TestPartList(t *testing.T) {
	f := newFixture(t)
	f.createPart(t, "200-001", "Top Cover")
	f.createPart(t, "200-002", "Bottom Cover")
	third := f.createPart(t, "300-001", "Screw")

	_, err := f.svc.Part.Checkout(f.ctx, third, f.admin.ID, "bench-1")
	require.NoError(t, err)

	res, err := f.svc.Part.List(f.ctx, PartListFilter{Search: "cover"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "200-001", res.Items[0].PartNumber)

	res, err = f.svc.Part.List(f.ctx, PartListFilter{CheckedOutOnly: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "alice", res.Items[0].CheckedOutByName)

	res, err = f.svc.Part.List(f.ctx, PartListFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "300-001", res.Items[0].PartNumber)
}

func TestPartList_SearchMatchesWildcardsLiterally(t *testing.T) {
	f := newFixture(t)
	f.createPart(t, "BRK_01", "Bracket")
	f.createPart(t, "BRK-02", "Bracket 100% steel")
	f.createPart(t, "BRKX03", "Bracket")

	res, err := f.svc.Part.List(f.ctx, PartListFilter{Search: "_"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "BRK_01", res.Items[0].PartNumber)

	res, err = f.svc.Part.List(f.ctx, PartListFilter{Search: "100%"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "BRK-02", res.Items[0].PartNumber)

	res, err = f.svc.Part.List(f.ctx, PartListFilter{Search: "brk"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)
}

func TestPartCheckout_ConcurrentCallersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	id := f.createPart(t, "400-001", "Shaft")

	const n = 8
	users := make([]*entity.User, n)
	for i := range users {
		users[i] = testutil.SeedTestUser(t, f.env.DB, "user"+string(rune('a'+i)), nil)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := f.svc.Part.Checkout(f.ctx, id, actor, "station")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, plmerr.ErrConflict):
				conflicts++
			}
		}(users[i].ID)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestPartCheckin(t *testing.T) {
	f := newFixture(t)
	id := f.createPart(t, "400-002", "Pin")

	p, err := f.svc.Part.Checkout(f.ctx, id, f.admin.ID, "bench-2")
	require.NoError(t, err)
	require.NotNil(t, p.CheckedOutBy)
	assert.Equal(t, "bench-2", p.CheckedOutStation)

	p, err = f.svc.Part.Checkin(f.ctx, id, f.admin.ID)
	require.NoError(t, err)
	assert.Nil(t, p.CheckedOutBy)
	assert.Nil(t, p.CheckedOutAt)
	assert.Empty(t, p.CheckedOutStation)

	_, err = f.svc.Part.Checkout(f.ctx, id, f.admin.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Part.Checkin(f.ctx, "missing", f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
}

func TestPartRelease_LocksUpdates(t *testing.T) {
	f := newFixture(t)
	id := f.createPart(t, "500-001", "Plate")
	name := "Base Plate"

	p, err := f.svc.Part.Release(f.ctx, id, f.admin.ID)
	require.NoError(t, err)
	assert.True(t, p.IsLocked)
	assert.Equal(t, entity.PartStatusReleased, p.ReleaseStatus)

	_, err = f.svc.Part.Release(f.ctx, id, f.admin.ID)
	require.NoError(t, err)

	_, err = f.svc.Part.Update(f.ctx, id, f.admin.ID, &UpdatePartRequest{PartName: &name})
	assert.ErrorIs(t, err, plmerr.ErrLocked)

	p, err = f.svc.Part.Unrelease(f.ctx, id, f.admin.ID)
	require.NoError(t, err)
	assert.False(t, p.IsLocked)
	assert.Equal(t, entity.PartStatusPrototype, p.ReleaseStatus)

	p, err = f.svc.Part.Update(f.ctx, id, f.admin.ID, &UpdatePartRequest{PartName: &name})
	require.NoError(t, err)
	assert.Equal(t, name, p.PartName)

	_, err = f.svc.Part.Update(f.ctx, "missing", f.admin.ID, &UpdatePartRequest{PartName: &name})
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
	_, err = f.svc.Part.Release(f.ctx, "missing", f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
}

func TestPartReviseRevision(t *testing.T) {
	f := newFixture(t)
	id := f.createPart(t, "100-001", "Housing")

	next, err := f.svc.Part.ReviseRevision(f.ctx, id, f.admin.ID, "first change")
	require.NoError(t, err)
	assert.Equal(t, "B", next)

	revs, err := f.svc.Part.ListRevisions(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, "A", revs[0].RevisionLabel)
	assert.Equal(t, "100-001", revs[0].Snapshot["part_number"])

	_, err = f.svc.Part.Release(f.ctx, id, f.admin.ID)
	require.NoError(t, err)

	next, err = f.svc.Part.ReviseRevision(f.ctx, id, f.admin.ID, "second change")
	require.NoError(t, err)
	assert.Equal(t, "C", next)

	p, err := f.svc.Part.Get(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "C", p.PartRevision)
	assert.False(t, p.IsLocked)
	assert.Equal(t, entity.PartStatusPrototype, p.ReleaseStatus)

	revs, err = f.svc.Part.ListRevisions(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	labels := []string{revs[0].RevisionLabel, revs[1].RevisionLabel}
	assert.Equal(t, []string{"B", "A"}, labels)
}

func TestPartReviseRevision_Overflow(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Part.Create(f.ctx, f.admin.ID, &CreatePartRequest{PartNumber: "600-001", PartName: "Gear", PartRevision: "Z"})
	require.NoError(t, err)

	_, err = f.svc.Part.ReviseRevision(f.ctx, p.ID, f.admin.ID, "")
	assert.ErrorIs(t, err, plmerr.ErrRevisionOverflow)
	assert.ErrorIs(t, err, plmerr.ErrValidation)

	revs, err := f.svc.Part.ListRevisions(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, revs)
}

func TestPartAttributes(t *testing.T) {
	f := newFixture(t)
	a := f.createPart(t, "700-001", "Spring")
	b := f.createPart(t, "700-002", "Washer")

	require.NoError(t, f.svc.Part.SetAttribute(f.ctx, a, f.admin.ID, &SetAttributeRequest{Key: "finish", Value: "zinc", Order: 2}))
	require.NoError(t, f.svc.Part.SetAttribute(f.ctx, a, f.admin.ID, &SetAttributeRequest{Key: "material", Value: "steel", Order: 1}))
	require.NoError(t, f.svc.Part.SetAttribute(f.ctx, a, f.admin.ID, &SetAttributeRequest{Key: "material", Value: "stainless", Order: 1}))
	require.NoError(t, f.svc.Part.SetAttribute(f.ctx, b, f.admin.ID, &SetAttributeRequest{Key: "vendor", Value: "acme"}))

	attrs, err := f.svc.Part.ListAttributes(f.ctx, a)
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "material", attrs[0].AttrKey)
	assert.Equal(t, "stainless", attrs[0].AttrValue)

	require.NoError(t, f.svc.Part.DeleteAttribute(f.ctx, a, f.admin.ID, "finish"))
	require.NoError(t, f.svc.Part.DeleteAttribute(f.ctx, a, f.admin.ID, "finish"))

	keys, err := f.svc.Part.ListAllAttributeKeys(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"material", "vendor"}, keys)

	err = f.svc.Part.SetAttribute(f.ctx, "missing", f.admin.ID, &SetAttributeRequest{Key: "x"})
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
	err = f.svc.Part.SetAttribute(f.ctx, a, f.admin.ID, &SetAttributeRequest{Key: " "})
	assert.ErrorIs(t, err, plmerr.ErrValidation)
}

func TestPartDelete_Cascades(t *testing.T) {
	f := newFixture(t)
	parent := f.createPart(t, "800-001", "Assembly")
	child := f.createPart(t, "800-002", "Bolt")

	require.NoError(t, f.svc.Part.SetAttribute(f.ctx, child, f.admin.ID, &SetAttributeRequest{Key: "size", Value: "M6"}))
	_, err := f.svc.BOM.AddEdge(f.ctx, f.admin.ID, &AddEdgeRequest{ParentPartID: parent, ChildPartID: child, Quantity: 4})
	require.NoError(t, err)

	require.NoError(t, f.svc.Part.Delete(f.ctx, child, f.admin.ID))

	_, err = f.svc.Part.Get(f.ctx, child)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)

	kids, err := f.svc.BOM.Children(f.ctx, parent)
	require.NoError(t, err)
	assert.Empty(t, kids)

	var attrCount int64
	require.NoError(t, f.env.DB.Model(&entity.PartAttribute{}).Where("part_id = ?", child).Count(&attrCount).Error)
	assert.Zero(t, attrCount)

	err = f.svc.Part.Delete(f.ctx, child, f.admin.ID)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
}

func TestNextRevision(t *testing.T) {
	cases := []struct {
		in, want string
		err      error
	}{
		{"", "B", nil},
		{"A", "B", nil},
		{"Y", "Z", nil},
		{"a", "b", nil},
		{"A1", "A2", nil},
		{"8", "9", nil},
		{"Z", "", plmerr.ErrRevisionOverflow},
		{"z", "", plmerr.ErrRevisionOverflow},
		{"9", "", plmerr.ErrRevisionOverflow},
		{"A-", "", plmerr.ErrValidation},
	}
	for _, tc := range cases {
		got, err := NextRevision(tc.in)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
