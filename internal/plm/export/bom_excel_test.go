package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/service"
	"github.com/kkers42/PLM-Lite/internal/plm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func TestBOMWorkbook(t *testing.T) {
	root := &entity.Part{PartNumber: "ASM-1", PartName: "Frame", PartRevision: "B"}
	rows := []service.BOMRow{
		{Depth: 1, PartNumber: "SUB-1", PartName: "Side", PartRevision: "A", Quantity: 2, RelationshipType: "assembly", ReleaseStatus: entity.PartStatusReleased},
		{Depth: 2, PartNumber: "BOLT", PartName: "Bolt", PartRevision: "A", Quantity: 8, RelationshipType: "assembly", ReleaseStatus: entity.PartStatusPrototype, Notes: "M6"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBOM(&buf, root, rows))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "BOM", f.GetSheetName(0))
	title, err := f.GetCellValue("BOM", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Bill of Materials - ASM-1 Rev B - Frame", title)

	got, err := f.GetRows("BOM")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, bomExportHeaders, got[1])
	assert.Equal(t, "  SUB-1", got[2][1])
	assert.Equal(t, "    BOLT", got[3][1])
	assert.Equal(t, "8", got[3][4])
	assert.Equal(t, "M6", got[3][7])

	panes, err := f.GetPanes("BOM")
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, "A3", panes.TopLeftCell)

	assert.Equal(t, "BOM_ASM-1_RevB.xlsx", BOMFilename(root))
}

func TestReadEdges(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	lines := [][]interface{}{
		{"Parent Part Number", "Child Part Number", "Quantity", "Type", "Notes"},
		{"asm-1", "bolt", 4, "", "zinc"},
		{"ASM-1", "", 1},
		{"ASM-1", "NUT", "lots"},
	}
	for i, line := range lines {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow(sheet, cell, &line))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	edges, skipped, err := ReadEdges(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, skipped)
	require.Len(t, edges, 2)
	assert.Equal(t, EdgeRow{Row: 2, ParentPartNumber: "asm-1", ChildPartNumber: "bolt", Quantity: 4, Notes: "zinc"}, edges[0])
	assert.Equal(t, 1.0, edges[1].Quantity)
}

func TestImportTemplateRoundTrip(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	svc, err := service.NewServices(env.DB, env.Config, service.Deps{Logger: zap.NewNop()})
	require.NoError(t, err)
	ctx := context.Background()
	admin := testutil.SeedTestUser(t, env.DB, "admin", testutil.SeedTestRole(t, env.DB, "Admin", entity.AbilityAdmin))
	for _, n := range []string{"ASM-100", "PRT-200"} {
		_, err := svc.Part.Create(ctx, admin.ID, &service.CreatePartRequest{PartNumber: n, PartName: n})
		require.NoError(t, err)
	}

	tpl, err := ImportTemplate()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, tpl.Write(&buf))
	tpl.Close()

	edges, skipped, err := ReadEdges(&buf)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, edges, 1)

	lines := []service.ImportEdge{{
		Row:              edges[0].Row,
		ParentPartNumber: edges[0].ParentPartNumber,
		ChildPartNumber:  edges[0].ChildPartNumber,
		Quantity:         edges[0].Quantity,
		RelationshipType: edges[0].RelationshipType,
	}}
	res, err := svc.BOM.ImportEdges(ctx, admin.ID, append(lines, lines[0]))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 2, res.Failed[0].Row)
}
