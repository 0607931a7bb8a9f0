package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/service"
	"github.com/xuri/excelize/v2"
)

const bomSheet = "BOM"

var bomExportHeaders = []string{
	"Level", "Part Number", "Part Name", "Revision", "Quantity", "Type", "Release Status", "Notes",
}

var bomColWidths = []float64{8, 18, 32, 10, 10, 14, 16, 30}

// BOMWorkbook 导出多级BOM为xlsx。
// Row 1 is a merged title, row 2 the header, data starts at row 3. Part
// numbers are indented two spaces per level and released parts are green.
func BOMWorkbook(root *entity.Part, rows []service.BOMRow) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", bomSheet); err != nil {
		f.Close()
		return nil, err
	}

	if err := writeBOM(f, root, rows); err != nil {
		f.Close()
		return nil, fmt.Errorf("write bom workbook: %w", err)
	}
	return f, nil
}

// BOMFilename is the suggested download name for a root part's BOM.
func BOMFilename(root *entity.Part) string {
	return fmt.Sprintf("BOM_%s_Rev%s.xlsx", root.PartNumber, root.PartRevision)
}

// WriteBOM writes the workbook for root to w.
func WriteBOM(w io.Writer, root *entity.Part, rows []service.BOMRow) error {
	f, err := BOMWorkbook(root, rows)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func writeBOM(f *excelize.File, root *entity.Part, rows []service.BOMRow) error {
	// 标题行
	lastCol, _ := excelize.ColumnNumberToName(len(bomExportHeaders))
	if err := f.MergeCell(bomSheet, "A1", lastCol+"1"); err != nil {
		return err
	}
	title := fmt.Sprintf("Bill of Materials - %s Rev %s - %s", root.PartNumber, root.PartRevision, root.PartName)
	if err := f.SetCellValue(bomSheet, "A1", title); err != nil {
		return err
	}
	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 13},
		Alignment: &excelize.Alignment{Horizontal: "left"},
	})
	if err != nil {
		return err
	}
	f.SetCellStyle(bomSheet, "A1", "A1", titleStyle)
	f.SetRowHeight(bomSheet, 1, 22)

	// 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1A73E8"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border: []excelize.Border{
			{Type: "bottom", Color: "FFFFFF", Style: 1},
		},
	})
	if err != nil {
		return err
	}
	for i, h := range bomExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "2"
		if err := f.SetCellValue(bomSheet, cell, h); err != nil {
			return err
		}
		f.SetCellStyle(bomSheet, cell, cell, headerStyle)
		f.SetColWidth(bomSheet, col, col, bomColWidths[i])
	}

	styles, err := newRowStyles(f)
	if err != nil {
		return err
	}

	for i, row := range rows {
		r := i + 3
		values := []interface{}{
			row.Depth,
			strings.Repeat("  ", row.Depth) + row.PartNumber,
			row.PartName,
			row.PartRevision,
			row.Quantity,
			row.RelationshipType,
			row.ReleaseStatus,
			row.Notes,
		}
		first := fmt.Sprintf("A%d", r)
		last := fmt.Sprintf("%s%d", lastCol, r)
		if err := f.SetSheetRow(bomSheet, first, &values); err != nil {
			return err
		}
		if style := styles.pick(r, row.ReleaseStatus); style != 0 {
			f.SetCellStyle(bomSheet, first, last, style)
		}
	}

	return f.SetPanes(bomSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      2,
		TopLeftCell: "A3",
		ActivePane:  "bottomLeft",
	})
}

type rowStyles struct {
	alt, released, altReleased int
}

func newRowStyles(f *excelize.File) (*rowStyles, error) {
	altFill := excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"EAF2FB"}}
	releasedFont := &excelize.Font{Color: "188038"}

	alt, err := f.NewStyle(&excelize.Style{Fill: altFill})
	if err != nil {
		return nil, err
	}
	released, err := f.NewStyle(&excelize.Style{Font: releasedFont})
	if err != nil {
		return nil, err
	}
	altReleased, err := f.NewStyle(&excelize.Style{Fill: altFill, Font: releasedFont})
	if err != nil {
		return nil, err
	}
	return &rowStyles{alt: alt, released: released, altReleased: altReleased}, nil
}

// pick returns the style for a data row. Even sheet rows are shaded.
func (s *rowStyles) pick(sheetRow int, status string) int {
	even := sheetRow%2 == 0
	isReleased := status == entity.PartStatusReleased
	switch {
	case even && isReleased:
		return s.altReleased
	case even:
		return s.alt
	case isReleased:
		return s.released
	}
	return 0
}

// ============================================================
// Import
// ============================================================

// EdgeRow is one parent/child line read from a spreadsheet.
type EdgeRow struct {
	Row              int
	ParentPartNumber string
	ChildPartNumber  string
	Quantity         float64
	RelationshipType string
	Notes            string
}

// ImportHeaders are the columns ReadEdges expects, in order.
var ImportHeaders = []string{"Parent Part Number", "Child Part Number", "Quantity", "Type", "Notes"}

// ReadEdges 从Excel读取父子关系行。
// The first sheet is read and its first row skipped as the header. Rows
// without both part numbers are reported in skipped by sheet row number. A
// blank or unparsable quantity becomes 1.
func ReadEdges(r io.Reader) (edges []EdgeRow, skipped []int, err error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, nil
	}

	for i, row := range rows[1:] {
		sheetRow := i + 2
		cell := func(n int) string {
			if n < len(row) {
				return strings.TrimSpace(row[n])
			}
			return ""
		}
		if cell(0) == "" || cell(1) == "" {
			skipped = append(skipped, sheetRow)
			continue
		}
		qty := 1.0
		if q, err := strconv.ParseFloat(cell(2), 64); err == nil && q > 0 {
			qty = q
		}
		edges = append(edges, EdgeRow{
			Row:              sheetRow,
			ParentPartNumber: cell(0),
			ChildPartNumber:  cell(1),
			Quantity:         qty,
			RelationshipType: cell(3),
			Notes:            cell(4),
		})
	}
	return edges, skipped, nil
}

// ImportTemplate 生成BOM导入模板
func ImportTemplate() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", bomSheet); err != nil {
		f.Close()
		return nil, err
	}
	headers := make([]interface{}, len(ImportHeaders))
	for i, h := range ImportHeaders {
		headers[i] = h
	}
	if err := f.SetSheetRow(bomSheet, "A1", &headers); err != nil {
		f.Close()
		return nil, err
	}
	example := []interface{}{"ASM-100", "PRT-200", 2, entity.DefaultRelationshipType, ""}
	if err := f.SetSheetRow(bomSheet, "A2", &example); err != nil {
		f.Close()
		return nil, err
	}
	for i, w := range []float64{20, 20, 10, 14, 30} {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(bomSheet, col, col, w)
	}
	return f, nil
}
