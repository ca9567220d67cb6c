// Package export writes analysis results to spreadsheet files.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/insight-cli/internal/model"
)

const (
	summarySheet  = "Summary"
	maxSheetName  = 31
	sheetNameBad  = `:\/?*[]`
	maxSheetCount = 50
)

// SaveXLSX writes the result to a workbook at path.
func SaveXLSX(path string, res *model.AnalysisResult) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

// WriteXLSX streams the workbook to w.
func WriteXLSX(w io.Writer, res *model.AnalysisResult) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// Workbook builds a summary sheet followed by one sheet per successful
// step that returned rows.
func Workbook(res *model.AnalysisResult) (*xlsx.File, error) {
	if res == nil {
		return nil, eris.New("export: nil result")
	}
	f := xlsx.NewFile()
	if err := writeSummary(f, res); err != nil {
		return nil, err
	}

	used := map[string]bool{summarySheet: true}
	for _, r := range res.Results {
		if !r.Success || r.Rows.Len() == 0 {
			continue
		}
		if len(f.Sheets) >= maxSheetCount {
			break
		}
		name := uniqueSheetName(fmt.Sprintf("Step %d %s", r.Step.Index+1, r.Step.SourceID), used)
		sheet, err := f.AddSheet(name)
		if err != nil {
			return nil, eris.Wrapf(err, "export: add sheet %q", name)
		}
		writeRows(sheet, r.Rows)
	}
	return f, nil
}

func writeSummary(f *xlsx.File, res *model.AnalysisResult) error {
	sheet, err := f.AddSheet(summarySheet)
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	pairs := [][2]any{
		{"Question", res.Query.Text},
		{"Depth", string(res.Query.Depth)},
		{"Intent", string(res.Intent)},
		{"Success", res.Success},
		{"Confidence", res.Confidence},
		{"Degraded", res.Degraded},
		{"Latency (ms)", res.LatencyMs},
	}
	if res.Window.Valid() {
		pairs = append(pairs,
			[2]any{"Period", res.Window.Label},
			[2]any{"Start", res.Window.Start},
			[2]any{"End", res.Window.End},
		)
	}
	for _, p := range pairs {
		row := sheet.AddRow()
		headerCell(row, p[0].(string))
		setCell(row.AddCell(), p[1])
	}

	sheet.AddRow()
	headerCell(sheet.AddRow(), "Findings")
	for _, in := range res.Insights {
		row := sheet.AddRow()
		row.AddCell().SetString(string(in.Kind))
		row.AddCell().SetString(in.Statement)
	}
	return nil
}

func writeRows(sheet *xlsx.Sheet, rs *model.RowSet) {
	header := sheet.AddRow()
	for _, c := range rs.Columns {
		headerCell(header, c)
	}
	for _, r := range rs.Rows {
		row := sheet.AddRow()
		for c := range rs.Columns {
			var v any
			if c < len(r) {
				v = r[c]
			}
			setCell(row.AddCell(), v)
		}
	}
}

func headerCell(row *xlsx.Row, text string) {
	style := xlsx.NewStyle()
	style.Font.Bold = true
	style.ApplyFont = true
	cell := row.AddCell()
	cell.SetString(text)
	cell.SetStyle(style)
}

func setCell(cell *xlsx.Cell, v any) {
	switch t := v.(type) {
	case nil:
		cell.SetString("")
	case string:
		cell.SetString(t)
	case bool:
		cell.SetBool(t)
	case time.Time:
		cell.SetDateTime(t)
	case int:
		cell.SetInt64(int64(t))
	case int32:
		cell.SetInt64(int64(t))
	case int64:
		cell.SetInt64(t)
	case float32:
		cell.SetFloat(float64(t))
	case float64:
		cell.SetFloat(t)
	default:
		cell.SetString(fmt.Sprint(t))
	}
}

// uniqueSheetName strips characters Excel rejects, truncates to the sheet
// name limit, and suffixes duplicates.
func uniqueSheetName(name string, used map[string]bool) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(sheetNameBad, r) {
			return '_'
		}
		return r
	}, name)
	base := truncate(name, maxSheetName)
	out := base
	for i := 2; used[out]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		out = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	used[out] = true
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
