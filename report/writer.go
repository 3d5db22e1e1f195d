package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/logging"
	"github.com/xuri/excelize/v2"
)

// Output formats
const (
	FormatExcel = "excel"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

// ErrUnknownFormat is returned for formats other than excel, csv and json
var ErrUnknownFormat = errors.New("unknown output format")

const (
	reportSheet  = "Report"
	qualitySheet = "Data Quality"
)

// Header returns the column titles, facilities last in report order
func Header(r *entities.Report) []string {
	header := []string{"Drug", "NDC", "Drug Name", "Strength", "Dosage Form", "Comments"}
	return append(header, r.Facilities...)
}

func record(row entities.ReportRow, facilities []string) []string {
	rec := []string{row.DrugText, row.NDC, row.DrugName, row.Strength, row.DosageForm, row.Comment}
	for _, facility := range facilities {
		rec = append(rec, row.Facilities[facility].Display)
	}
	return rec
}

// WriteCSV writes the header and one line per report row
func WriteCSV(w io.Writer, r *entities.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(r)); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range r.Rows {
		if err := cw.Write(record(row, r.Facilities)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the full report, match details included
func WriteJSON(w io.Writer, r *entities.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// BuildWorkbook lays the report out on a "Report" sheet and the run summary on
// a "Data Quality" sheet
func BuildWorkbook(r *entities.Report) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return nil, err
	}

	header := Header(r)
	if err := f.SetSheetRow(reportSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, row := range r.Rows {
		values := record(row, r.Facilities)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
			return nil, err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(reportSheet, "A1", lastCol+"1", bold); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(reportSheet, "A", "A", 45); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(reportSheet, "B", "F", 18); err != nil {
		return nil, err
	}
	if len(r.Facilities) > 0 {
		if err := f.SetColWidth(reportSheet, "G", lastCol, 40); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(reportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(qualitySheet); err != nil {
		return nil, err
	}
	for i, line := range summaryLines(r) {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(qualitySheet, cell, &line); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func summaryLines(r *entities.Report) [][]any {
	lines := [][]any{
		{"Run ID", r.RunID},
		{"Generated at", r.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		{"Fuzzy threshold", r.Threshold},
		{"Facilities", strings.Join(r.Facilities, ", ")},
	}
	if !r.Period.Start.IsZero() {
		lines = append(lines, []any{"Period start", r.Period.Start.Format("2006-01-02")})
	}
	if !r.Period.End.IsZero() {
		lines = append(lines, []any{"Period end", r.Period.End.Format("2006-01-02"), endNote(r.Period)})
	}
	lines = append(lines,
		[]any{"Injectables", r.Summary["injectables"]},
		[]any{"Exact matches", r.Summary[entities.MatchExact.String()]},
		[]any{"Name matches", r.Summary[entities.MatchFuzzy.String()]},
		[]any{"Not found", r.Summary[entities.MatchNone.String()]},
	)
	if q := r.Quality; q != nil {
		lines = append(lines,
			[]any{"Malformed NDCs", q.MalformedNDCs, strings.Join(q.MalformedNDCRows, "; ")},
			[]any{"Unparseable descriptions", q.UnparseableDescriptions},
			[]any{"Empty descriptions", q.EmptyDescriptions},
			[]any{"Duplicate master NDCs", len(q.DuplicateMasterNDCs), strings.Join(q.DuplicateMasterNDCs, ", ")},
			[]any{"Enrichment failures", q.EnrichmentFailures},
		)
	}
	return lines
}

func endNote(p entities.Period) string {
	if p.EndExclusive {
		return "exclusive"
	}
	return "inclusive"
}

// WriteXLSX saves the workbook at path
func WriteXLSX(path string, r *entities.Report) error {
	f, err := BuildWorkbook(r)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("Failed to close workbook", "error", err)
		}
	}()

	if err := f.SaveAs(filepath.Clean(path)); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

// FormatFromPath guesses the output format from a file extension
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	}
	return FormatExcel
}

// WriteFile writes the report at path in the given format, creating parent directories
func WriteFile(path, format string, r *entities.Report) error {
	if format == "" {
		format = FormatFromPath(path)
	}
	if format != FormatExcel && format != FormatCSV && format != FormatJSON {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if format == FormatExcel {
		return WriteXLSX(path, r)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			logging.Warn("Failed to close report file", "path", path, "error", err)
		}
	}()

	if format == FormatCSV {
		return WriteCSV(out, r)
	}
	return WriteJSON(out, r)
}
