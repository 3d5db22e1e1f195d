package records

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/metrics"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// ErrUnknownColumn is returned when a required header is missing
var ErrUnknownColumn = errors.New("column not found in header")

const DefaultDescriptionColumn = "Drug Name / Strength / Dosage Form"

// Columns names the header cells to read. Empty names are not read.
type Columns struct {
	Description string
	NDC         string
	Comment     string
	Date        string
}

// InjectableColumns are the defaults of the master sheet
func InjectableColumns() Columns {
	return Columns{
		Description: DefaultDescriptionColumn,
		NDC:         "NDC",
		Comment:     "Comments",
	}
}

// PurchaseOrderColumns are the defaults of facility PO exports
func PurchaseOrderColumns() Columns {
	return Columns{
		Description: DefaultDescriptionColumn,
		NDC:         "NDC",
		Date:        "PO Processing Date",
	}
}

// Stats counts what happened to the rows of one source
type Stats struct {
	TotalRows      int
	Parsed         int
	SkippedEmpty   int
	SkippedColumns int
	BadDates       int
}

// Load reads a CSV, TSV or XLSX source. Rows are numbered as in the
// spreadsheet, the header being row 1.
func Load(src Source, cols Columns) ([]entities.RawRecord, Stats, error) {
	var (
		rows  [][]string
		err   error
		excel bool
	)

	switch strings.ToLower(filepath.Ext(src.Path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		rows, err = readWorkbook(src.Path, src.Sheet)
		excel = true
	case ".tsv", ".tab", ".txt":
		rows, err = readDelimitedFile(src.Path, '\t')
	default:
		rows, err = readDelimitedFile(src.Path, ',')
	}
	if err != nil {
		return nil, Stats{}, err
	}

	records, stats, err := toRecords(rows, cols, excel)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", src, err)
	}

	metrics.RecordsTotal.WithLabelValues(src.label(), "parsed").Add(float64(stats.Parsed))
	metrics.RecordsTotal.WithLabelValues(src.label(), "skipped").Add(float64(stats.SkippedEmpty + stats.SkippedColumns))

	if stats.SkippedEmpty > 0 || stats.SkippedColumns > 0 || stats.BadDates > 0 {
		logging.Info("Input skip statistics",
			"source", src.String(),
			"empty_rows", stats.SkippedEmpty,
			"missing_columns", stats.SkippedColumns,
			"bad_dates", stats.BadDates,
			"total_rows", stats.TotalRows,
			"records_parsed", stats.Parsed)
	}
	logging.Debug("Input loaded", "source", src.String(), "records", len(records))

	return records, stats, nil
}

func readDelimitedFile(path string, comma rune) ([][]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	rows, err := ReadDelimited(bytes.NewReader(data), comma)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return rows, nil
}

// ReadDelimited parses CSV or TSV content. Input that is not valid UTF-8 is
// decoded as Windows-1252, the usual encoding of spreadsheet exports.
func ReadDelimited(r io.Reader, comma rune) ([][]string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))

	var reader io.Reader
	if utf8.Valid(body) {
		reader = bytes.NewReader(body)
	} else {
		reader = charmap.Windows1252.NewDecoder().Reader(bytes.NewReader(body))
	}

	cr := csv.NewReader(reader)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.ReadAll()
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("Failed to close workbook", "path", path, "error", err)
		}
	}()

	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found in %s (have %v)", sheet, path, f.GetSheetList())
	}

	// raw values keep date cells as serial numbers
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q of %s: %w", sheet, path, err)
	}
	return rows, nil
}

type columnIndex struct {
	description, ndc, comment, date int
}

func findColumn(header []string, name string) int {
	if name == "" {
		return -1
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for i, cell := range header {
		if strings.ToLower(strings.TrimSpace(cell)) == want {
			return i
		}
	}
	return -1
}

func resolveColumns(header []string, cols Columns) (columnIndex, error) {
	idx := columnIndex{
		description: findColumn(header, cols.Description),
		ndc:         findColumn(header, cols.NDC),
		comment:     findColumn(header, cols.Comment),
		date:        findColumn(header, cols.Date),
	}
	if idx.description < 0 {
		return idx, fmt.Errorf("%w: %q", ErrUnknownColumn, cols.Description)
	}

	optional := []struct {
		name string
		at   int
	}{{cols.NDC, idx.ndc}, {cols.Comment, idx.comment}, {cols.Date, idx.date}}
	for _, c := range optional {
		if c.name != "" && c.at < 0 {
			logging.Warn("Optional column not found, values treated as absent", "column", c.name)
		}
	}
	return idx, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func toRecords(rows [][]string, cols Columns, excel bool) ([]entities.RawRecord, Stats, error) {
	var stats Stats
	if len(rows) == 0 {
		return nil, stats, fmt.Errorf("%w: empty input, no header row", ErrUnknownColumn)
	}

	idx, err := resolveColumns(rows[0], cols)
	if err != nil {
		return nil, stats, err
	}

	records := make([]entities.RawRecord, 0, len(rows)-1)
	for n, row := range rows[1:] {
		stats.TotalRows++

		if isBlank(row) {
			stats.SkippedEmpty++
			continue
		}
		// short row without the description and without an NDC
		if idx.description >= len(row) && cell(row, idx.ndc) == "" {
			stats.SkippedColumns++
			continue
		}

		rec := entities.RawRecord{
			Row:         n + 2,
			Description: cell(row, idx.description),
			NDC:         cell(row, idx.ndc),
			Comment:     cell(row, idx.comment),
		}
		if raw := cell(row, idx.date); raw != "" {
			if t, ok := ParseDate(raw, excel); ok {
				rec.Date = &t
			} else {
				stats.BadDates++
			}
		}

		records = append(records, rec)
		stats.Parsed++
	}

	return records, stats, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	time.DateOnly,
	time.DateTime,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/06",
	"1/2/06",
	"2006/01/02",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// ParseDate accepts ISO and US style dates, and Excel serial numbers when
// excelSerial is set. Times are returned in UTC.
func ParseDate(raw string, excelSerial bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if excelSerial && isSerial(raw) {
		if serial, err := strconv.ParseFloat(raw, 64); err == nil {
			if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return t.UTC(), true
			}
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// isSerial reports whether raw is a plain positive number
func isSerial(raw string) bool {
	dots := 0
	for _, r := range raw {
		switch {
		case r == '.':
			dots++
		case r < '0' || r > '9':
			return false
		}
	}
	return dots <= 1 && raw != "."
}
