// Package report turns match results into report rows and writes them out.
package report

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/ndc"
	"github.com/google/uuid"
)

// MaxDisplayedCandidates is how many fuzzy rows a cell lists
const MaxDisplayedCandidates = 3

// Aggregate builds one row per injectable, with a cell for every facility.
// Results are looked up by injectable index and facility, so their order does not matter.
func Aggregate(injectables []entities.InjectableEntry, results []entities.MatchResult, facilities []string) []entities.ReportRow {
	type key struct {
		index    int
		facility string
	}
	byKey := make(map[key]entities.MatchResult, len(results))
	for _, res := range results {
		byKey[key{res.InjectableIndex, res.Facility}] = res
	}

	rows := make([]entities.ReportRow, 0, len(injectables))
	for i, inj := range injectables {
		row := entities.ReportRow{
			DrugText:   inj.Raw.Description,
			NDC:        ndc.Format(inj.NDC),
			Comment:    inj.Raw.Comment,
			DrugName:   inj.Description.DrugName,
			Strength:   inj.Description.Strength,
			DosageForm: inj.Description.DosageForm,
			Facilities: make(map[string]entities.FacilityCell, len(facilities)),
		}
		for _, facility := range facilities {
			res, ok := byKey[key{i, facility}]
			if !ok {
				row.Facilities[facility] = entities.FacilityCell{Kind: entities.MatchNone}
				continue
			}
			row.Facilities[facility] = Cell(res)
		}
		rows = append(rows, row)
	}
	return rows
}

// Cell renders one match result
func Cell(res entities.MatchResult) entities.FacilityCell {
	cell := entities.FacilityCell{
		Kind:    res.Kind,
		Score:   res.Score,
		Display: Display(res),
	}
	if res.Kind != entities.MatchNone && res.Matched != nil {
		cell.MatchedNDC = ndc.Format(res.Matched.NDC)
		cell.MatchedText = res.Matched.Raw.Description
	}
	return cell
}

// Display is the human readable cell text:
// "NDC match: <codes>" for exact matches, "Name match: <label> (<score>%); ..."
// for fuzzy matches and empty otherwise.
func Display(res entities.MatchResult) string {
	switch res.Kind {
	case entities.MatchExact:
		var codes []string
		for _, c := range res.Candidates {
			if c.Entry.NDC.Present() {
				codes = append(codes, string(c.Entry.NDC))
			}
		}
		if len(codes) == 0 && res.Matched != nil {
			codes = append(codes, string(res.Matched.NDC))
		}
		slices.Sort(codes)
		codes = slices.Compact(codes)
		return "NDC match: " + strings.Join(codes, ", ")

	case entities.MatchFuzzy:
		candidates := res.Candidates
		if len(candidates) == 0 && res.Matched != nil {
			candidates = []entities.Candidate{{Entry: *res.Matched, Score: res.Score}}
		}
		if len(candidates) > MaxDisplayedCandidates {
			candidates = candidates[:MaxDisplayedCandidates]
		}
		snippets := make([]string, 0, len(candidates))
		for _, c := range candidates {
			label := string(c.Entry.NDC)
			if label == "" {
				label = c.Entry.Raw.Description
			}
			snippets = append(snippets, fmt.Sprintf("%s (%s%%)", label, formatScore(c.Score)))
		}
		return "Name match: " + strings.Join(snippets, "; ")
	}
	return ""
}

// formatScore rounds to one decimal and drops it for whole scores
func formatScore(score float64) string {
	return strconv.FormatFloat(math.Round(score*10)/10, 'f', -1, 64)
}

// Summarize counts cells per match kind, plus an "injectables" total
func Summarize(rows []entities.ReportRow) map[string]int {
	summary := map[string]int{
		"injectables":                len(rows),
		entities.MatchExact.String(): 0,
		entities.MatchFuzzy.String(): 0,
		entities.MatchNone.String():  0,
	}
	for _, row := range rows {
		for _, cell := range row.Facilities {
			summary[cell.Kind.String()]++
		}
	}
	return summary
}

// New assembles a report with a fresh run ID
func New(period entities.Period, threshold float64, facilities []string, rows []entities.ReportRow, quality *entities.DataQualityReport) *entities.Report {
	return &entities.Report{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Period:      period,
		Threshold:   threshold,
		Facilities:  facilities,
		Rows:        rows,
		Summary:     Summarize(rows),
		Quality:     quality,
	}
}
