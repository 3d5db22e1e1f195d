package entities

import "time"

// Period is an optional purchase date window. Zero bounds are open.
type Period struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
	// EndExclusive is set for whole-month windows
	EndExclusive bool `json:"endExclusive,omitempty"`
}

// IsZero reports whether no bound is set
func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

// Contains reports whether t falls in the window
func (p Period) Contains(t time.Time) bool {
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() {
		if p.EndExclusive && !t.Before(p.End) {
			return false
		}
		if t.After(p.End) {
			return false
		}
	}
	return true
}

// FacilityCell is the report cell of one facility for one injectable
type FacilityCell struct {
	Kind        MatchKind `json:"kind"`
	Score       float64   `json:"score"`
	MatchedNDC  string    `json:"matchedNdc,omitempty"`
	MatchedText string    `json:"matchedText,omitempty"`
	Display     string    `json:"display"`
}

// ReportRow is one output line, one per injectable entry
type ReportRow struct {
	DrugText   string                  `json:"drugText"`
	NDC        string                  `json:"ndc,omitempty"`
	Comment    string                  `json:"comment,omitempty"`
	DrugName   string                  `json:"drugName"`
	Strength   string                  `json:"strength,omitempty"`
	DosageForm string                  `json:"dosageForm,omitempty"`
	Facilities map[string]FacilityCell `json:"facilities"`
}

// DataQualityReport summarises non-fatal per-record problems of a run
type DataQualityReport struct {
	MalformedNDCs           int      `json:"malformedNdcs"`
	MalformedNDCRows        []string `json:"malformedNdcRows,omitempty"`
	UnparseableDescriptions int      `json:"unparseableDescriptions"`
	EmptyDescriptions       int      `json:"emptyDescriptions"`
	DuplicateMasterNDCs     []string `json:"duplicateMasterNdcs,omitempty"`
	EnrichmentFailures      int      `json:"enrichmentFailures"`
}

// Report is the aggregated result of one run
type Report struct {
	RunID       string             `json:"runId"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Period      Period             `json:"period"`
	Threshold   float64            `json:"threshold"`
	Facilities  []string           `json:"facilities"`
	Rows        []ReportRow        `json:"rows"`
	Summary     map[string]int     `json:"summary"`
	Quality     *DataQualityReport `json:"quality,omitempty"`
}
