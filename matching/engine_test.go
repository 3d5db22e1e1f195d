package matching

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/giygas/ndc-report/description"
	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/ndc"
	"github.com/giygas/ndc-report/similarity"
)

// fixedSimilarity returns a preset score per PO text, 0 otherwise
type fixedSimilarity map[string]float64

func (f fixedSimilarity) Score(_, b string) float64 { return f[b] }
func (f fixedSimilarity) Name() string { return "fixed" }

var parser = description.NewParser(nil)

func injectable(text, code string) entities.InjectableEntry {
	return entities.InjectableEntry{
		Raw:         entities.RawRecord{Description: text, NDC: code},
		Description: parser.Parse(text),
		NDC:         ndc.Normalize(code),
	}
}

func poRow(facility string, row int, text, code string) entities.PurchaseOrderEntry {
	return entities.PurchaseOrderEntry{
		Raw:         entities.RawRecord{Row: row, Description: text, NDC: code},
		Description: parser.Parse(text),
		NDC:         ndc.Normalize(code),
		Facility:    facility,
	}
}

func TestNewEngineRejectsInvalidThreshold(t *testing.T) {
	for _, threshold := range []float64{-1, 100.5, 1000, math.NaN()} {
		_, err := NewEngine(threshold, similarity.TokenSet{})
		if !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("threshold %v: expected ErrInvalidThreshold, got %v", threshold, err)
		}
	}

	for _, threshold := range []float64{0, 82, 100} {
		if _, err := NewEngine(threshold, similarity.TokenSet{}); err != nil {
			t.Errorf("threshold %v: unexpected error %v", threshold, err)
		}
	}

	if _, err := NewEngine(50, nil); err == nil {
		t.Error("Expected error for nil similarity")
	}
}

func TestExactMatch(t *testing.T) {
	engine, _ := NewEngine(82, similarity.TokenSet{})
	inj := injectable("Vancomycin 500 mg Inj", "0409-1234-01")
	rows := []entities.PurchaseOrderEntry{
		poRow("A", 2, "Vancomycin 500 mg Inj", "12345-6789-01"),
		poRow("A", 3, "Something else entirely", "00409123401"),
		poRow("A", 4, "Another label", "0409-1234-01"),
	}

	res := engine.MatchOne(inj, rows)

	if res.Kind != entities.MatchExact {
		t.Fatalf("Expected exact match, got %s", res.Kind)
	}
	if res.Score != 100 {
		t.Errorf("Expected score 100, got %v", res.Score)
	}
	if res.Matched == nil || res.Matched.Raw.Row != 3 {
		t.Errorf("Expected first exact row (3) to win, got %+v", res.Matched)
	}
	if len(res.Candidates) != 2 {
		t.Errorf("Expected 2 exact candidates, got %d", len(res.Candidates))
	}
}

func TestExactTakesPrecedenceOverBetterFuzzy(t *testing.T) {
	sim := fixedSimilarity{"heparin 5000units/ml vial": 100}
	engine, _ := NewEngine(50, sim)
	inj := injectable("Heparin 5000 units/mL vial", "00409-1234-01")
	rows := []entities.PurchaseOrderEntry{
		poRow("A", 2, "Heparin 5000 units/mL vial", ""),
		poRow("A", 3, "HEP LOCK", "00409-1234-01"),
	}

	res := engine.MatchOne(inj, rows)
	if res.Kind != entities.MatchExact || res.Matched.Raw.Row != 3 {
		t.Errorf("Expected exact match on row 3, got %s row %d", res.Kind, res.Matched.Raw.Row)
	}
}

func TestFuzzyMatchAboveThreshold(t *testing.T) {
	engine, _ := NewEngine(82, similarity.TokenSet{})
	inj := injectable("Vancomycin 500 mg Inj", "")
	rows := []entities.PurchaseOrderEntry{
		poRow("A", 2, "Ceftriaxone 1 g vial", ""),
		poRow("A", 3, "VANCO 500MG INJ", ""),
	}

	res := engine.MatchOne(inj, rows)

	if res.Kind != entities.MatchFuzzy {
		t.Fatalf("Expected fuzzy match, got %s (score %.1f)", res.Kind, res.Score)
	}
	if res.Score < 90 {
		t.Errorf("Expected score >= 90, got %.1f", res.Score)
	}
	if res.Matched.Raw.Row != 3 {
		t.Errorf("Expected row 3, got %d", res.Matched.Raw.Row)
	}
}

func TestBelowThresholdIsNone(t *testing.T) {
	sim := fixedSimilarity{"ondansetron 4mg injection": 70}
	engine, _ := NewEngine(82, sim)
	inj := injectable("Zofran 4mg inj", "")
	rows := []entities.PurchaseOrderEntry{poRow("A", 2, "Ondansetron 4mg inj", "")}

	res := engine.MatchOne(inj, rows)

	if res.Kind != entities.MatchNone {
		t.Errorf("Expected none, got %s", res.Kind)
	}
	if res.Score != 70 {
		t.Errorf("Expected best score 70 to be kept, got %v", res.Score)
	}
	if res.Matched != nil {
		t.Error("Expected no matched row")
	}
	if len(res.Candidates) != 0 {
		t.Errorf("Expected no candidates, got %d", len(res.Candidates))
	}
}

func TestNoRowsGivesZeroScore(t *testing.T) {
	engine, _ := NewEngine(82, similarity.TokenSet{})
	res := engine.MatchOne(injectable("Vancomycin 500 mg Inj", ""), nil)
	if res.Kind != entities.MatchNone || res.Score != 0 {
		t.Errorf("Expected none/0, got %s/%v", res.Kind, res.Score)
	}
}

func TestEmptyPOTextIsSkipped(t *testing.T) {
	sim := fixedSimilarity{"": 100, "cefazolin 1g vial": 40}
	engine, _ := NewEngine(30, sim)
	inj := injectable("Cefazolin 1 g vial", "")
	rows := []entities.PurchaseOrderEntry{
		poRow("A", 2, "", ""),
		poRow("A", 3, "Cefazolin 1 g vial", ""),
	}

	res := engine.MatchOne(inj, rows)
	if res.Matched == nil || res.Matched.Raw.Row != 3 {
		t.Errorf("Expected empty row to be skipped and row 3 matched, got %+v", res.Matched)
	}
}

func TestTiesGoToFirstRow(t *testing.T) {
	sim := fixedSimilarity{"cefazolin 1g vial": 90}
	engine, _ := NewEngine(82, sim)
	inj := injectable("Cefazolin 1 g vial", "")
	rows := []entities.PurchaseOrderEntry{
		poRow("A", 7, "Cefazolin 1 g vial", ""),
		poRow("A", 8, "Cefazolin 1 g vial", ""),
		poRow("A", 9, "Cefazolin 1 g vial", ""),
		poRow("A", 10, "Cefazolin 1 g vial", ""),
	}

	res := engine.MatchOne(inj, rows)
	if res.Matched.Raw.Row != 7 {
		t.Errorf("Expected first row on tie, got %d", res.Matched.Raw.Row)
	}
	if len(res.Candidates) != DefaultMaxCandidates {
		t.Fatalf("Expected %d candidates, got %d", DefaultMaxCandidates, len(res.Candidates))
	}
	for i, c := range res.Candidates {
		if c.Entry.Raw.Row != 7+i {
			t.Errorf("Candidate %d: expected row %d, got %d", i, 7+i, c.Entry.Raw.Row)
		}
	}
}

func TestCandidatesOrderedByScore(t *testing.T) {
	sim := fixedSimilarity{"a": 85, "b": 95, "c": 90, "d": 50}
	engine, _ := NewEngine(80, sim, WithMaxCandidates(2))
	inj := entities.InjectableEntry{Description: entities.NormalizedDescription{NormalizedText: "x"}}
	rows := []entities.PurchaseOrderEntry{
		{Raw: entities.RawRecord{Row: 1}, Description: entities.NormalizedDescription{NormalizedText: "a"}},
		{Raw: entities.RawRecord{Row: 2}, Description: entities.NormalizedDescription{NormalizedText: "b"}},
		{Raw: entities.RawRecord{Row: 3}, Description: entities.NormalizedDescription{NormalizedText: "c"}},
		{Raw: entities.RawRecord{Row: 4}, Description: entities.NormalizedDescription{NormalizedText: "d"}},
	}

	res := engine.MatchOne(inj, rows)

	if res.Matched.Raw.Row != 2 {
		t.Errorf("Expected best row 2, got %d", res.Matched.Raw.Row)
	}
	if len(res.Candidates) != 2 || res.Candidates[0].Score != 95 || res.Candidates[1].Score != 90 {
		t.Errorf("Unexpected candidates %+v", res.Candidates)
	}
}

func TestThresholdMonotonicity(t *testing.T) {
	inj := injectable("Vancomycin 1 g vial", "")
	rows := []entities.PurchaseOrderEntry{poRow("A", 2, "Vancomycin HCl 1 g injection", "")}

	prevFuzzy := true
	for threshold := 0.0; threshold <= 100; threshold += 5 {
		engine, _ := NewEngine(threshold, similarity.TokenSet{})
		fuzzy := engine.MatchOne(inj, rows).Kind == entities.MatchFuzzy
		if fuzzy && !prevFuzzy {
			t.Fatalf("Raising the threshold to %v turned a none into a fuzzy match", threshold)
		}
		prevFuzzy = fuzzy
	}
}

func TestMatchOrderingAcrossFacilities(t *testing.T) {
	engine, _ := NewEngine(82, similarity.TokenSet{})
	injectables := []entities.InjectableEntry{
		injectable("Vancomycin 500 mg Inj", ""),
		injectable("Ceftriaxone 1 g vial", "0409-1234-01"),
	}
	pos := map[string][]entities.PurchaseOrderEntry{
		"ZETA":  {poRow("ZETA", 2, "VANCO 500MG INJ", "")},
		"ALPHA": {poRow("ALPHA", 2, "Ceftriaxone 1g", "00409123401")},
		"MID":   {},
	}

	results, err := engine.Match(injectables, pos)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("Expected 6 results, got %d", len(results))
	}

	expected := []struct {
		index    int
		facility string
		kind     entities.MatchKind
	}{
		{0, "ALPHA", entities.MatchNone},
		{0, "MID", entities.MatchNone},
		{0, "ZETA", entities.MatchFuzzy},
		{1, "ALPHA", entities.MatchExact},
		{1, "MID", entities.MatchNone},
		{1, "ZETA", entities.MatchNone},
	}
	for i, want := range expected {
		got := results[i]
		if got.InjectableIndex != want.index || got.Facility != want.facility || got.Kind != want.kind {
			t.Errorf("result %d: expected (%d, %s, %s), got (%d, %s, %s)",
				i, want.index, want.facility, want.kind, got.InjectableIndex, got.Facility, got.Kind)
		}
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	engine, _ := NewEngine(60, similarity.TokenSet{})
	var injectables []entities.InjectableEntry
	pos := make(map[string][]entities.PurchaseOrderEntry)
	for i := 0; i < 20; i++ {
		injectables = append(injectables, injectable(fmt.Sprintf("Drug%d %d mg inj", i%5, i*10), ""))
	}
	for f := 0; f < 4; f++ {
		code := fmt.Sprintf("F%d", f)
		for r := 0; r < 15; r++ {
			pos[code] = append(pos[code], poRow(code, r+2, fmt.Sprintf("drug%d %d mg injection", r%5, r*10), ""))
		}
	}

	first, _ := engine.Match(injectables, pos)
	for n := 0; n < 5; n++ {
		again, _ := engine.Match(injectables, pos)
		for i := range first {
			if first[i].Kind != again[i].Kind || first[i].Score != again[i].Score || first[i].Facility != again[i].Facility {
				t.Fatalf("Result %d differs between runs", i)
			}
		}
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	engine, _ := NewEngine(82, similarity.TokenSet{})

	results, err := engine.Match(nil, map[string][]entities.PurchaseOrderEntry{"A": nil})
	if err != nil || len(results) != 0 {
		t.Errorf("Expected no results, got %d (err %v)", len(results), err)
	}
}
