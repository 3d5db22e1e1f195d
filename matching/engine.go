// Package matching decides, per injectable and facility, whether the facility bought the drug.
package matching

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/metrics"
)

// ErrInvalidThreshold is returned for thresholds outside [0,100]
var ErrInvalidThreshold = errors.New("fuzzy threshold must be between 0 and 100")

// DefaultMaxCandidates is how many fuzzy rows are kept for display
const DefaultMaxCandidates = 3

// Engine matches injectables against purchase order histories.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	threshold     float64
	similarity    interfaces.Similarity
	maxCandidates int
}

// Option customises an Engine
type Option func(*Engine)

// WithMaxCandidates sets how many fuzzy candidates are reported per result
func WithMaxCandidates(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCandidates = n
		}
	}
}

// NewEngine validates the threshold and builds an engine
func NewEngine(threshold float64, sim interfaces.Similarity, opts ...Option) (*Engine, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	if sim == nil {
		return nil, errors.New("similarity measure is required")
	}

	e := &Engine{
		threshold:     threshold,
		similarity:    sim,
		maxCandidates: DefaultMaxCandidates,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Threshold returns the configured fuzzy threshold
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Facilities returns the facility codes of poByFacility in ascending order
func Facilities(poByFacility map[string][]entities.PurchaseOrderEntry) []string {
	codes := make([]string, 0, len(poByFacility))
	for code := range poByFacility {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Match produces one result per (injectable, facility) pair, ordered by injectable index
// then facility code. Facilities are processed concurrently; inputs are only read.
func (e *Engine) Match(injectables []entities.InjectableEntry, poByFacility map[string][]entities.PurchaseOrderEntry) ([]entities.MatchResult, error) {
	facilities := Facilities(poByFacility)
	if len(injectables) == 0 || len(facilities) == 0 {
		return []entities.MatchResult{}, nil
	}

	// one column per facility, each goroutine owns its column
	columns := make([][]entities.MatchResult, len(facilities))

	var wg sync.WaitGroup
	for f, facility := range facilities {
		wg.Add(1)
		go func(f int, facility string) {
			defer wg.Done()
			columns[f] = e.matchFacility(injectables, facility, poByFacility[facility])
		}(f, facility)
	}
	wg.Wait()

	results := make([]entities.MatchResult, 0, len(injectables)*len(facilities))
	for i := range injectables {
		for f := range facilities {
			results = append(results, columns[f][i])
		}
	}

	logging.Info("Matching completed",
		"injectables", len(injectables),
		"facilities", len(facilities),
		"threshold", e.threshold,
		"similarity", e.similarity.Name())

	return results, nil
}

func (e *Engine) matchFacility(injectables []entities.InjectableEntry, facility string, rows []entities.PurchaseOrderEntry) []entities.MatchResult {
	column := make([]entities.MatchResult, len(injectables))
	counts := make(map[entities.MatchKind]int, 3)

	for i, inj := range injectables {
		res := e.MatchOne(inj, rows)
		res.InjectableIndex = i
		res.Facility = facility
		column[i] = res
		counts[res.Kind]++
	}

	for kind, n := range counts {
		metrics.MatchResultsTotal.WithLabelValues(facility, kind.String()).Add(float64(n))
	}
	logging.Debug("Facility matched",
		"facility", facility,
		"rows", len(rows),
		"exact", counts[entities.MatchExact],
		"fuzzy", counts[entities.MatchFuzzy],
		"none", counts[entities.MatchNone])

	return column
}

// MatchOne matches a single injectable against one facility's rows.
// InjectableIndex and Facility are left for the caller to set.
func (e *Engine) MatchOne(inj entities.InjectableEntry, rows []entities.PurchaseOrderEntry) entities.MatchResult {
	res := entities.MatchResult{Injectable: inj, Kind: entities.MatchNone}

	if inj.NDC.Present() {
		for i := range rows {
			if rows[i].NDC != inj.NDC {
				continue
			}
			if res.Matched == nil {
				matched := rows[i]
				res.Matched = &matched
			}
			res.Candidates = append(res.Candidates, entities.Candidate{Entry: rows[i], Score: 100})
		}
		if res.Matched != nil {
			res.Kind = entities.MatchExact
			res.Score = 100
			return res
		}
	}

	text := inj.Description.NormalizedText
	if text == "" {
		return res
	}

	var scored []entities.Candidate
	bestRow, bestScore := -1, 0.0
	for i := range rows {
		poText := rows[i].Description.NormalizedText
		if poText == "" {
			continue
		}
		score := e.similarity.Score(text, poText)
		// strict comparison keeps the first row on ties
		if bestRow < 0 || score > bestScore {
			bestRow, bestScore = i, score
		}
		scored = append(scored, entities.Candidate{Entry: rows[i], Score: score})
	}
	if bestRow < 0 {
		return res
	}

	res.Score = bestScore
	if bestScore < e.threshold {
		return res
	}

	res.Kind = entities.MatchFuzzy
	matched := rows[bestRow]
	res.Matched = &matched
	res.Candidates = topCandidates(scored, e.threshold, e.maxCandidates)
	return res
}

// topCandidates keeps the n best candidates at or above threshold, stable on ties
func topCandidates(scored []entities.Candidate, threshold float64, n int) []entities.Candidate {
	var above []entities.Candidate
	for _, c := range scored {
		if c.Score >= threshold {
			above = append(above, c)
		}
	}
	slices.SortStableFunc(above, func(a, b entities.Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(above) > n {
		above = above[:n]
	}
	return above
}
