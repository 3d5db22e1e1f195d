// Package enrichment fills missing strength and dosage form of injectables from their NDC.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/metrics"
	"github.com/giygas/ndc-report/rxnav"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// SourceRxNav marks fields filled from the lookup service
const SourceRxNav = "rxnav"

// DefaultWorkers bounds concurrent lookups in EnrichAll
const DefaultWorkers = 4

// Failure is an injectable that could not be enriched
type Failure struct {
	Index int
	NDC   entities.CanonicalNDC
	Err   error
}

type outcome struct {
	entry entities.CacheEntry
	err   error
}

// Enricher resolves each NDC at most once per instance: the cache is consulted
// first, concurrent requests for one code share a single lookup, and both hits
// and failures are remembered. Create one Enricher per report run.
type Enricher struct {
	cache   interfaces.Cache
	lookup  interfaces.CodeLookup
	parser  interfaces.DescriptionParser
	workers int

	group singleflight.Group
	mu    sync.Mutex
	memo  map[entities.CanonicalNDC]outcome
}

// Option customises an Enricher
type Option func(*Enricher)

// WithWorkers bounds the number of concurrent lookups
func WithWorkers(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithParser canonicalises looked-up strength and dosage form with the description parser
func WithParser(p interfaces.DescriptionParser) Option {
	return func(e *Enricher) {
		e.parser = p
	}
}

var _ interfaces.CodeLookup = (*Enricher)(nil)

func NewEnricher(cache interfaces.Cache, lookup interfaces.CodeLookup, opts ...Option) *Enricher {
	e := &Enricher{
		cache:   cache,
		lookup:  lookup,
		workers: DefaultWorkers,
		memo:    make(map[entities.CanonicalNDC]outcome),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich returns entry with absent strength or dosage form filled in.
// On failure the entry is returned unchanged together with the error.
func (e *Enricher) Enrich(ctx context.Context, entry entities.InjectableEntry) (entities.InjectableEntry, error) {
	if !entry.NeedsEnrichment() {
		return entry, nil
	}

	found, err := e.resolve(ctx, entry.NDC)
	if err != nil {
		return entry, fmt.Errorf("enrich %s: %w", entry.NDC, err)
	}

	return e.apply(entry, found), nil
}

// apply fills only what the description did not provide
func (e *Enricher) apply(entry entities.InjectableEntry, found entities.CacheEntry) entities.InjectableEntry {
	result := entities.EnrichmentResult{Source: SourceRxNav, FetchedAt: found.FetchedAt}

	if entry.Description.Strength == "" {
		if s := e.canonicalStrength(found.Strength); s != "" {
			entry.Description.Strength = s
			result.FilledStrength = true
		}
	}
	if entry.Description.DosageForm == "" {
		if f := e.canonicalForm(found.DosageForm); f != "" {
			entry.Description.DosageForm = f
			result.FilledDosageForm = true
		}
	}

	if result.FilledStrength || result.FilledDosageForm {
		entry.Enrichment = &result
	}
	return entry
}

func (e *Enricher) canonicalStrength(s string) string {
	if s == "" {
		return ""
	}
	if e.parser != nil {
		if parsed := e.parser.Parse(s).Strength; parsed != "" {
			return parsed
		}
	}
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func (e *Enricher) canonicalForm(f string) string {
	if f == "" {
		return ""
	}
	if e.parser != nil {
		if parsed := e.parser.Parse(f).DosageForm; parsed != "" {
			return parsed
		}
	}
	return strings.ToLower(strings.Join(strings.Fields(f), " "))
}

func (e *Enricher) remembered(ndc entities.CanonicalNDC) (outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.memo[ndc]
	return o, ok
}

func (e *Enricher) remember(ndc entities.CanonicalNDC, o outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo[ndc] = o
}

func (e *Enricher) resolve(ctx context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, error) {
	if o, ok := e.remembered(ndc); ok {
		return o.entry, o.err
	}

	v, _, _ := e.group.Do(string(ndc), func() (any, error) {
		if o, ok := e.remembered(ndc); ok {
			return o, nil
		}
		o := e.fetch(ctx, ndc)
		e.remember(ndc, o)
		return o, nil
	})

	o := v.(outcome)
	return o.entry, o.err
}

// Lookup resolves one NDC through the cache and the lookup service without
// remembering the outcome, for long-lived callers such as the HTTP API
func (e *Enricher) Lookup(ctx context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, error) {
	o := e.fetch(ctx, ndc)
	return o.entry, o.err
}

// fetch consults the cache, then the lookup service
func (e *Enricher) fetch(ctx context.Context, ndc entities.CanonicalNDC) outcome {
	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, ndc)
		if err != nil {
			logging.Warn("NDC cache read failed", "ndc", ndc, "error", err)
		} else if ok {
			metrics.LookupsTotal.WithLabelValues("cache", metrics.OutcomeHit).Inc()
			return outcome{entry: cached}
		}
		metrics.LookupsTotal.WithLabelValues("cache", metrics.OutcomeMiss).Inc()
	}

	if e.lookup == nil {
		return outcome{err: rxnav.ErrNoData}
	}

	found, err := e.lookup.Lookup(ctx, ndc)
	if err != nil {
		if errors.Is(err, rxnav.ErrNoData) {
			metrics.LookupsTotal.WithLabelValues(SourceRxNav, metrics.OutcomeNoData).Inc()
		} else {
			metrics.LookupsTotal.WithLabelValues(SourceRxNav, metrics.OutcomeError).Inc()
		}
		logging.Warn("NDC lookup failed", "ndc", ndc, "error", err)
		return outcome{err: err}
	}
	metrics.LookupsTotal.WithLabelValues(SourceRxNav, metrics.OutcomeSuccess).Inc()

	if found.FetchedAt.IsZero() {
		found.FetchedAt = time.Now().UTC()
	}
	if e.cache != nil {
		if err := e.cache.Put(ctx, ndc, found); err != nil {
			logging.Warn("NDC cache write failed", "ndc", ndc, "error", err)
		}
	}
	return outcome{entry: found}
}

// EnrichAll enriches entries with a bounded number of concurrent lookups over the
// distinct NDCs. The returned slice has the input order; failures are reported per entry.
func (e *Enricher) EnrichAll(ctx context.Context, entries []entities.InjectableEntry) ([]entities.InjectableEntry, []Failure) {
	seen := make(map[entities.CanonicalNDC]bool)
	var codes []entities.CanonicalNDC
	for _, entry := range entries {
		if entry.NeedsEnrichment() && !seen[entry.NDC] {
			seen[entry.NDC] = true
			codes = append(codes, entry.NDC)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, code := range codes {
		code := code
		g.Go(func() error {
			// outcomes land in the memo, errors are per entry
			_, _ = e.resolve(gctx, code)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]entities.InjectableEntry, len(entries))
	var failures []Failure
	enriched := 0
	for i, entry := range entries {
		updated, err := e.Enrich(ctx, entry)
		if err != nil {
			failures = append(failures, Failure{Index: i, NDC: entry.NDC, Err: err})
		}
		if updated.Enrichment != nil {
			enriched++
		}
		out[i] = updated
	}

	logging.Info("Enrichment completed",
		"entries", len(entries),
		"distinct_ndcs", len(codes),
		"enriched", enriched,
		"failures", len(failures))

	return out, failures
}
