package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giygas/ndc-report/cache"
	"github.com/giygas/ndc-report/description"
	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/ndc"
	"github.com/giygas/ndc-report/rxnav"
)

// fakeLookup answers from a table and counts calls per code
type fakeLookup struct {
	known map[entities.CanonicalNDC]entities.CacheEntry
	delay time.Duration

	mu    sync.Mutex
	calls map[entities.CanonicalNDC]int
	total atomic.Int32
}

func newFakeLookup(known map[entities.CanonicalNDC]entities.CacheEntry) *fakeLookup {
	return &fakeLookup{known: known, calls: make(map[entities.CanonicalNDC]int)}
}

func (f *fakeLookup) Lookup(ctx context.Context, code entities.CanonicalNDC) (entities.CacheEntry, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[code]++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if e, ok := f.known[code]; ok {
		return e, nil
	}
	return entities.CacheEntry{}, fmt.Errorf("lookup %s: %w", code, rxnav.ErrNoData)
}

var parser = description.NewParser(nil)

func entry(text, code string) entities.InjectableEntry {
	return entities.InjectableEntry{
		Raw:         entities.RawRecord{Description: text, NDC: code},
		Description: parser.Parse(text),
		NDC:         ndc.Normalize(code),
	}
}

const vancoNDC = entities.CanonicalNDC("00409123401")

func vancoLookup() *fakeLookup {
	return newFakeLookup(map[entities.CanonicalNDC]entities.CacheEntry{
		vancoNDC: {Name: "vancomycin 500 MG Injection", DosageForm: "Injectable Solution", Strength: "500 MG"},
	})
}

func TestEnrichFillsMissingDosageForm(t *testing.T) {
	lookup := vancoLookup()
	e := NewEnricher(cache.NewMemoryCache(), lookup, WithParser(parser))

	in := entry("Vancomycin 500mg", "0409-1234-01")
	if in.Description.DosageForm != "" {
		t.Fatalf("Test input should lack a dosage form, got %q", in.Description.DosageForm)
	}

	out, err := e.Enrich(context.Background(), in)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Description.DosageForm != "injection" {
		t.Errorf("Expected dosage form injection, got %q", out.Description.DosageForm)
	}
	if out.Description.Strength != "500mg" {
		t.Errorf("Expected parsed strength to stay 500mg, got %q", out.Description.Strength)
	}
	if out.Enrichment == nil || !out.Enrichment.FilledDosageForm || out.Enrichment.FilledStrength {
		t.Errorf("Unexpected enrichment record %+v", out.Enrichment)
	}
	if out.Description.NormalizedText != in.Description.NormalizedText {
		t.Errorf("NormalizedText must not change, got %q", out.Description.NormalizedText)
	}
}

func TestEnrichWithoutParserLowercases(t *testing.T) {
	e := NewEnricher(nil, vancoLookup())

	out, err := e.Enrich(context.Background(), entry("Vancomycin", "00409-1234-01"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Description.Strength != "500mg" {
		t.Errorf("Expected 500mg, got %q", out.Description.Strength)
	}
	if out.Description.DosageForm != "injectable solution" {
		t.Errorf("Expected injectable solution, got %q", out.Description.DosageForm)
	}
}

func TestEnrichSkipsCompleteOrCodelessEntries(t *testing.T) {
	lookup := vancoLookup()
	e := NewEnricher(cache.NewMemoryCache(), lookup)

	inputs := []entities.InjectableEntry{
		entry("Vancomycin 500mg inj", "0409-1234-01"),
		entry("Vancomycin", ""),
		entry("Vancomycin", "12345"),
	}
	for _, in := range inputs {
		out, err := e.Enrich(context.Background(), in)
		if err != nil {
			t.Errorf("Unexpected error for %q: %v", in.Raw.Description, err)
		}
		if out.Enrichment != nil {
			t.Errorf("Expected no enrichment for %q", in.Raw.Description)
		}
	}
	if lookup.total.Load() != 0 {
		t.Errorf("Expected no lookups, got %d", lookup.total.Load())
	}
}

func TestEnrichUsesCacheFirst(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	_ = c.Put(ctx, vancoNDC, entities.CacheEntry{DosageForm: "Vial", FetchedAt: time.Now()})
	lookup := vancoLookup()
	e := NewEnricher(c, lookup, WithParser(parser))

	out, err := e.Enrich(ctx, entry("Vancomycin 500mg", "0409-1234-01"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Description.DosageForm != "vial" {
		t.Errorf("Expected cached dosage form vial, got %q", out.Description.DosageForm)
	}
	if lookup.total.Load() != 0 {
		t.Errorf("Expected cache hit to skip lookup, got %d calls", lookup.total.Load())
	}
}

func TestEnrichWritesCacheOnSuccess(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	e := NewEnricher(c, vancoLookup())

	if _, err := e.Enrich(ctx, entry("Vancomycin", "0409-1234-01")); err != nil {
		t.Fatal(err)
	}
	cached, ok, _ := c.Get(ctx, vancoNDC)
	if !ok {
		t.Fatal("Expected lookup result to be cached")
	}
	if cached.Strength != "500 MG" {
		t.Errorf("Expected the raw lookup result to be cached, got %+v", cached)
	}
	if cached.FetchedAt.IsZero() {
		t.Error("Expected FetchedAt to be set")
	}
}

func TestEnrichFailureLeavesEntryUnchanged(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	lookup := newFakeLookup(nil)
	e := NewEnricher(c, lookup)

	in := entry("Mystery drug", "99999-9999-99")
	out, err := e.Enrich(ctx, in)
	if !errors.Is(err, rxnav.ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
	if out.Description != in.Description || out.Enrichment != nil {
		t.Error("Expected entry to be unchanged on failure")
	}
	if c.Len() != 0 {
		t.Error("Failures must not be cached")
	}

	// remembered for the rest of the run
	_, _ = e.Enrich(ctx, in)
	if lookup.total.Load() != 1 {
		t.Errorf("Expected 1 lookup, got %d", lookup.total.Load())
	}
}

func TestConcurrentEnrichSharesLookup(t *testing.T) {
	lookup := vancoLookup()
	lookup.delay = 50 * time.Millisecond
	e := NewEnricher(cache.NewMemoryCache(), lookup)

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Enrich(context.Background(), entry("Vancomycin", "0409-1234-01")); err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if lookup.total.Load() != 1 {
		t.Errorf("Expected a single lookup, got %d", lookup.total.Load())
	}
}

func TestEnrichAll(t *testing.T) {
	lookup := newFakeLookup(map[entities.CanonicalNDC]entities.CacheEntry{
		"00409123401": {DosageForm: "Injectable Solution", Strength: "500 MG"},
		"12345678901": {DosageForm: "Oral Tablet", Strength: "10 MG"},
	})
	e := NewEnricher(cache.NewMemoryCache(), lookup, WithWorkers(8), WithParser(parser))

	var inputs []entities.InjectableEntry
	for i := 0; i < 30; i++ {
		switch i % 3 {
		case 0:
			inputs = append(inputs, entry(fmt.Sprintf("Vanco %d", i), "0409-1234-01"))
		case 1:
			inputs = append(inputs, entry(fmt.Sprintf("Drug %d", i), "12345-6789-01"))
		default:
			inputs = append(inputs, entry(fmt.Sprintf("Unknown %d", i), "55555-5555-55"))
		}
	}

	out, failures := e.EnrichAll(context.Background(), inputs)

	if len(out) != len(inputs) {
		t.Fatalf("Expected %d entries, got %d", len(inputs), len(out))
	}
	for i := range out {
		if out[i].Raw.Description != inputs[i].Raw.Description {
			t.Fatalf("Order not preserved at %d", i)
		}
	}
	if out[0].Description.DosageForm != "injection" {
		t.Errorf("Expected injection, got %q", out[0].Description.DosageForm)
	}
	if out[1].Description.DosageForm != "tablet" || out[1].Description.Strength != "10mg" {
		t.Errorf("Expected tablet/10mg, got %q/%q", out[1].Description.DosageForm, out[1].Description.Strength)
	}
	if len(failures) != 10 {
		t.Errorf("Expected 10 failures, got %d", len(failures))
	}
	for _, f := range failures {
		if f.Index%3 != 2 {
			t.Errorf("Unexpected failure at index %d", f.Index)
		}
	}
	if got := lookup.total.Load(); got != 3 {
		t.Errorf("Expected one lookup per distinct NDC (3), got %d", got)
	}
}

func TestLookupBypassesRunMemo(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup(nil)
	c := cache.NewMemoryCache()
	e := NewEnricher(c, lookup)

	for i := 0; i < 2; i++ {
		if _, err := e.Lookup(ctx, vancoNDC); !errors.Is(err, rxnav.ErrNoData) {
			t.Fatalf("Expected ErrNoData, got %v", err)
		}
	}
	if lookup.total.Load() != 2 {
		t.Errorf("Expected failures to be retried, got %d lookups", lookup.total.Load())
	}

	lookup.known = map[entities.CanonicalNDC]entities.CacheEntry{vancoNDC: {DosageForm: "Vial"}}
	found, err := e.Lookup(ctx, vancoNDC)
	if err != nil || found.DosageForm != "Vial" {
		t.Fatalf("Expected lookup result, got %+v, %v", found, err)
	}

	// served from the cache now
	if _, err := e.Lookup(ctx, vancoNDC); err != nil {
		t.Fatal(err)
	}
	if lookup.total.Load() != 3 {
		t.Errorf("Expected cache hit on the last call, got %d lookups", lookup.total.Load())
	}
}

func TestRerunWithPersistedCacheIsIdentical(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ndc_cache.json")
	inputs := []entities.InjectableEntry{
		entry("Vancomycin 500mg", "0409-1234-01"),
		entry("Vanco", "00409-1234-01"),
		entry("Ceftriaxone 1 g vial", ""),
	}

	firstLookup := vancoLookup()
	firstCache := cache.OpenFileCache(path)
	first, failures := NewEnricher(firstCache, firstLookup, WithParser(parser)).EnrichAll(ctx, inputs)
	if len(failures) != 0 {
		t.Fatalf("Unexpected failures: %v", failures)
	}
	if err := firstCache.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if firstLookup.total.Load() != 1 {
		t.Errorf("Expected 1 lookup on the first run, got %d", firstLookup.total.Load())
	}

	secondLookup := vancoLookup()
	second, failures := NewEnricher(cache.OpenFileCache(path), secondLookup, WithParser(parser)).EnrichAll(ctx, inputs)
	if len(failures) != 0 {
		t.Fatalf("Unexpected failures: %v", failures)
	}
	if secondLookup.total.Load() != 0 {
		t.Errorf("Expected no lookups with a populated cache, got %d", secondLookup.total.Load())
	}

	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	secondJSON, err := json.Marshal(second)
	if err != nil {
		t.Fatal(err)
	}
	if string(firstJSON) != string(secondJSON) {
		t.Errorf("Expected identical entries across runs\nfirst:  %s\nsecond: %s", firstJSON, secondJSON)
	}
}
