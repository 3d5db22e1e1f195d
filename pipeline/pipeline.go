// Package pipeline runs a complete reconciliation: load, parse, validate,
// enrich, filter, match, aggregate and write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/giygas/ndc-report/enrichment"
	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/matching"
	"github.com/giygas/ndc-report/metrics"
	"github.com/giygas/ndc-report/ndc"
	"github.com/giygas/ndc-report/records"
	"github.com/giygas/ndc-report/report"
)

// ErrDuplicateFacility is returned when two PO sources share a facility code
var ErrDuplicateFacility = errors.New("duplicate facility code")

// Options describe one run
type Options struct {
	Injectables       records.Source
	InjectableColumns records.Columns
	PurchaseOrders    []records.Source
	POColumns         records.Columns
	Period            entities.Period
	Threshold         float64
	Enrich            bool

	// Output is written when set; an empty Format is guessed from its extension
	Output string
	Format string
}

// Deps are the collaborators of a run. Cache and Lookup are only used when
// enrichment is requested.
type Deps struct {
	Parser     interfaces.DescriptionParser
	Similarity interfaces.Similarity
	Validator  interfaces.DataValidator
	Cache      interfaces.Cache
	Lookup     interfaces.CodeLookup
	Workers    int
}

// Run builds the report and writes it when opts.Output is set
func Run(ctx context.Context, opts Options, deps Deps) (*entities.Report, error) {
	start := time.Now()
	defer metrics.ObserveRun(start)

	rep, err := Build(ctx, opts, deps)
	if err != nil {
		return nil, err
	}

	if opts.Output != "" {
		if err := report.WriteFile(opts.Output, opts.Format, rep); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
		logging.Info("Report written", "path", opts.Output, "run_id", rep.RunID)
	}

	logging.Info("Report run completed",
		"run_id", rep.RunID,
		"duration", time.Since(start),
		"injectables", len(rep.Rows),
		"facilities", len(rep.Facilities),
		"exact", rep.Summary[entities.MatchExact.String()],
		"fuzzy", rep.Summary[entities.MatchFuzzy.String()],
		"none", rep.Summary[entities.MatchNone.String()])

	return rep, nil
}

// Build runs every stage except writing
func Build(ctx context.Context, opts Options, deps Deps) (*entities.Report, error) {
	// configuration errors stop the run before any input is read
	engine, err := matching.NewEngine(opts.Threshold, deps.Similarity)
	if err != nil {
		return nil, err
	}
	if deps.Parser == nil {
		return nil, errors.New("description parser is required")
	}

	injectables, err := LoadInjectables(opts.Injectables, opts.InjectableColumns, deps.Parser)
	if err != nil {
		return nil, err
	}
	pos, err := LoadPurchaseOrders(opts.PurchaseOrders, opts.POColumns, deps.Parser)
	if err != nil {
		return nil, err
	}

	var quality *entities.DataQualityReport
	if deps.Validator != nil {
		quality = deps.Validator.ReportDataQuality(injectables, pos)
	}

	if opts.Enrich {
		enricher := enrichment.NewEnricher(deps.Cache, deps.Lookup,
			enrichment.WithParser(deps.Parser),
			enrichment.WithWorkers(deps.Workers))

		var failures []enrichment.Failure
		injectables, failures = enricher.EnrichAll(ctx, injectables)
		if quality != nil {
			quality.EnrichmentFailures = len(failures)
		}
		if deps.Cache != nil {
			if err := deps.Cache.Flush(ctx); err != nil {
				logging.Warn("Failed to flush NDC cache", "error", err)
			}
		}
	}

	for facility, rows := range pos {
		pos[facility] = records.FilterByDate(rows, opts.Period)
		if dropped := len(rows) - len(pos[facility]); dropped > 0 {
			logging.Debug("Rows outside the reporting period", "facility", facility, "dropped", dropped)
		}
	}

	results, err := engine.Match(injectables, pos)
	if err != nil {
		return nil, fmt.Errorf("matching failed: %w", err)
	}

	facilities := matching.Facilities(pos)
	rows := report.Aggregate(injectables, results, facilities)
	return report.New(opts.Period, opts.Threshold, facilities, rows, quality), nil
}

// LoadInjectables reads and parses the master sheet
func LoadInjectables(src records.Source, cols records.Columns, parser interfaces.DescriptionParser) ([]entities.InjectableEntry, error) {
	raws, _, err := records.Load(src, cols)
	if err != nil {
		return nil, fmt.Errorf("failed to load injectables: %w", err)
	}
	return BuildInjectables(raws, parser), nil
}

// BuildInjectables parses raw master rows
func BuildInjectables(raws []entities.RawRecord, parser interfaces.DescriptionParser) []entities.InjectableEntry {
	entries := make([]entities.InjectableEntry, len(raws))
	for i, raw := range raws {
		entries[i] = entities.InjectableEntry{
			Raw:         raw,
			Description: parser.Parse(raw.Description),
			NDC:         ndc.Normalize(raw.NDC),
		}
	}
	return entries
}

// BuildPurchaseOrders parses raw PO rows of one facility
func BuildPurchaseOrders(facility string, raws []entities.RawRecord, parser interfaces.DescriptionParser) []entities.PurchaseOrderEntry {
	entries := make([]entities.PurchaseOrderEntry, len(raws))
	for i, raw := range raws {
		entries[i] = entities.PurchaseOrderEntry{
			Raw:          raw,
			Description:  parser.Parse(raw.Description),
			NDC:          ndc.Normalize(raw.NDC),
			Facility:     facility,
			PurchaseDate: raw.Date,
		}
	}
	return entries
}

// LoadPurchaseOrders reads every facility file concurrently
func LoadPurchaseOrders(sources []records.Source, cols records.Columns, parser interfaces.DescriptionParser) (map[string][]entities.PurchaseOrderEntry, error) {
	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		if seen[src.Facility] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFacility, src.Facility)
		}
		seen[src.Facility] = true
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	pos := make(map[string][]entities.PurchaseOrderEntry, len(sources))

	for _, src := range sources {
		wg.Add(1)
		go func(src records.Source) {
			defer wg.Done()
			raws, _, err := records.Load(src, cols)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("facility %s: %w", src.Facility, err))
				return
			}
			pos[src.Facility] = BuildPurchaseOrders(src.Facility, raws, parser)
		}(src)
	}
	wg.Wait()

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		logging.Error("Purchase order load errors occurred", "errors", errs)
		return nil, fmt.Errorf("failed to load purchase orders: %w", errors.Join(errs...))
	}

	return pos, nil
}
