package main

import (
	"context"
	"fmt"

	"github.com/giygas/ndc-report/cache"
	"github.com/giygas/ndc-report/config"
	"github.com/giygas/ndc-report/description"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/pipeline"
	"github.com/giygas/ndc-report/rxnav"
	"github.com/giygas/ndc-report/similarity"
	"github.com/giygas/ndc-report/validation"
)

// buildDeps wires the parser, validator and, when enrichment is on, the
// lookup client and its cache. The returned func releases the cache.
func buildDeps(ctx context.Context, cfg *config.Config) (pipeline.Deps, func(), error) {
	table := description.DefaultSynonymTable()
	if cfg.SynonymsFile != "" {
		loaded, err := description.LoadSynonymTable(cfg.SynonymsFile)
		if err != nil {
			return pipeline.Deps{}, nil, fmt.Errorf("failed to load synonyms: %w", err)
		}
		table = loaded
		logging.Info("Synonym table loaded", "path", cfg.SynonymsFile, "entries", table.Len())
	}

	deps := pipeline.Deps{
		Parser:     description.NewParser(table),
		Similarity: similarity.TokenSet{},
		Validator:  validation.NewDataValidator(),
		Workers:    cfg.EnrichWorkers,
	}

	if !cfg.EnrichmentEnabled {
		return deps, func() {}, nil
	}

	store, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return pipeline.Deps{}, nil, err
	}

	deps.Cache = store
	deps.Lookup = rxnav.NewClient(
		rxnav.WithBaseURL(cfg.RxNavBaseURL),
		rxnav.WithTimeout(cfg.RxNavTimeout),
		rxnav.WithRate(cfg.RxNavRate),
	)

	return deps, closeCache, nil
}

// openCache selects the lookup cache backend
func openCache(ctx context.Context, cfg *config.Config) (interfaces.Cache, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return rc, func() {
			if err := rc.Close(); err != nil {
				logging.Warn("Failed to close redis cache", "error", err)
			}
		}, nil

	case config.CacheMemory:
		return cache.NewMemoryCache(), func() {}, nil

	default:
		path := cfg.CachePath
		if path == "" {
			path = cache.DefaultPath()
		}
		fc := cache.OpenFileCache(path, cache.WithAutoFlush(cfg.CacheAutoFlush))
		logging.Info("Using NDC file cache", "path", fc.Path(), "entries", fc.Len())
		return fc, func() {}, nil
	}
}
