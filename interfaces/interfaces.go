// Package interfaces defines core abstractions for the NDC report pipeline
// to improve testability and keep packages decoupled.
package interfaces

import (
	"context"
	"net/http"
	"time"

	"github.com/giygas/ndc-report/entities"
)

// Similarity scores two normalized texts on a 0-100 scale.
// Implementations must be symmetric and return 0 when either side is empty.
type Similarity interface {
	Score(a, b string) float64
	Name() string
}

// DescriptionParser turns free-text drug descriptions into structured fields
type DescriptionParser interface {
	Parse(text string) entities.NormalizedDescription
}

// CodeLookup resolves a canonical NDC against an external drug database.
type CodeLookup interface {
	// Lookup returns the product attributes known for the code.
	// Implementations return an error wrapping a sentinel when the code is unknown.
	Lookup(ctx context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, error)
}

// Cache persists successful code lookups across runs.
type Cache interface {
	// Get returns the entry and true on a hit
	Get(ctx context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, bool, error)
	Put(ctx context.Context, ndc entities.CanonicalNDC, entry entities.CacheEntry) error
	// Flush makes pending writes durable
	Flush(ctx context.Context) error
}

// ReportStore holds the latest generated report with atomic swaps,
// so readers never observe a half-built report.
type ReportStore interface {
	GetReport() *entities.Report
	RowsForNDC(code entities.CanonicalNDC) []entities.ReportRow
	GetLastUpdated() time.Time
	GetServerStartTime() time.Time
	IsUpdating() bool
	UpdateReport(report *entities.Report)
	BeginUpdate() bool
	EndUpdate()
}

// Scheduler manages the periodic report job.
type Scheduler interface {
	Start() error
	Stop()
}

// HTTPHandler defines the contract for HTTP request handlers.
type HTTPHandler interface {
	ServeLatestReport(w http.ResponseWriter, r *http.Request)
	ServeReportRows(w http.ResponseWriter, r *http.Request)
	ServeNDC(w http.ResponseWriter, r *http.Request)
	ServeParse(w http.ResponseWriter, r *http.Request)
	HealthCheck(w http.ResponseWriter, r *http.Request)
}

// HealthChecker defines the contract for health check functionality.
type HealthChecker interface {
	// HealthCheck returns the status, response data and HTTP status code
	HealthCheck() (status string, data map[string]any, httpStatus int)

	// CalculateNextRun returns the next scheduled report time
	CalculateNextRun() time.Time
}

// DataValidator checks parsed records before matching.
type DataValidator interface {
	// ReportDataQuality counts the non-fatal problems of a run
	ReportDataQuality(injectables []entities.InjectableEntry, pos map[string][]entities.PurchaseOrderEntry) *entities.DataQualityReport

	// ValidateInput validates user input strings
	ValidateInput(input string) error

	// ValidateNDC validates and normalizes a user supplied NDC
	ValidateNDC(input string) (entities.CanonicalNDC, error)
}
