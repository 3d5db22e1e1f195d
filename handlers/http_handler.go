// Package handlers serves the latest reconciliation report and the
// normalization tools over HTTP.
package handlers

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/ndc"
	"github.com/giygas/ndc-report/rxnav"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var _ interfaces.HTTPHandler = (*HTTPHandlerImpl)(nil)

// HTTPHandlerImpl implements the interfaces.HTTPHandler interface
type HTTPHandlerImpl struct {
	store     interfaces.ReportStore
	validator interfaces.DataValidator
	parser    interfaces.DescriptionParser
	health    interfaces.HealthChecker
	lookup    interfaces.CodeLookup
}

// Option customises the handler
type Option func(*HTTPHandlerImpl)

// WithLookup adds product details from the code lookup service to NDC responses
func WithLookup(lookup interfaces.CodeLookup) Option {
	return func(h *HTTPHandlerImpl) {
		h.lookup = lookup
	}
}

// NewHTTPHandler creates a new HTTP handler with injected dependencies
func NewHTTPHandler(store interfaces.ReportStore, validator interfaces.DataValidator,
	parser interfaces.DescriptionParser, health interfaces.HealthChecker, opts ...Option) *HTTPHandlerImpl {
	h := &HTTPHandlerImpl{
		store:     store,
		validator: validator,
		parser:    parser,
		health:    health,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ReportSummary is the latest report without its rows
type ReportSummary struct {
	RunID       string                      `json:"runId"`
	GeneratedAt time.Time                   `json:"generatedAt"`
	Period      entities.Period             `json:"period"`
	Threshold   float64                     `json:"threshold"`
	Facilities  []string                    `json:"facilities"`
	RowCount    int                         `json:"rowCount"`
	Summary     map[string]int              `json:"summary"`
	Quality     *entities.DataQualityReport `json:"quality,omitempty"`
}

// latest returns the current report or writes a 404
func (h *HTTPHandlerImpl) latest(w http.ResponseWriter) *entities.Report {
	report := h.store.GetReport()
	if report == nil {
		msg := "No report available yet"
		if h.store.IsUpdating() {
			msg = "The first report is being generated"
		}
		RespondWithError(w, http.StatusNotFound, msg)
	}
	return report
}

// ServeLatestReport returns the summary of the latest report
func (h *HTTPHandlerImpl) ServeLatestReport(w http.ResponseWriter, r *http.Request) {
	report := h.latest(w)
	if report == nil {
		return
	}

	RespondWithCachedJSON(w, r, ReportSummary{
		RunID:       report.RunID,
		GeneratedAt: report.GeneratedAt,
		Period:      report.Period,
		Threshold:   report.Threshold,
		Facilities:  report.Facilities,
		RowCount:    len(report.Rows),
		Summary:     report.Summary,
		Quality:     report.Quality,
	}, h.store.GetLastUpdated())
}

// ServeReportRows returns a page of report rows, optionally restricted to the
// rows with a given match kind at one facility (or at any facility)
func (h *HTTPHandlerImpl) ServeReportRows(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := intParam(query.Get("page"), 1)
	if err != nil || page < 1 {
		logging.Warn("Unusual user input", "page", query.Get("page"))
		RespondWithError(w, http.StatusBadRequest, "Invalid page number")
		return
	}
	pageSize, err := intParam(query.Get("pageSize"), defaultPageSize)
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		RespondWithError(w, http.StatusBadRequest, "pageSize must be between 1 and 500")
		return
	}

	kind, ok := parseKind(query.Get("kind"))
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "kind must be one of exact, fuzzy or none")
		return
	}

	report := h.latest(w)
	if report == nil {
		return
	}

	facility := strings.TrimSpace(query.Get("facility"))
	if facility != "" && !slices.Contains(report.Facilities, facility) {
		RespondWithError(w, http.StatusNotFound, "Unknown facility")
		return
	}

	rows := filterRows(report, facility, kind)

	totalItems := len(rows)
	start := (page - 1) * pageSize
	if start > 0 && start >= totalItems {
		RespondWithError(w, http.StatusNotFound, "Page not found")
		return
	}
	end := min(start+pageSize, totalItems)

	RespondWithCachedJSON(w, r, map[string]any{
		"data":       rows[start:end],
		"page":       page,
		"pageSize":   pageSize,
		"totalItems": totalItems,
		"maxPage":    (totalItems + pageSize - 1) / pageSize,
	}, h.store.GetLastUpdated())
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// parseKind returns nil for an empty filter
func parseKind(raw string) (*entities.MatchKind, bool) {
	var kind entities.MatchKind
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return nil, true
	case "exact":
		kind = entities.MatchExact
	case "fuzzy":
		kind = entities.MatchFuzzy
	case "none":
		kind = entities.MatchNone
	default:
		return nil, false
	}
	return &kind, true
}

func filterRows(report *entities.Report, facility string, kind *entities.MatchKind) []entities.ReportRow {
	if kind == nil {
		return report.Rows
	}

	facilities := report.Facilities
	if facility != "" {
		facilities = []string{facility}
	}

	rows := make([]entities.ReportRow, 0)
	for _, row := range report.Rows {
		for _, f := range facilities {
			if row.Facilities[f].Kind == *kind {
				rows = append(rows, row)
				break
			}
		}
	}
	return rows
}

// ServeNDC normalizes an NDC and lists the report rows carrying it
func (h *HTTPHandlerImpl) ServeNDC(w http.ResponseWriter, r *http.Request) {
	input := chi.URLParam(r, "code")

	code, err := h.validator.ValidateNDC(input)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := map[string]any{
		"input":     input,
		"ndc":       code,
		"formatted": ndc.Format(code),
		"rows":      h.store.RowsForNDC(code),
	}

	if h.lookup != nil {
		product, err := h.lookup.Lookup(r.Context(), code)
		switch {
		case err == nil:
			response["product"] = product
		case errors.Is(err, rxnav.ErrNoData):
			response["product"] = nil
		default:
			logging.Warn("Product lookup failed", "ndc", code, "error", err)
			response["productError"] = "lookup service unavailable"
		}
	}

	RespondWithJSON(w, http.StatusOK, response)
}

// ServeParse parses a free-text drug description
func (h *HTTPHandlerImpl) ServeParse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if err := h.validator.ValidateInput(q); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	parsed := h.parser.Parse(q)
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"input":       q,
		"parsed":      parsed,
		"unparseable": parsed.Unparseable(),
	})
}

// HealthCheck returns the service health
func (h *HTTPHandlerImpl) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, data, httpStatus := h.health.HealthCheck()
	RespondWithJSON(w, httpStatus, map[string]any{
		"status": status,
		"data":   data,
	})
}
