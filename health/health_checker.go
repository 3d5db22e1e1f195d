// Package health reports whether the served report is fresh enough to trust.
package health

import (
	"math"
	"net/http"
	"time"

	"github.com/giygas/ndc-report/interfaces"
)

// Reports are produced monthly; these bounds leave a few days of slack.
const (
	degradedAge  = 35 * 24 * time.Hour
	unhealthyAge = 62 * 24 * time.Hour
	stuckRun     = 6 * time.Hour
	runHour      = 6
)

// HealthCheckerImpl implements the interfaces.HealthChecker interface
type HealthCheckerImpl struct {
	store       interfaces.ReportStore
	scheduleDay int
	now         func() time.Time
}

// NewHealthChecker creates a health checker for a report produced on
// scheduleDay of every month
func NewHealthChecker(store interfaces.ReportStore, scheduleDay int) *HealthCheckerImpl {
	if scheduleDay < 1 || scheduleDay > 28 {
		scheduleDay = 1
	}
	return &HealthCheckerImpl{
		store:       store,
		scheduleDay: scheduleDay,
		now:         time.Now,
	}
}

var _ interfaces.HealthChecker = (*HealthCheckerImpl)(nil)

// HealthCheck returns the health status, response data and HTTP code
func (h *HealthCheckerImpl) HealthCheck() (status string, data map[string]any, httpStatus int) {
	report := h.store.GetReport()
	lastUpdate := h.store.GetLastUpdated()
	isUpdating := h.store.IsUpdating()
	now := h.now()

	reportAge := now.Sub(lastUpdate)

	switch {
	case report == nil && isUpdating:
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable

	case report == nil:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable

	case reportAge > unhealthyAge:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable

	case reportAge > degradedAge:
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable

	case isUpdating && now.Sub(h.lastScheduled()) > stuckRun:
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable

	default:
		status = "healthy"
		httpStatus = http.StatusOK
	}

	data = map[string]any{
		"is_updating": isUpdating,
		"next_run":    h.CalculateNextRun().Format(time.RFC3339),
	}
	if start := h.store.GetServerStartTime(); !start.IsZero() {
		data["uptime_seconds"] = int(now.Sub(start).Seconds())
	}
	if report != nil {
		data["run_id"] = report.RunID
		data["last_update"] = lastUpdate.Format(time.RFC3339)
		data["report_age_days"] = math.Round(reportAge.Hours()/24*10) / 10
		data["rows"] = len(report.Rows)
		data["facilities"] = len(report.Facilities)
	}

	return status, data, httpStatus
}

// CalculateNextRun returns the next scheduled report time: scheduleDay of the
// month at 06:00 local time
func (h *HealthCheckerImpl) CalculateNextRun() time.Time {
	now := h.now()
	next := time.Date(now.Year(), now.Month(), h.scheduleDay, runHour, 0, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}

// lastScheduled returns the most recent scheduled run at or before now
func (h *HealthCheckerImpl) lastScheduled() time.Time {
	return h.CalculateNextRun().AddDate(0, -1, 0)
}
