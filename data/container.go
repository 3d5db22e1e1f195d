// Package data keeps the latest generated report for the HTTP API, swapped
// atomically so readers never see a report that is still being built.
package data

import (
	"sync/atomic"
	"time"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/ndc"
)

// Compile-time check to ensure ReportContainer implements ReportStore
var _ interfaces.ReportStore = (*ReportContainer)(nil)

// snapshot pairs a report with its NDC index so both are swapped together
type snapshot struct {
	report    *entities.Report
	rowsByNDC map[entities.CanonicalNDC][]int
}

// ReportContainer holds the latest report with atomic pointers for zero-downtime updates
type ReportContainer struct {
	current         atomic.Pointer[snapshot]
	lastUpdated     atomic.Value // time.Time
	updating        atomic.Bool
	serverStartTime atomic.Value // time.Time
}

// NewReportContainer creates an empty container
func NewReportContainer() *ReportContainer {
	rc := &ReportContainer{}
	rc.lastUpdated.Store(time.Time{})
	rc.serverStartTime.Store(time.Time{})
	return rc
}

// GetReport returns the latest report, nil before the first run
func (rc *ReportContainer) GetReport() *entities.Report {
	if snap := rc.current.Load(); snap != nil {
		return snap.report
	}
	return nil
}

// RowsForNDC returns the master rows of the latest report carrying code
func (rc *ReportContainer) RowsForNDC(code entities.CanonicalNDC) []entities.ReportRow {
	snap := rc.current.Load()
	if snap == nil {
		return nil
	}

	positions := snap.rowsByNDC[code]
	rows := make([]entities.ReportRow, 0, len(positions))
	for _, i := range positions {
		rows = append(rows, snap.report.Rows[i])
	}
	return rows
}

// GetLastUpdated returns the time the current report was stored
func (rc *ReportContainer) GetLastUpdated() time.Time {
	if v := rc.lastUpdated.Load(); v != nil {
		if lastUpdated, ok := v.(time.Time); ok {
			return lastUpdated
		}
	}

	logging.Warn("Could not get the last updated value")
	return time.Time{}
}

// IsUpdating returns true if a report run is in progress
func (rc *ReportContainer) IsUpdating() bool {
	return rc.updating.Load()
}

// SetServerStartTime sets the server start time
func (rc *ReportContainer) SetServerStartTime(startTime time.Time) {
	rc.serverStartTime.Store(startTime)
}

// GetServerStartTime returns the server start time
func (rc *ReportContainer) GetServerStartTime() time.Time {
	if v := rc.serverStartTime.Load(); v != nil {
		if startTime, ok := v.(time.Time); ok {
			return startTime
		}
	}
	return time.Time{}
}

// UpdateReport swaps in a new report and its NDC index. A nil report is ignored.
func (rc *ReportContainer) UpdateReport(report *entities.Report) {
	if report == nil {
		logging.Warn("Ignoring nil report update")
		return
	}

	index := make(map[entities.CanonicalNDC][]int)
	for i, row := range report.Rows {
		if code := ndc.Normalize(row.NDC); code.Present() {
			index[code] = append(index[code], i)
		}
	}

	rc.current.Store(&snapshot{report: report, rowsByNDC: index})
	rc.lastUpdated.Store(time.Now())
}

// BeginUpdate marks the start of a report run.
// Returns true if the run can proceed, false if another one is in progress
func (rc *ReportContainer) BeginUpdate() bool {
	return rc.updating.CompareAndSwap(false, true)
}

// EndUpdate marks the end of a report run
func (rc *ReportContainer) EndUpdate() {
	rc.updating.Store(false)
}
