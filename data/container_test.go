package data

import (
	"sync"
	"testing"
	"time"

	"github.com/giygas/ndc-report/entities"
)

func testReport(runID string, ndcs ...string) *entities.Report {
	r := &entities.Report{RunID: runID, Facilities: []string{"NORTH"}}
	for _, code := range ndcs {
		r.Rows = append(r.Rows, entities.ReportRow{DrugText: "drug " + code, NDC: code})
	}
	return r
}

func TestNewReportContainer(t *testing.T) {
	rc := NewReportContainer()

	if rc.IsUpdating() {
		t.Error("New container should not be updating")
	}
	if !rc.GetLastUpdated().IsZero() {
		t.Error("New container should have zero lastUpdated time")
	}
	if rc.GetReport() != nil {
		t.Error("New container should have no report")
	}
	if rows := rc.RowsForNDC("00409123401"); rows != nil {
		t.Errorf("Expected nil rows before first report, got %v", rows)
	}
}

func TestUpdateReport(t *testing.T) {
	rc := NewReportContainer()
	before := time.Now()

	rc.UpdateReport(testReport("run-1", "00409-1234-01", "", "00409-1234-01", "12345-6789-01"))

	if got := rc.GetReport(); got == nil || got.RunID != "run-1" {
		t.Fatalf("Expected run-1, got %+v", got)
	}
	if rc.GetLastUpdated().Before(before) {
		t.Error("Expected lastUpdated to be refreshed")
	}

	rows := rc.RowsForNDC("00409123401")
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows for the shared NDC, got %d", len(rows))
	}
	if rows[0].NDC != "00409-1234-01" {
		t.Errorf("Unexpected row %+v", rows[0])
	}
	if len(rc.RowsForNDC("99999999999")) != 0 {
		t.Error("Expected no rows for unknown NDC")
	}

	rc.UpdateReport(testReport("run-2", "12345-6789-01"))
	if len(rc.RowsForNDC("00409123401")) != 0 {
		t.Error("Expected index to follow the new report")
	}
}

func TestUpdateReportIgnoresNil(t *testing.T) {
	rc := NewReportContainer()
	rc.UpdateReport(testReport("run-1"))
	rc.UpdateReport(nil)

	if rc.GetReport().RunID != "run-1" {
		t.Error("Expected nil update to keep the current report")
	}
}

func TestBeginUpdateEndUpdate(t *testing.T) {
	rc := NewReportContainer()

	if !rc.BeginUpdate() {
		t.Fatal("Expected first BeginUpdate to succeed")
	}
	if !rc.IsUpdating() {
		t.Error("Expected IsUpdating after BeginUpdate")
	}
	if rc.BeginUpdate() {
		t.Error("Expected second BeginUpdate to fail while updating")
	}

	rc.EndUpdate()
	if rc.IsUpdating() {
		t.Error("Expected IsUpdating false after EndUpdate")
	}
	if !rc.BeginUpdate() {
		t.Error("Expected BeginUpdate to succeed after EndUpdate")
	}
}

func TestServerStartTime(t *testing.T) {
	rc := NewReportContainer()
	if !rc.GetServerStartTime().IsZero() {
		t.Error("Expected zero start time")
	}

	start := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	rc.SetServerStartTime(start)
	if !rc.GetServerStartTime().Equal(start) {
		t.Errorf("Expected %v, got %v", start, rc.GetServerStartTime())
	}
}

func TestConcurrentReadsDuringUpdate(t *testing.T) {
	rc := NewReportContainer()
	rc.UpdateReport(testReport("run-0", "00409-1234-01"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r := rc.GetReport()
				if r == nil {
					t.Error("Report should never be nil once set")
					return
				}
				for _, row := range rc.RowsForNDC("00409123401") {
					if row.NDC != "00409-1234-01" {
						t.Errorf("Unexpected row %+v", row)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			rc.UpdateReport(testReport("run", "00409-1234-01", "12345-6789-01"))
		} else {
			rc.UpdateReport(testReport("run", "12345-6789-01"))
		}
	}
	wg.Wait()
}
