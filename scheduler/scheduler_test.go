package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/giygas/ndc-report/cache"
	"github.com/giygas/ndc-report/data"
	"github.com/giygas/ndc-report/description"
	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/pipeline"
	"github.com/giygas/ndc-report/records"
	"github.com/giygas/ndc-report/report"
	"github.com/giygas/ndc-report/similarity"
	"github.com/giygas/ndc-report/validation"
)

const header = "Drug Name / Strength / Dosage Form,NDC,PO Processing Date\n"

func writeInputs(t *testing.T) (string, pipeline.Options) {
	t.Helper()
	dir := t.TempDir()

	master := filepath.Join(dir, "injectables.csv")
	if err := os.WriteFile(master, []byte("Drug Name / Strength / Dosage Form,NDC,Comments\n"+
		"Ceftriaxone 1 g vial,0409-1234-01,\n"+
		"Vancomycin 500 mg inj,,\n"), 0600); err != nil {
		t.Fatal(err)
	}
	north := filepath.Join(dir, "north.csv")
	if err := os.WriteFile(north, []byte(header+
		"CEFTRIAXONE 1G VL,00409-1234-01,2024-02-20\n"+
		"VANCO 500MG INJ,,2024-03-02\n"), 0600); err != nil {
		t.Fatal(err)
	}

	return dir, pipeline.Options{
		Injectables:       records.Source{Path: master},
		InjectableColumns: records.InjectableColumns(),
		PurchaseOrders:    []records.Source{{Facility: "NORTH", Path: north}},
		POColumns:         records.PurchaseOrderColumns(),
		Threshold:         82,
	}
}

func newTestScheduler(t *testing.T, store *data.ReportContainer, reportDir string, opts pipeline.Options) *Scheduler {
	t.Helper()
	s := NewScheduler(store, Config{
		Options: opts,
		Deps: pipeline.Deps{
			Parser:     description.NewParser(nil),
			Similarity: similarity.TokenSet{},
			Validator:  validation.NewDataValidator(),
		},
		ReportDir: reportDir,
		Format:    "csv",
	})
	s.now = func() time.Time { return time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC) }
	return s
}

func TestRunNowReportsPreviousMonth(t *testing.T) {
	dir, opts := writeInputs(t)
	store := data.NewReportContainer()
	reportDir := filepath.Join(dir, "reports")

	s := newTestScheduler(t, store, reportDir, opts)
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rep := store.GetReport()
	if rep == nil {
		t.Fatal("Expected report to be stored")
	}
	wantStart := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !rep.Period.Start.Equal(wantStart) {
		t.Errorf("Expected February period, got %v", rep.Period)
	}

	// the March purchase is outside the February window
	if kind := rep.Rows[0].Facilities["NORTH"].Kind; kind != entities.MatchExact {
		t.Errorf("Expected exact match for ceftriaxone, got %s", kind)
	}
	if kind := rep.Rows[1].Facilities["NORTH"].Kind; kind != entities.MatchNone {
		t.Errorf("Expected no match for vancomycin in February, got %s", kind)
	}

	content, err := os.ReadFile(filepath.Join(reportDir, "ndc-report-2024-02.csv"))
	if err != nil {
		t.Fatalf("Expected report file: %v", err)
	}
	if !strings.HasPrefix(string(content), "Drug,NDC,Drug Name,Strength,Dosage Form,Comments,NORTH") {
		t.Errorf("Unexpected report header: %q", strings.SplitN(string(content), "\n", 2)[0])
	}
	if store.IsUpdating() {
		t.Error("Expected update flag to be released")
	}
}

func TestRunNowSkipsWhileUpdating(t *testing.T) {
	_, opts := writeInputs(t)
	store := data.NewReportContainer()
	s := newTestScheduler(t, store, "", opts)

	if !store.BeginUpdate() {
		t.Fatal("Expected BeginUpdate to succeed")
	}
	if err := s.RunNow(context.Background()); err != nil {
		t.Errorf("Expected skipped run to return nil, got %v", err)
	}
	if store.GetReport() != nil {
		t.Error("Expected no report while another run holds the update flag")
	}
	store.EndUpdate()
}

func TestStartFailsWhenInitialRunFails(t *testing.T) {
	_, opts := writeInputs(t)
	opts.Injectables.Path = filepath.Join(t.TempDir(), "missing.csv")

	s := newTestScheduler(t, data.NewReportContainer(), "", opts)
	s.cfg.RunOnStart = true

	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("Expected initial run error")
	}
}

func TestStartAndStop(t *testing.T) {
	_, opts := writeInputs(t)
	store := data.NewReportContainer()
	s := newTestScheduler(t, store, "", opts)
	s.cfg.RunOnStart = true

	if err := s.Start(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store.GetReport() == nil {
		t.Error("Expected initial run to store a report")
	}
	if len(s.scheduler.Jobs()) != 1 {
		t.Errorf("Expected 1 scheduled job, got %d", len(s.scheduler.Jobs()))
	}

	s.Stop()
	// second stop must not panic
	s.Stop()
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(data.NewReportContainer(), Config{ScheduleDay: 40})
	if s.cfg.ScheduleDay != 1 {
		t.Errorf("Expected schedule day 1, got %d", s.cfg.ScheduleDay)
	}
	if s.cfg.Format != report.FormatExcel {
		t.Errorf("Expected excel default format, got %s", s.cfg.Format)
	}
}

// blockingLookup waits for its context and records why it gave up
type blockingLookup struct {
	started chan struct{}
	err     chan error
}

func (l *blockingLookup) Lookup(ctx context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, error) {
	close(l.started)
	<-ctx.Done()
	l.err <- ctx.Err()
	return entities.CacheEntry{}, ctx.Err()
}

func TestStopCancelsRunInProgress(t *testing.T) {
	dir, opts := writeInputs(t)
	master := filepath.Join(dir, "enrich.csv")
	if err := os.WriteFile(master, []byte("Drug Name / Strength / Dosage Form,NDC,Comments\n"+
		"Vancomycin 500mg,0409-1234-01,\n"), 0600); err != nil {
		t.Fatal(err)
	}
	opts.Injectables.Path = master
	opts.Enrich = true

	lookup := &blockingLookup{started: make(chan struct{}), err: make(chan error, 1)}
	s := newTestScheduler(t, data.NewReportContainer(), "", opts)
	s.cfg.Deps.Cache = cache.NewMemoryCache()
	s.cfg.Deps.Lookup = lookup

	done := make(chan error, 1)
	go func() {
		done <- s.RunNow(s.ctx)
	}()

	select {
	case <-lookup.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the run to reach the lookup")
	}

	s.Stop()

	select {
	case err := <-lookup.err:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected Stop to cancel the lookup")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("Expected the run to finish after Stop")
	}

	if s.ctx.Err() == nil {
		t.Error("Expected the run context to be cancelled")
	}
	// concurrent stops must not panic
	go s.Stop()
	s.Stop()
}
