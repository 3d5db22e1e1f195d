package records

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giygas/ndc-report/entities"
)

// ErrInvalidPeriod is returned for unparseable month or date bounds
var ErrInvalidPeriod = errors.New("invalid reporting period")

// MonthPeriod returns the half-open window [first of month, first of next month)
// for a YYYY-MM value.
func MonthPeriod(month string) (entities.Period, error) {
	start, err := time.Parse("2006-01", strings.TrimSpace(month))
	if err != nil {
		return entities.Period{}, fmt.Errorf("%w: month must be YYYY-MM, got %q", ErrInvalidPeriod, month)
	}
	return entities.Period{
		Start:        start,
		End:          start.AddDate(0, 1, 0),
		EndExclusive: true,
	}, nil
}

// PreviousMonth returns the calendar month before now as YYYY-MM
func PreviousMonth(now time.Time) string {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, -1, 0).Format("2006-01")
}

// DatePeriod builds an inclusive window from ISO dates. Either bound may be
// empty; the end date covers its whole day.
func DatePeriod(start, end string) (entities.Period, error) {
	var p entities.Period
	if s := strings.TrimSpace(start); s != "" {
		t, ok := ParseDate(s, false)
		if !ok {
			return p, fmt.Errorf("%w: start date %q", ErrInvalidPeriod, start)
		}
		p.Start = t
	}
	if e := strings.TrimSpace(end); e != "" {
		t, ok := ParseDate(e, false)
		if !ok {
			return p, fmt.Errorf("%w: end date %q", ErrInvalidPeriod, end)
		}
		if t.Equal(t.Truncate(24 * time.Hour)) {
			t = t.AddDate(0, 0, 1)
			p.EndExclusive = true
		}
		p.End = t
	}
	if !p.Start.IsZero() && !p.End.IsZero() && !p.Start.Before(p.End) {
		return p, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidPeriod, start, end)
	}
	return p, nil
}

// ResolvePeriod picks explicit start/end dates over a month, or no window at all
func ResolvePeriod(month, start, end string) (entities.Period, error) {
	if strings.TrimSpace(start) != "" || strings.TrimSpace(end) != "" {
		return DatePeriod(start, end)
	}
	if strings.TrimSpace(month) != "" {
		return MonthPeriod(month)
	}
	return entities.Period{}, nil
}

// FilterByDate keeps the rows purchased inside p. Rows without a purchase date
// are always kept. The input slice is not modified.
func FilterByDate(rows []entities.PurchaseOrderEntry, p entities.Period) []entities.PurchaseOrderEntry {
	if p.IsZero() {
		return rows
	}
	kept := make([]entities.PurchaseOrderEntry, 0, len(rows))
	for _, row := range rows {
		if row.PurchaseDate == nil || p.Contains(*row.PurchaseDate) {
			kept = append(kept, row)
		}
	}
	return kept
}
