package types

import (
	"fmt"
	"time"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
)

// Month is a UTC calendar month. It marshals as "YYYY-MM" so it can key the
// month-indexed maps of the persisted state document.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the calendar month containing t, evaluated in UTC.
func MonthOf(t time.Time) Month {
	u := t.UTC()
	return Month{Year: u.Year(), Month: u.Month()}
}

// ParseMonth parses a "YYYY-MM" string.
func ParseMonth(s string) (Month, error) {
	var year, month int
	if _, err := fmt.Sscanf(s, "%4d-%2d", &year, &month); err != nil || len(s) != 7 {
		return Month{}, ierr.NewErrorf("invalid month %q", s).
			WithHint("Months must be in YYYY-MM format").
			Mark(ierr.ErrValidation)
	}
	if month < 1 || month > 12 {
		return Month{}, ierr.NewErrorf("invalid month %q: month must be between 01 and 12", s).
			Mark(ierr.ErrValidation)
	}
	if year < 1900 || year > 9999 {
		return Month{}, ierr.NewErrorf("invalid month %q: year must be between 1900 and 9999", s).
			Mark(ierr.ErrValidation)
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// AddMonths returns the month n calendar months after m (n may be negative).
func (m Month) AddMonths(n int) Month {
	t := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) Next() Month {
	return m.AddMonths(1)
}

func (m Month) Prev() Month {
	return m.AddMonths(-1)
}

func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

func (m Month) After(o Month) bool {
	return o.Before(m)
}

// Start returns the first instant of the month in UTC.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last second of the month in UTC (23:59:59 on the last
// day), matching the billing API's metering window convention.
func (m Month) End() time.Time {
	return m.Next().Start().Add(-time.Second)
}

// LastDay returns the number of days in the month.
func (m Month) LastDay() int {
	return m.Next().Start().AddDate(0, 0, -1).Day()
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(data []byte) error {
	parsed, err := ParseMonth(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
