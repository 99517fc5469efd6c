package service

import (
	"time"

	"github.com/meterbridge/meterbridge/internal/config"
	"github.com/meterbridge/meterbridge/internal/types"
)

// Scheduler computes the ordered sequence of calendar months to attempt.
// It never emits the current month or a future month: the current month's
// data is by definition incomplete.
type Scheduler struct {
	maxMonths  int
	startMonth *types.Month
}

func NewScheduler(cfg *config.Configuration) (*Scheduler, error) {
	startMonth, err := cfg.ParseStartMonth()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		maxMonths:  cfg.Processor.MaxMonthsPerRun,
		startMonth: startMonth,
	}, nil
}

// MonthsDue returns the months to process, oldest first.
//
// With no processing history the first candidate is two full calendar
// months before now, or the configured start month when that is newer and
// still fully past. With history the first candidate follows the last
// processed month. latestComplete, when known, bounds the sequence to
// months the exporter has finished writing.
func (s *Scheduler) MonthsDue(now time.Time, lastProcessed, latestComplete *types.Month) []types.Month {
	current := types.MonthOf(now)

	var first types.Month
	if lastProcessed != nil {
		first = lastProcessed.Next()
	} else {
		first = current.AddMonths(-2)
		if s.startMonth != nil && s.startMonth.After(first) && s.startMonth.Before(current) {
			first = *s.startMonth
		}
	}

	// Last fully-past month, clamped by the export watermark when known.
	upper := current.Prev()
	if latestComplete != nil && latestComplete.Before(upper) {
		upper = *latestComplete
	}

	var months []types.Month
	for m := first; !m.After(upper) && len(months) < s.maxMonths; m = m.Next() {
		months = append(months, m)
	}
	return months
}
