package usage

import (
	"context"

	"github.com/meterbridge/meterbridge/internal/types"
)

// Reader supplies raw usage records for the processor. Implementations
// enumerate and parse the month's export files from object storage.
type Reader interface {
	// MonthlyRecords returns all usage records exported for the key and
	// month. A month with no files yields an empty slice, not an error.
	MonthlyRecords(ctx context.Context, key types.ServiceKey, month types.Month) ([]*Record, error)

	// LatestCompleteMonth returns the most recent month for which the
	// exporter has written complete data, or nil when the export watermark
	// is unavailable.
	LatestCompleteMonth(ctx context.Context, key types.ServiceKey) (*types.Month, error)
}
