package usage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one raw metering observation: a contract, an hour-granularity
// timestamp, and non-negative values for one or more base dimensions.
// Records come from the storage collaborator and are never mutated.
type Record struct {
	ContractID string
	Timestamp  time.Time
	Dimensions map[string]decimal.Decimal
}
