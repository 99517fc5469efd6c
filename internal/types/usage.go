package types

import (
	"github.com/shopspring/decimal"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
)

// AggregatedUsage holds one contract's per-dimension totals for one month.
// It is rebuilt from raw records on every run; only submission outcomes are
// persisted.
type AggregatedUsage struct {
	ContractID string
	Dimensions map[string]decimal.Decimal
}

// DimensionFormula declares a custom dimension derived from base dimensions
// via an arithmetic expression. Immutable once loaded from configuration.
type DimensionFormula struct {
	Name       string
	Expression string
}

func (f DimensionFormula) Validate() error {
	if f.Name == "" || f.Expression == "" {
		return ierr.NewError("custom dimension requires both a name and a formula").
			Mark(ierr.ErrValidation)
	}
	return nil
}
