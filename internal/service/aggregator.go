package service

import (
	"github.com/shopspring/decimal"

	"github.com/meterbridge/meterbridge/internal/domain/usage"
	"github.com/meterbridge/meterbridge/internal/formula"
	"github.com/meterbridge/meterbridge/internal/logger"
	"github.com/meterbridge/meterbridge/internal/types"
)

// Aggregator reduces one month's raw usage records into per-contract
// dimension totals, optionally projecting them through custom dimension
// formulas. Formulas are compiled once at construction so a malformed
// expression fails the process at startup rather than mid-run.
type Aggregator struct {
	formulas []compiledDimension
	logger   *logger.Logger
}

type compiledDimension struct {
	name     string
	compiled *formula.Compiled
}

func NewAggregator(dimensions []types.DimensionFormula, baseDimensions []string, log *logger.Logger) (*Aggregator, error) {
	formulas := make([]compiledDimension, 0, len(dimensions))
	for _, dim := range dimensions {
		compiled, err := formula.Compile(dim.Expression, baseDimensions)
		if err != nil {
			return nil, err
		}
		formulas = append(formulas, compiledDimension{name: dim.Name, compiled: compiled})
	}
	return &Aggregator{formulas: formulas, logger: log}, nil
}

// Aggregate sums base dimensions per contract and, when custom formulas are
// configured, replaces the output dimension set with exactly the custom
// dimensions. A contract whose formulas cannot be evaluated is dropped
// entirely (fail-closed per contract) and reported in the second return
// value as a processing error, distinct from submission errors. Final
// values are rounded to the nearest integer as the billing API requires.
func (a *Aggregator) Aggregate(records []*usage.Record) (map[string]*types.AggregatedUsage, map[string]error) {
	totals := make(map[string]map[string]decimal.Decimal)
	for _, rec := range records {
		if rec.ContractID == "" {
			a.logger.Warnw("skipping usage record with no contract id")
			continue
		}
		dims, ok := totals[rec.ContractID]
		if !ok {
			dims = make(map[string]decimal.Decimal)
			totals[rec.ContractID] = dims
		}
		for name, value := range rec.Dimensions {
			dims[name] = dims[name].Add(value)
		}
	}

	result := make(map[string]*types.AggregatedUsage, len(totals))
	failed := make(map[string]error)

	for contractID, dims := range totals {
		aggregated, err := a.project(dims)
		if err != nil {
			failed[contractID] = err
			continue
		}
		result[contractID] = &types.AggregatedUsage{
			ContractID: contractID,
			Dimensions: aggregated,
		}
	}

	a.logger.Infow("aggregated usage records",
		"records", len(records), "contracts", len(result), "failed", len(failed))
	return result, failed
}

// project applies the custom formulas to one contract's base totals, or
// rounds the base totals when no formulas are configured.
func (a *Aggregator) project(dims map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	if len(a.formulas) == 0 {
		rounded := make(map[string]decimal.Decimal, len(dims))
		for name, value := range dims {
			rounded[name] = value.Round(0)
		}
		return rounded, nil
	}

	vars := make(map[string]float64, len(dims))
	for name, value := range dims {
		vars[name] = value.InexactFloat64()
	}

	projected := make(map[string]decimal.Decimal, len(a.formulas))
	for _, dim := range a.formulas {
		value, err := dim.compiled.Evaluate(vars)
		if err != nil {
			return nil, err
		}
		projected[dim.name] = decimal.NewFromFloat(value).Round(0)
	}
	return projected, nil
}

// HasFormulas reports whether custom dimensions are configured.
func (a *Aggregator) HasFormulas() bool {
	return len(a.formulas) > 0
}
