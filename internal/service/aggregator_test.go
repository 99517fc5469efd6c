package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meterbridge/meterbridge/internal/domain/usage"
	"github.com/meterbridge/meterbridge/internal/logger"
	"github.com/meterbridge/meterbridge/internal/types"
)

func nopLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func usageRecord(contractID string, dims map[string]float64) *usage.Record {
	rec := &usage.Record{
		ContractID: contractID,
		Timestamp:  time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC),
		Dimensions: make(map[string]decimal.Decimal, len(dims)),
	}
	for name, v := range dims {
		rec.Dimensions[name] = decimal.NewFromFloat(v)
	}
	return rec
}

func TestAggregateSumsPerContract(t *testing.T) {
	agg, err := NewAggregator(nil, baseDims(), nopLogger())
	require.NoError(t, err)

	records := []*usage.Record{
		usageRecord("contract-a", map[string]float64{"cpu_core_hours": 100, "replica_hours": 2}),
		usageRecord("contract-a", map[string]float64{"cpu_core_hours": 260}),
		usageRecord("contract-b", map[string]float64{"cpu_core_hours": 8}),
	}

	result, failed := agg.Aggregate(records)
	require.Empty(t, failed)
	require.Len(t, result, 2)

	a := result["contract-a"]
	require.NotNil(t, a)
	assert.Equal(t, "360", a.Dimensions["cpu_core_hours"].String())
	assert.Equal(t, "2", a.Dimensions["replica_hours"].String())

	b := result["contract-b"]
	require.NotNil(t, b)
	assert.Equal(t, "8", b.Dimensions["cpu_core_hours"].String())
}

func TestAggregateRoundsBaseTotals(t *testing.T) {
	agg, err := NewAggregator(nil, baseDims(), nopLogger())
	require.NoError(t, err)

	records := []*usage.Record{
		usageRecord("contract-a", map[string]float64{"cpu_core_hours": 0.3}),
		usageRecord("contract-a", map[string]float64{"cpu_core_hours": 0.4}),
	}

	result, failed := agg.Aggregate(records)
	require.Empty(t, failed)
	assert.Equal(t, "1", result["contract-a"].Dimensions["cpu_core_hours"].String())
}

func TestAggregateProjectsCustomDimensions(t *testing.T) {
	formulas := []types.DimensionFormula{
		{Name: "pod_hours", Expression: "cpu_core_hours / 2"},
	}
	agg, err := NewAggregator(formulas, baseDims(), nopLogger())
	require.NoError(t, err)
	assert.True(t, agg.HasFormulas())

	records := []*usage.Record{
		usageRecord("contract-a", map[string]float64{"cpu_core_hours": 360, "replica_hours": 5}),
	}

	result, failed := agg.Aggregate(records)
	require.Empty(t, failed)

	a := result["contract-a"]
	require.NotNil(t, a)
	// Custom formulas replace the base dimension set entirely.
	require.Len(t, a.Dimensions, 1)
	assert.Equal(t, "180", a.Dimensions["pod_hours"].String())
}

func TestAggregateDropsContractOnFormulaFailure(t *testing.T) {
	formulas := []types.DimensionFormula{
		{Name: "ratio", Expression: "cpu_core_hours / replica_hours"},
	}
	agg, err := NewAggregator(formulas, baseDims(), nopLogger())
	require.NoError(t, err)

	records := []*usage.Record{
		// No replica_hours: the missing variable evaluates to zero and the
		// division fails, so the whole contract is withheld.
		usageRecord("contract-a", map[string]float64{"cpu_core_hours": 100}),
		usageRecord("contract-b", map[string]float64{"cpu_core_hours": 100, "replica_hours": 4}),
	}

	result, failed := agg.Aggregate(records)
	require.Len(t, failed, 1)
	assert.Error(t, failed["contract-a"])
	require.Len(t, result, 1)
	assert.Equal(t, "25", result["contract-b"].Dimensions["ratio"].String())
}

func TestAggregateSkipsRecordsWithoutContract(t *testing.T) {
	agg, err := NewAggregator(nil, baseDims(), nopLogger())
	require.NoError(t, err)

	records := []*usage.Record{
		usageRecord("", map[string]float64{"cpu_core_hours": 100}),
	}

	result, failed := agg.Aggregate(records)
	assert.Empty(t, result)
	assert.Empty(t, failed)
}

func TestNewAggregatorRejectsMalformedFormula(t *testing.T) {
	formulas := []types.DimensionFormula{
		{Name: "bad", Expression: "__import__('os')"},
	}
	_, err := NewAggregator(formulas, baseDims(), nopLogger())
	assert.Error(t, err)
}

func baseDims() []string {
	return []string{
		"cpu_core_hours",
		"memory_byte_hours",
		"storage_allocated_byte_hours",
		"replica_hours",
	}
}
