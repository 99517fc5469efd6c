package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterbridge/meterbridge/internal/types"
)

var (
	july   = types.Month{Year: 2025, Month: time.July}
	august = types.Month{Year: 2025, Month: time.August}
	now    = time.Date(2025, 9, 15, 10, 0, 0, 0, time.UTC)
)

func TestMarkSuccess(t *testing.T) {
	st := NewServiceState()

	assert.False(t, st.IsProcessed(july, "contract-a"))

	st.MarkSuccess(july, "contract-a", now)
	assert.True(t, st.IsSucceeded(july, "contract-a"))
	assert.True(t, st.IsProcessed(july, "contract-a"))
	assert.False(t, st.IsSucceeded(august, "contract-a"))
	assert.Equal(t, now, st.LastUpdated)

	// Marking twice does not duplicate the entry.
	st.MarkSuccess(july, "contract-a", now)
	assert.Equal(t, []string{"contract-a"}, st.SuccessContracts[july])
}

func TestMarkErrorCreatesAndUpdates(t *testing.T) {
	st := NewServiceState()
	payload := json.RawMessage(`{"request":[{"contract_id":"contract-a"}]}`)

	st.MarkError(july, "contract-a", []string{"server error"}, "HTTP_503", "retryable", payload, 0, now)

	rec := st.ErrorRecord(july, "contract-a")
	require.NotNil(t, rec)
	assert.Equal(t, []string{"server error"}, rec.Errors)
	assert.Equal(t, "HTTP_503", rec.Code)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, payload, rec.Payload)
	assert.True(t, st.IsProcessed(july, "contract-a"))
	assert.False(t, st.IsSucceeded(july, "contract-a"))

	later := now.Add(time.Minute)
	st.MarkError(july, "contract-a", []string{"still failing"}, "", "", nil, 1, later)

	rec = st.ErrorRecord(july, "contract-a")
	require.NotNil(t, rec)
	assert.Equal(t, []string{"server error", "still failing"}, rec.Errors)
	assert.Equal(t, "HTTP_503", rec.Code, "empty code keeps the previous one")
	assert.Equal(t, payload, rec.Payload, "nil payload keeps the previous one")
	assert.Equal(t, 1, rec.RetryCount)
	require.NotNil(t, rec.LastRetryTime)
	assert.Equal(t, later, *rec.LastRetryTime)
}

func TestSuccessClearsError(t *testing.T) {
	st := NewServiceState()

	st.MarkError(july, "contract-a", []string{"boom"}, "HTTP_503", "", nil, 2, now)
	st.MarkSuccess(july, "contract-a", now)

	assert.Nil(t, st.ErrorRecord(july, "contract-a"))
	assert.True(t, st.IsSucceeded(july, "contract-a"))
	// The emptied month bucket is removed, not left as an empty slice.
	_, ok := st.ErrorContracts[july]
	assert.False(t, ok)
}

func TestErrorsForRetryAndMonthComplete(t *testing.T) {
	st := NewServiceState()
	const maxRetries = 5

	assert.True(t, st.MonthComplete(july, maxRetries), "a month with no errors is complete")

	st.MarkError(july, "contract-a", []string{"boom"}, "", "", nil, 2, now)
	st.MarkError(july, "contract-b", []string{"rejected"}, "", "", nil, maxRetries, now)

	retryable := st.ErrorsForRetry(july, maxRetries)
	require.Len(t, retryable, 1)
	assert.Equal(t, "contract-a", retryable[0].ContractID)
	assert.False(t, st.MonthComplete(july, maxRetries))

	st.MarkError(july, "contract-a", []string{"boom again"}, "", "", nil, maxRetries, now)
	assert.Empty(t, st.ErrorsForRetry(july, maxRetries))
	assert.True(t, st.MonthComplete(july, maxRetries), "exhausted errors count as done")

	// The exhausted records remain for manual inspection.
	assert.NotNil(t, st.ErrorRecord(july, "contract-a"))
	assert.NotNil(t, st.ErrorRecord(july, "contract-b"))
}

func TestAdvanceLastProcessedIsMonotonic(t *testing.T) {
	st := NewServiceState()

	st.AdvanceLastProcessed(july, now)
	require.NotNil(t, st.LastProcessedMonth)
	assert.Equal(t, july, *st.LastProcessedMonth)

	st.AdvanceLastProcessed(august, now)
	assert.Equal(t, august, *st.LastProcessedMonth)

	st.AdvanceLastProcessed(july, now)
	assert.Equal(t, august, *st.LastProcessedMonth, "the watermark never moves backwards")

	st.AdvanceLastProcessed(august, now)
	assert.Equal(t, august, *st.LastProcessedMonth)
}

func TestServiceStateJSONRoundTrip(t *testing.T) {
	st := NewServiceState()
	payload := json.RawMessage(`{"request":[{"contract_id":"contract-b","quantity":"42"}]}`)

	st.MarkSuccess(july, "contract-a", now)
	st.MarkError(august, "contract-b", []string{"server error"}, "HTTP_503", "retryable", payload, 3, now)
	st.AdvanceLastProcessed(july, now)

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var decoded ServiceState
	require.NoError(t, json.Unmarshal(data, &decoded))
	decoded.normalize()

	require.NotNil(t, decoded.LastProcessedMonth)
	assert.Equal(t, july, *decoded.LastProcessedMonth)
	assert.True(t, decoded.IsSucceeded(july, "contract-a"))

	rec := decoded.ErrorRecord(august, "contract-b")
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.RetryCount)
	// The failed request body survives byte for byte so it can be replayed.
	assert.Equal(t, []byte(payload), []byte(rec.Payload))
}

func TestNormalizeBackfillsNilMaps(t *testing.T) {
	var st ServiceState
	require.NoError(t, json.Unmarshal([]byte(`{}`), &st))
	st.normalize()

	// Reads and writes on a freshly decoded document must not panic.
	assert.False(t, st.IsProcessed(july, "contract-a"))
	st.MarkSuccess(july, "contract-a", now)
	assert.True(t, st.IsSucceeded(july, "contract-a"))
}
