package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
	"github.com/meterbridge/meterbridge/internal/logger"
	"github.com/meterbridge/meterbridge/internal/testutil"
	"github.com/meterbridge/meterbridge/internal/types"
)

var (
	testKey  = types.NewServiceKey("Postgres", "PROD", "pt-123")
	otherKey = types.NewServiceKey("Redis", "PROD", "pt-456")
	july     = types.Month{Year: 2025, Month: time.July}
	testNow  = time.Date(2025, 9, 15, 10, 0, 0, 0, time.UTC)
)

func nopLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func TestStatePath(t *testing.T) {
	assert.Equal(t, "clazar/Postgres-PROD-pt-123-export_state.json", StatePath(testKey))
}

func TestLoadMissingDocumentStartsEmpty(t *testing.T) {
	store := testutil.NewInMemoryObjectStore()
	repo := NewStateRepository(store, testKey, nopLogger())

	st, err := repo.Load(context.Background(), testKey)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Nil(t, st.LastProcessedMonth)
	assert.False(t, st.IsProcessed(july, "contract-a"))
}

func TestSaveAndReload(t *testing.T) {
	store := testutil.NewInMemoryObjectStore()
	repo := NewStateRepository(store, testKey, nopLogger())
	ctx := context.Background()

	st, err := repo.Load(ctx, testKey)
	require.NoError(t, err)

	payload := json.RawMessage(`{"request":[{"contract_id":"contract-b","quantity":"42"}]}`)
	st.MarkSuccess(july, "contract-a", testNow)
	st.MarkError(july, "contract-b", []string{"server error"}, "HTTP_503", "retryable", payload, 2, testNow)
	st.AdvanceLastProcessed(july, testNow)
	require.NoError(t, repo.Save(ctx, testKey, st))

	// A cold repository sees exactly what was written.
	reloaded, err := NewStateRepository(store, testKey, nopLogger()).Load(ctx, testKey)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastProcessedMonth)
	assert.Equal(t, july, *reloaded.LastProcessedMonth)
	assert.True(t, reloaded.IsSucceeded(july, "contract-a"))

	rec := reloaded.ErrorRecord(july, "contract-b")
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, []byte(payload), []byte(rec.Payload), "the failed payload survives byte for byte")
}

func TestSavePreservesOtherServiceKeys(t *testing.T) {
	store := testutil.NewInMemoryObjectStore()
	ctx := context.Background()

	// Both keys share the same document path only if they share the same
	// triple; here they do not, so each key owns its own document and a
	// save for one never disturbs the other.
	repoA := NewStateRepository(store, testKey, nopLogger())
	repoB := NewStateRepository(store, otherKey, nopLogger())

	stA, err := repoA.Load(ctx, testKey)
	require.NoError(t, err)
	stA.MarkSuccess(july, "contract-a", testNow)
	require.NoError(t, repoA.Save(ctx, testKey, stA))

	stB, err := repoB.Load(ctx, otherKey)
	require.NoError(t, err)
	stB.MarkSuccess(july, "contract-z", testNow)
	require.NoError(t, repoB.Save(ctx, otherKey, stB))

	reloadedA, err := NewStateRepository(store, testKey, nopLogger()).Load(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, reloadedA.IsSucceeded(july, "contract-a"))
	assert.False(t, reloadedA.IsSucceeded(july, "contract-z"))
}

func TestLoadFailureIsFatal(t *testing.T) {
	store := testutil.NewInMemoryObjectStore()
	store.FailGet[StatePath(testKey)] = fmt.Errorf("access denied")
	repo := NewStateRepository(store, testKey, nopLogger())

	_, err := repo.Load(context.Background(), testKey)
	require.Error(t, err)
	assert.True(t, ierr.IsStateStore(err))
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	store := testutil.NewInMemoryObjectStore()
	store.Set(StatePath(testKey), []byte("{not json"))
	repo := NewStateRepository(store, testKey, nopLogger())

	_, err := repo.Load(context.Background(), testKey)
	require.Error(t, err)
	assert.True(t, ierr.IsStateStore(err), "a corrupt document must not be mistaken for a fresh start")
}

func TestValidateAccess(t *testing.T) {
	store := testutil.NewInMemoryObjectStore()
	repo := NewStateRepository(store, testKey, nopLogger())
	ctx := context.Background()

	require.NoError(t, repo.ValidateAccess(ctx, testKey))
	assert.Equal(t, 1, store.PutCount(), "the probe writes the document back")

	store.FailPut[StatePath(testKey)] = fmt.Errorf("access denied")
	assert.Error(t, repo.ValidateAccess(ctx, testKey))
}

func TestValidateAccessDoesNotClobberExistingState(t *testing.T) {
	store := testutil.NewInMemoryObjectStore()
	ctx := context.Background()

	repo := NewStateRepository(store, testKey, nopLogger())
	st, err := repo.Load(ctx, testKey)
	require.NoError(t, err)
	st.MarkSuccess(july, "contract-a", testNow)
	require.NoError(t, repo.Save(ctx, testKey, st))

	require.NoError(t, NewStateRepository(store, testKey, nopLogger()).ValidateAccess(ctx, testKey))

	reloaded, err := NewStateRepository(store, testKey, nopLogger()).Load(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, reloaded.IsSucceeded(july, "contract-a"))
}
