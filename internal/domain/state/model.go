package state

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"github.com/meterbridge/meterbridge/internal/types"
)

// ServiceState is the durable processing record for one ServiceKey. It is
// the single source of truth for duplicate-submission prevention: a
// contract-month is submitted at most once unless its prior attempt is
// recorded as an error still within the retry budget.
type ServiceState struct {
	// LastProcessedMonth is the most recent month fully completed, meaning
	// every known contract either succeeded or exhausted its retries. It
	// only advances forward.
	LastProcessedMonth *types.Month `json:"last_processed_month,omitempty"`

	// SuccessContracts maps month -> contract ids that succeeded.
	SuccessContracts map[types.Month][]string `json:"success_contracts,omitempty"`

	// ErrorContracts maps month -> failed submissions with retry metadata.
	ErrorContracts map[types.Month][]*ErrorRecord `json:"error_contracts,omitempty"`

	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// ErrorRecord captures one contract's failed submission for a month. The
// payload preserves the exact request body that failed, verbatim, so it can
// be replayed manually or on the next run.
type ErrorRecord struct {
	ContractID    string          `json:"contract_id"`
	Errors        []string        `json:"errors"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
	RetryCount    int             `json:"retry_count"`
	LastRetryTime *time.Time      `json:"last_retry_time,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewServiceState returns an empty state for a key with no history.
func NewServiceState() *ServiceState {
	return &ServiceState{
		SuccessContracts: make(map[types.Month][]string),
		ErrorContracts:   make(map[types.Month][]*ErrorRecord),
	}
}

// normalize backfills nil maps after JSON decoding.
func (s *ServiceState) normalize() {
	if s.SuccessContracts == nil {
		s.SuccessContracts = make(map[types.Month][]string)
	}
	if s.ErrorContracts == nil {
		s.ErrorContracts = make(map[types.Month][]*ErrorRecord)
	}
}

// IsProcessed reports whether the contract-month is already recorded,
// either as a success or as an error entry.
func (s *ServiceState) IsProcessed(month types.Month, contractID string) bool {
	if s.IsSucceeded(month, contractID) {
		return true
	}
	return s.ErrorRecord(month, contractID) != nil
}

// IsSucceeded reports whether the contract succeeded for the month.
func (s *ServiceState) IsSucceeded(month types.Month, contractID string) bool {
	return lo.Contains(s.SuccessContracts[month], contractID)
}

// ErrorRecord returns the contract's error entry for the month, if any.
func (s *ServiceState) ErrorRecord(month types.Month, contractID string) *ErrorRecord {
	for _, rec := range s.ErrorContracts[month] {
		if rec.ContractID == contractID {
			return rec
		}
	}
	return nil
}

// MarkSuccess records the contract as succeeded for the month and removes
// any error entry, so a contract is never in both sets.
func (s *ServiceState) MarkSuccess(month types.Month, contractID string, now time.Time) {
	s.normalize()
	s.RemoveError(month, contractID)
	if !s.IsSucceeded(month, contractID) {
		s.SuccessContracts[month] = append(s.SuccessContracts[month], contractID)
	}
	s.LastUpdated = now.UTC()
}

// MarkError records or updates the contract's error entry for the month.
// Existing entries accumulate error messages and take the latest code,
// message and payload; retryCount is the cumulative number of retries
// consumed so far.
func (s *ServiceState) MarkError(month types.Month, contractID string, errs []string,
	code, message string, payload json.RawMessage, retryCount int, now time.Time) {
	s.normalize()

	ts := now.UTC()
	if existing := s.ErrorRecord(month, contractID); existing != nil {
		existing.Errors = append(existing.Errors, errs...)
		if code != "" {
			existing.Code = code
		}
		if message != "" {
			existing.Message = message
		}
		if payload != nil {
			existing.Payload = payload
		}
		existing.RetryCount = retryCount
		existing.LastRetryTime = &ts
	} else {
		s.ErrorContracts[month] = append(s.ErrorContracts[month], &ErrorRecord{
			ContractID:    contractID,
			Errors:        errs,
			Code:          code,
			Message:       message,
			RetryCount:    retryCount,
			LastRetryTime: &ts,
			Payload:       payload,
		})
	}
	s.LastUpdated = ts
}

// RemoveError drops the contract's error entry for the month, cleaning up
// the month bucket when it empties.
func (s *ServiceState) RemoveError(month types.Month, contractID string) {
	s.normalize()
	records := lo.Reject(s.ErrorContracts[month], func(rec *ErrorRecord, _ int) bool {
		return rec.ContractID == contractID
	})
	if len(records) == 0 {
		delete(s.ErrorContracts, month)
	} else {
		s.ErrorContracts[month] = records
	}
}

// ErrorsForRetry returns the month's error entries that still have retry
// budget left.
func (s *ServiceState) ErrorsForRetry(month types.Month, maxRetries int) []*ErrorRecord {
	return lo.Filter(s.ErrorContracts[month], func(rec *ErrorRecord, _ int) bool {
		return rec.RetryCount < maxRetries
	})
}

// MonthComplete reports whether no contract for the month remains in an
// unresolved state below the retry ceiling. Exhausted errors count as done
// for scheduling purposes even though they persist for manual inspection.
func (s *ServiceState) MonthComplete(month types.Month, maxRetries int) bool {
	return len(s.ErrorsForRetry(month, maxRetries)) == 0
}

// AdvanceLastProcessed moves the completion watermark forward. Moves
// backwards are ignored: the watermark is monotonic.
func (s *ServiceState) AdvanceLastProcessed(month types.Month, now time.Time) {
	if s.LastProcessedMonth != nil && !s.LastProcessedMonth.Before(month) {
		return
	}
	m := month
	s.LastProcessedMonth = &m
	s.LastUpdated = now.UTC()
}
