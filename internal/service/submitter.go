package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meterbridge/meterbridge/internal/clazar"
	"github.com/meterbridge/meterbridge/internal/config"
	"github.com/meterbridge/meterbridge/internal/domain/state"
	"github.com/meterbridge/meterbridge/internal/httpclient"
	"github.com/meterbridge/meterbridge/internal/logger"
	"github.com/meterbridge/meterbridge/internal/types"
)

// Submitter submits one contract's usage payload to the billing API with
// bounded exponential backoff, recording every attempt's outcome into the
// state repository immediately so a crash loses at most one contract's
// result.
type Submitter struct {
	client clazar.Client
	states state.Repository
	logger *logger.Logger

	maxRetries int
	dryRun     bool

	// wait and clock are injection points for tests.
	wait  func(ctx context.Context, d time.Duration) error
	clock func() time.Time
}

func NewSubmitter(cfg *config.Configuration, client clazar.Client, states state.Repository, log *logger.Logger) *Submitter {
	return &Submitter{
		client:     client,
		states:     states,
		logger:     log,
		maxRetries: cfg.Processor.MaxRetries,
		dryRun:     cfg.Processor.DryRun,
		wait:       sleepContext,
		clock:      time.Now,
	}
}

// attemptOutcome classifies a single submission attempt.
type attemptOutcome struct {
	success   bool
	retryable bool
	code      string
	message   string
	errs      []string
}

// Submit delivers the payload for one contract-month. retryCount is the
// cumulative number of retries the contract has already consumed in prior
// runs; the retry budget continues from there rather than resetting. The
// delay before retry n is 2^n seconds. Returns whether the contract ended
// in success; a non-nil error means the run was cancelled.
func (s *Submitter) Submit(ctx context.Context, key types.ServiceKey, st *state.ServiceState,
	month types.Month, contractID string, payload json.RawMessage, retryCount int) (bool, error) {

	bo := s.newBackoff(retryCount)
	retries := retryCount
	initialAttempt := retryCount == 0

	for {
		if !initialAttempt {
			if retries >= s.maxRetries {
				s.logger.Errorw("contract exhausted retry budget",
					"contract_id", contractID, "month", month, "retry_count", retries)
				return false, nil
			}
			retries++
			delay := bo.NextBackOff()
			s.logger.Infow("retrying contract submission",
				"contract_id", contractID, "month", month,
				"retry", retries, "max_retries", s.maxRetries, "delay", delay)
			if err := s.wait(ctx, delay); err != nil {
				return false, err
			}
		} else if err := ctx.Err(); err != nil {
			return false, err
		}
		initialAttempt = false

		// Once an attempt has been made its outcome must be recorded before
		// cancellation is honored: an accepted submission that leaves no
		// trace would be resubmitted by the next run.
		outcome := s.attempt(ctx, contractID, payload)

		if outcome.success {
			if s.dryRun {
				s.logger.Infow("dry run: not recording simulated success",
					"contract_id", contractID, "month", month)
				return true, nil
			}
			st.MarkSuccess(month, contractID, s.clock())
			s.checkpoint(context.WithoutCancel(ctx), key, st)
			s.logger.Infow("submitted contract usage",
				"contract_id", contractID, "month", month)
			return true, nil
		}

		recordedRetries := retries
		if !outcome.retryable {
			// A semantic rejection will not heal on retry: burn the budget
			// so the next run does not replay it automatically. The record
			// stays in the state document for manual replay.
			recordedRetries = s.maxRetries
			retries = s.maxRetries
		}

		if !s.dryRun {
			st.MarkError(month, contractID, outcome.errs, outcome.code, outcome.message,
				payload, recordedRetries, s.clock())
			s.checkpoint(context.WithoutCancel(ctx), key, st)
		}

		s.logger.Errorw("contract submission failed",
			"contract_id", contractID, "month", month,
			"code", outcome.code, "message", outcome.message,
			"retryable", outcome.retryable, "retry_count", recordedRetries)

		if !outcome.retryable {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
}

// attempt performs one submission and classifies the result. Transport
// failures, 5xx and 429 responses are retryable; other rejections are not.
func (s *Submitter) attempt(ctx context.Context, contractID string, payload json.RawMessage) attemptOutcome {
	resp, err := s.client.SubmitPayload(ctx, payload)
	if err != nil {
		if httpErr, ok := httpclient.IsHTTPError(err); ok {
			retryable := httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
			return attemptOutcome{
				retryable: retryable,
				code:      "API_ERROR",
				message:   httpErr.Error(),
				errs:      []string{httpErr.Error()},
			}
		}
		return attemptOutcome{
			retryable: true,
			code:      "NETWORK_ERROR",
			message:   err.Error(),
			errs:      []string{err.Error()},
		}
	}

	check := resp.Check()
	for _, warning := range check.Warnings {
		s.logger.Warnw("billing api returned warning",
			"contract_id", contractID, "status", warning.Status, "message", warning.Message)
	}

	if check.HasErrors {
		return attemptOutcome{
			retryable: false,
			code:      check.Code,
			message:   check.Message,
			errs:      check.Errors,
		}
	}
	return attemptOutcome{success: true}
}

// checkpoint persists the state document. Failures are logged and left for
// the next checkpoint; in-memory state keeps every recorded outcome, so
// nothing is lost within the run.
func (s *Submitter) checkpoint(ctx context.Context, key types.ServiceKey, st *state.ServiceState) {
	if err := s.states.Save(ctx, key, st); err != nil {
		s.logger.Errorw("failed to save state document, will retry at next checkpoint",
			"error", err)
	}
}

// newBackoff builds the 2^n-second retry schedule, skipped ahead past the
// retries already consumed in prior runs.
func (s *Submitter) newBackoff(consumed int) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 24 * time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()
	for i := 0; i < consumed; i++ {
		bo.NextBackOff()
	}
	return bo
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
