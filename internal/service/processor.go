package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/meterbridge/meterbridge/internal/clazar"
	"github.com/meterbridge/meterbridge/internal/config"
	"github.com/meterbridge/meterbridge/internal/domain/state"
	"github.com/meterbridge/meterbridge/internal/domain/usage"
	ierr "github.com/meterbridge/meterbridge/internal/errors"
	"github.com/meterbridge/meterbridge/internal/logger"
	"github.com/meterbridge/meterbridge/internal/types"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Processor drives one ServiceKey's reconciliation: resolve due months,
// retry previously failed contracts, aggregate new usage, filter contracts
// already submitted, submit the rest, and persist outcomes as it goes.
// Months are processed strictly in order; a later month never starts
// before the earlier one completes.
type Processor struct {
	cfg        *config.Configuration
	key        types.ServiceKey
	client     clazar.Client
	states     state.Repository
	usage      usage.Reader
	scheduler  *Scheduler
	aggregator *Aggregator
	submitter  *Submitter
	logger     *logger.Logger

	clock func() time.Time
}

func NewProcessor(
	cfg *config.Configuration,
	client clazar.Client,
	states state.Repository,
	usageReader usage.Reader,
	log *logger.Logger,
) (*Processor, error) {
	scheduler, err := NewScheduler(cfg)
	if err != nil {
		return nil, err
	}
	aggregator, err := NewAggregator(cfg.Dimensions, cfg.Processor.BaseDimensions, log)
	if err != nil {
		return nil, err
	}

	return &Processor{
		cfg:        cfg,
		key:        cfg.ServiceKey(),
		client:     client,
		states:     states,
		usage:      usageReader,
		scheduler:  scheduler,
		aggregator: aggregator,
		submitter:  NewSubmitter(cfg, client, states, log),
		logger:     log,
		clock:      time.Now,
	}, nil
}

// Run executes a single processing pass: everything that is due now.
// Waiting between passes belongs to the caller.
func (p *Processor) Run(ctx context.Context) error {
	log := p.logger.With("run_id", uuid.New().String(), "service_key", p.key.String())
	log.Infow("starting processing run", "dry_run", p.cfg.Processor.DryRun)

	st, err := p.states.Load(ctx, p.key)
	if err != nil {
		return err
	}

	latestComplete, err := p.usage.LatestCompleteMonth(ctx, p.key)
	if err != nil {
		log.Warnw("could not determine export watermark", "error", err)
	}

	months := p.scheduler.MonthsDue(p.clock(), st.LastProcessedMonth, latestComplete)
	if len(months) == 0 {
		log.Infow("no months due for processing, caught up")
		return nil
	}
	log.Infow("months due for processing", "months", months)

	if err := p.client.Authenticate(ctx); err != nil {
		return err
	}

	for _, month := range months {
		complete, err := p.processMonth(ctx, log, st, month)
		if err != nil {
			return err
		}
		if !complete {
			log.Warnw("month left incomplete, stopping before later months", "month", month)
			return nil
		}

		if p.cfg.Processor.DryRun {
			log.Infow("dry run: not advancing last processed month", "month", month)
			continue
		}
		st.AdvanceLastProcessed(month, p.clock())
		if err := p.states.Save(ctx, p.key, st); err != nil {
			log.Errorw("failed to save state after month completion, will retry at next checkpoint",
				"month", month, "error", err)
		}
		log.Infow("month processed", "month", month)
	}

	log.Infow("processing run finished")
	return nil
}

// processMonth handles one calendar month. It reports whether the month
// completed: no contract left unresolved below the retry ceiling.
// Exhausted errors count as done; they persist for manual inspection only.
func (p *Processor) processMonth(ctx context.Context, log *zap.SugaredLogger,
	st *state.ServiceState, month types.Month) (bool, error) {

	log.Infow("processing month", "month", month)

	if err := p.retryErrorContracts(ctx, log, st, month); err != nil {
		return false, err
	}

	records, err := p.usage.MonthlyRecords(ctx, p.key, month)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		// Absence of data is not an error; the month may still advance.
		log.Infow("no usage records for month", "month", month)
		return st.MonthComplete(month, p.cfg.Processor.MaxRetries), nil
	}

	aggregated, failed := p.aggregator.Aggregate(records)
	for _, contractID := range sortedKeys(failed) {
		log.Errorw("formula evaluation failed, discarding contract month",
			"contract_id", contractID, "month", month, "error", failed[contractID])
	}
	if p.aggregator.HasFormulas() && len(aggregated) == 0 && len(failed) > 0 {
		// Every contract fell to formula errors: hold the month back so a
		// formula fix can reprocess it instead of silently dropping data.
		log.Errorw("all dimension transformations failed for month", "month", month)
		return false, nil
	}

	for _, contractID := range sortedKeys(aggregated) {
		if st.IsProcessed(month, contractID) {
			log.Infow("skipping already processed contract",
				"contract_id", contractID, "month", month)
			continue
		}

		payload, err := p.buildPayload(month, aggregated[contractID])
		if err != nil {
			return false, err
		}
		if _, err := p.submitter.Submit(ctx, p.key, st, month, contractID, payload, 0); err != nil {
			return false, err
		}
	}

	return st.MonthComplete(month, p.cfg.Processor.MaxRetries), nil
}

// retryErrorContracts replays the stored payloads of contracts that failed
// in prior runs and still have retry budget. The preserved payload is
// resubmitted byte for byte.
func (p *Processor) retryErrorContracts(ctx context.Context, log *zap.SugaredLogger,
	st *state.ServiceState, month types.Month) error {

	retryable := st.ErrorsForRetry(month, p.cfg.Processor.MaxRetries)
	if len(retryable) == 0 {
		return nil
	}
	log.Infow("retrying error contracts", "month", month, "count", len(retryable))

	sort.Slice(retryable, func(i, j int) bool {
		return retryable[i].ContractID < retryable[j].ContractID
	})
	for _, rec := range retryable {
		if len(rec.Payload) == 0 {
			log.Warnw("error contract has no stored payload, skipping",
				"contract_id", rec.ContractID, "month", month)
			continue
		}
		if _, err := p.submitter.Submit(ctx, p.key, st, month, rec.ContractID,
			rec.Payload, rec.RetryCount); err != nil {
			return err
		}
	}
	return nil
}

// buildPayload marshals one contract's metering request. The bytes become
// the payload of record: persisted verbatim on failure and replayed as-is.
func (p *Processor) buildPayload(month types.Month, agg *types.AggregatedUsage) (json.RawMessage, error) {
	startTime := month.Start().Format(timeLayout)
	endTime := month.End().Format(timeLayout)

	records := make([]clazar.MeteringRecord, 0, len(agg.Dimensions))
	for _, dimension := range sortedKeys(agg.Dimensions) {
		records = append(records, clazar.MeteringRecord{
			Cloud:      p.cfg.Clazar.Cloud,
			ContractID: agg.ContractID,
			Dimension:  dimension,
			StartTime:  startTime,
			EndTime:    endTime,
			Quantity:   agg.Dimensions[dimension].String(),
		})
	}

	payload, err := json.Marshal(clazar.MeteringRequest{Request: records})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("failed to serialize metering payload").
			Mark(ierr.ErrSystem)
	}
	return payload, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
