package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/meterbridge/meterbridge/internal/domain/usage"
	ierr "github.com/meterbridge/meterbridge/internal/errors"
	"github.com/meterbridge/meterbridge/internal/logger"
	"github.com/meterbridge/meterbridge/internal/storage"
	"github.com/meterbridge/meterbridge/internal/types"
)

const (
	usagePathRoot      = "omnistrate-metering"
	exportWatermarkKey = "omnistrate-metering/last_success_export.json"
	exportTimeLayout   = "2006-01-02T15:04:05Z"
)

// usageReader reads monthly usage export files from object storage.
type usageReader struct {
	store  storage.ObjectStore
	logger *logger.Logger
}

func NewUsageReader(store storage.ObjectStore, log *logger.Logger) usage.Reader {
	return &usageReader{store: store, logger: log}
}

// fileEntry is the exporter's on-disk record shape: one dimension value per
// line item.
type fileEntry struct {
	ExternalPayerID string      `json:"externalPayerId"`
	Dimension       string      `json:"dimension"`
	Value           json.Number `json:"value"`
	Timestamp       time.Time   `json:"timestamp"`
}

// MonthPrefix returns the object prefix holding a month's usage files.
func MonthPrefix(key types.ServiceKey, month types.Month) string {
	return fmt.Sprintf("%s/%s/%s/%s/%04d/%02d/",
		usagePathRoot, key.Service, key.Environment, key.Plan, month.Year, int(month.Month))
}

func (r *usageReader) MonthlyRecords(ctx context.Context, key types.ServiceKey, month types.Month) ([]*usage.Record, error) {
	prefix := MonthPrefix(key, month)
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	files := lo.Filter(keys, func(k string, _ int) bool {
		return strings.HasSuffix(k, ".json")
	})
	r.logger.Infow("found usage files", "prefix", prefix, "count", len(files))

	var records []*usage.Record
	for _, file := range files {
		body, err := r.store.Get(ctx, file)
		if err != nil {
			return nil, err
		}

		var entries []fileEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, ierr.WithError(err).
				WithHintf("usage file %s is not valid JSON", file).
				Mark(ierr.ErrValidation)
		}

		for _, entry := range entries {
			rec, ok := r.toRecord(entry, file)
			if ok {
				records = append(records, rec)
			}
		}
	}

	r.logger.Infow("read usage records", "month", month, "records", len(records))
	return records, nil
}

func (r *usageReader) toRecord(entry fileEntry, file string) (*usage.Record, bool) {
	if entry.ExternalPayerID == "" || entry.Dimension == "" {
		r.logger.Warnw("skipping usage entry with missing data",
			"file", file, "payer", entry.ExternalPayerID, "dimension", entry.Dimension)
		return nil, false
	}

	value, err := decimal.NewFromString(entry.Value.String())
	if err != nil || value.IsNegative() {
		r.logger.Warnw("skipping usage entry with invalid value",
			"file", file, "payer", entry.ExternalPayerID,
			"dimension", entry.Dimension, "value", entry.Value.String())
		return nil, false
	}

	return &usage.Record{
		ContractID: entry.ExternalPayerID,
		Timestamp:  entry.Timestamp,
		Dimensions: map[string]decimal.Decimal{entry.Dimension: value},
	}, true
}

// exportState is the exporter's watermark document, keyed by service key.
type exportState struct {
	LastProcessedTo string `json:"last_processed_to"`
}

// LatestCompleteMonth derives the newest month with complete usage data
// from the exporter's watermark. A watermark mid-month means only the prior
// month is complete. A missing or unreadable watermark yields nil: the
// scheduler then applies only its own never-current-month bound.
func (r *usageReader) LatestCompleteMonth(ctx context.Context, key types.ServiceKey) (*types.Month, error) {
	body, err := r.store.Get(ctx, exportWatermarkKey)
	if err != nil {
		if ierr.IsNotFound(err) {
			r.logger.Warnw("export watermark not found", "key", exportWatermarkKey)
			return nil, nil
		}
		return nil, err
	}

	doc := make(map[string]exportState)
	if err := json.Unmarshal(body, &doc); err != nil {
		r.logger.Errorw("export watermark is not valid JSON", "key", exportWatermarkKey, "error", err)
		return nil, nil
	}

	entry, ok := doc[key.String()]
	if !ok || entry.LastProcessedTo == "" {
		return nil, nil
	}

	exportedTo, err := time.Parse(exportTimeLayout, entry.LastProcessedTo)
	if err != nil {
		r.logger.Errorw("export watermark has invalid timestamp",
			"value", entry.LastProcessedTo, "error", err)
		return nil, nil
	}

	month := types.MonthOf(exportedTo)
	if exportedTo.Day() != month.LastDay() || exportedTo.Minute() != 59 {
		month = month.Prev()
	}
	return &month, nil
}
