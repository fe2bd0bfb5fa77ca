package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/logging"
	"fleetguard/internal/metrics"
	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
	"fleetguard/internal/storage"
)

// Engine ingests telemetry, emits raw alerts and folds them into incidents.
// It is safe for concurrent use.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	state   cache.StateCache
	store   storage.Store
	locks   *KeyLocks
	now     func() time.Time
}

// SampleResult is what one stored sample produced.
type SampleResult struct {
	Sample    model.TelemetrySample `json:"telemetry"`
	RawAlerts []model.RawAlert      `json:"alerts"`
	Incidents []model.ActiveAlert   `json:"active_alerts"`
}

type BatchFailure struct {
	Index      int    `json:"index"`
	VehicleVIN string `json:"vehicle_vin"`
	Error      string `json:"error"`
	err        error
}

// Cause returns the underlying error for errors.Is checks.
func (f BatchFailure) Cause() error { return f.err }

type BatchResult struct {
	Processed []SampleResult `json:"processed"`
	Failed    []BatchFailure `json:"failed"`
}

func NewEngine(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, state cache.StateCache, store storage.Store) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if state == nil {
		state = cache.Nop{}
	}
	return &Engine{
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: collector,
		state:   state,
		store:   store,
		locks:   NewKeyLocks(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// ProcessSample validates and stores one sample, then emits and aggregates its
// raw alerts in the same transaction.
func (e *Engine) ProcessSample(ctx context.Context, sample model.TelemetrySample) (SampleResult, error) {
	started := time.Now()
	sample, err := normalize.Telemetry(sample, e.now())
	if err != nil {
		e.metrics.IngestFailed("validate")
		return SampleResult{}, err
	}

	emitted := Evaluate(sample)
	keys := make([]string, 0, len(emitted))
	for i := range emitted {
		emitted[i].AlertID = uuid.NewString()
		keys = append(keys, incidentKey(emitted[i].VehicleVIN, emitted[i].Kind))
	}
	unlock := e.locks.Lock(keys...)
	defer unlock()

	var (
		result   SampleResult
		fleetID  string
		outcomes []foldOutcome
	)
	err = e.withRetry(ctx, func(tx storage.Tx) error {
		result = SampleResult{}
		outcomes = outcomes[:0]
		vehicle, err := tx.GetVehicle(ctx, sample.VehicleVIN)
		if err != nil {
			return err
		}
		if vehicle == nil {
			return fmt.Errorf("vehicle %s: %w", sample.VehicleVIN, storage.ErrNotFound)
		}
		fleetID = vehicle.FleetID
		if result.Sample, err = tx.InsertTelemetry(ctx, sample); err != nil {
			return fmt.Errorf("store telemetry: %w", err)
		}
		for _, raw := range emitted {
			stored, err := tx.InsertRawAlert(ctx, raw)
			if err != nil {
				return fmt.Errorf("store raw alert: %w", err)
			}
			incident, outcome, err := e.fold(ctx, tx, stored)
			if err != nil {
				return err
			}
			result.RawAlerts = append(result.RawAlerts, stored)
			result.Incidents = append(result.Incidents, incident)
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.metrics.IngestFailed("vehicle")
		} else {
			e.metrics.IngestFailed("store")
		}
		return SampleResult{}, err
	}
	if result.RawAlerts == nil {
		result.RawAlerts = []model.RawAlert{}
		result.Incidents = []model.ActiveAlert{}
	}

	for i, raw := range result.RawAlerts {
		e.metrics.RawAlertEmitted(string(raw.Kind), string(raw.Severity))
		e.recordFold(result.Incidents[i], outcomes[i])
	}
	if err := e.state.PutLatest(ctx, result.Sample, fleetID); err != nil {
		e.metrics.IngestFailed("cache")
		e.logger.Warn("latest state cache write failed", zap.String("vehicle_vin", sample.VehicleVIN), zap.Error(err))
	}
	e.metrics.SampleIngested(time.Since(started))
	return result, nil
}

// ProcessBatch processes samples independently; one failure does not stop the rest.
func (e *Engine) ProcessBatch(ctx context.Context, samples []model.TelemetrySample) BatchResult {
	out := BatchResult{Processed: []SampleResult{}, Failed: []BatchFailure{}}
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			out.Failed = append(out.Failed, BatchFailure{Index: i, VehicleVIN: s.VehicleVIN, Error: err.Error(), err: err})
			continue
		}
		res, err := e.ProcessSample(ctx, s)
		if err != nil {
			e.logger.Warn("batch item failed",
				zap.Int("index", i),
				zap.String("vehicle_vin", s.VehicleVIN),
				zap.Error(err),
			)
			out.Failed = append(out.Failed, BatchFailure{Index: i, VehicleVIN: s.VehicleVIN, Error: err.Error(), err: err})
			continue
		}
		out.Processed = append(out.Processed, res)
	}
	return out
}

// withRetry reruns fn in a fresh transaction when another writer opened the
// same incident first.
func (e *Engine) withRetry(ctx context.Context, fn func(tx storage.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAggregateAttempts; attempt++ {
		err = e.store.InTx(ctx, fn)
		if !errors.Is(err, errIncidentRace) {
			return err
		}
		e.metrics.ConflictRetried()
		e.logger.Debug("aggregation conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}
