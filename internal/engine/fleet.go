package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fleetguard/internal/alerts"
	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
)

func (e *Engine) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	v, err := normalize.Vehicle(v)
	if err != nil {
		return model.Vehicle{}, err
	}
	v.CreatedAt = e.now()
	created, err := e.store.CreateVehicle(ctx, v)
	if err != nil {
		return model.Vehicle{}, err
	}
	e.logger.Info("vehicle registered", zap.String("vin", created.VIN), zap.String("fleet_id", created.FleetID))
	return created, nil
}

func (e *Engine) GetVehicle(ctx context.Context, vin string) (*model.Vehicle, error) {
	return e.store.GetVehicle(ctx, vin)
}

// ListVehicles lists every vehicle when fleetID is empty.
func (e *Engine) ListVehicles(ctx context.Context, fleetID string) ([]model.Vehicle, error) {
	return e.store.ListVehicles(ctx, fleetID)
}

// DeleteVehicle removes the vehicle; storage cascades to everything recorded for it.
func (e *Engine) DeleteVehicle(ctx context.Context, vin string) (bool, error) {
	deleted, err := e.store.DeleteVehicle(ctx, vin)
	if err != nil || !deleted {
		return deleted, err
	}
	if err := e.state.Evict(ctx, vin); err != nil {
		e.logger.Warn("latest state cache evict failed", zap.String("vehicle_vin", vin), zap.Error(err))
	}
	e.logger.Info("vehicle deleted", zap.String("vin", vin))
	return true, nil
}

// LatestTelemetry prefers the state cache and falls back to the store.
func (e *Engine) LatestTelemetry(ctx context.Context, vin string) (*model.TelemetrySample, error) {
	cached, err := e.state.Latest(ctx, vin)
	if err != nil {
		e.logger.Warn("latest state cache read failed", zap.String("vehicle_vin", vin), zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}
	return e.store.LatestTelemetry(ctx, vin)
}

// TelemetryHistory returns up to limit samples, newest first. A non-positive
// limit selects the configured default.
func (e *Engine) TelemetryHistory(ctx context.Context, vin string, limit int) ([]model.TelemetrySample, error) {
	if limit <= 0 {
		limit = e.cfg.Telemetry.DefaultHistoryLimit
	}
	if limit > e.cfg.Telemetry.MaxHistoryLimit {
		return nil, &normalize.FieldError{Field: "limit", Reason: fmt.Sprintf("must be at most %d", e.cfg.Telemetry.MaxHistoryLimit)}
	}
	return e.store.TelemetryHistory(ctx, vin, limit)
}

func (e *Engine) RawAlerts(ctx context.Context, vin string) ([]model.RawAlert, error) {
	return e.store.ListRawAlerts(ctx, vin)
}

func (e *Engine) RawAlert(ctx context.Context, alertID string) (*model.RawAlert, error) {
	return e.store.GetRawAlert(ctx, alertID)
}

// Dashboard is derived from a single incident listing.
func (e *Engine) Dashboard(ctx context.Context) (model.DashboardSummary, error) {
	list, err := e.List(ctx, nil)
	if err != nil {
		return model.DashboardSummary{}, err
	}
	return alerts.Summarize(list), nil
}

func (e *Engine) Analytics(ctx context.Context) (model.FleetAnalytics, error) {
	return e.store.Analytics(ctx, e.now().Add(-e.cfg.Analytics.Window))
}
