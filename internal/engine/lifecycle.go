package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
	"fleetguard/internal/storage"
)

// UpdateStatus applies an operator transition. It returns nil, nil when the
// incident does not exist and ErrNothingToUpdate when upd is empty. Moving to
// resolved stamps resolved_at and any other status clears it; resolved_by is
// stored as given. Reopening while another incident for the same vehicle and
// kind is active fails with storage.ErrConflict.
func (e *Engine) UpdateStatus(ctx context.Context, externalID string, upd model.StatusUpdate) (*model.ActiveAlert, error) {
	if upd.Empty() {
		return nil, ErrNothingToUpdate
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, &normalize.FieldError{Field: "status", Reason: fmt.Sprintf("unknown value %q", *upd.Status)}
	}

	current, err := e.store.GetIncidentByExternalID(ctx, externalID)
	if err != nil || current == nil {
		return nil, err
	}
	unlock := e.locks.Lock(incidentKey(current.VehicleVIN, current.Kind))
	defer unlock()

	var updated *model.ActiveAlert
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		found, err := tx.UpdateIncidentStatus(ctx, externalID, upd, e.now())
		if err != nil || !found {
			return err
		}
		updated, err = tx.GetIncidentByExternalID(ctx, externalID)
		return err
	})
	if err != nil || updated == nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("alert_sender_id", externalID),
		zap.String("status", string(updated.Status)),
	}
	if upd.ResolvedBy != nil {
		fields = append(fields, zap.String("resolved_by", *upd.ResolvedBy))
	}
	if upd.Status != nil {
		e.metrics.StatusChanged(string(*upd.Status))
	}
	e.logger.Info("incident status updated", fields...)
	return updated, nil
}

func (e *Engine) Resolve(ctx context.Context, externalID, actor string) (*model.ActiveAlert, error) {
	status := model.StatusResolved
	return e.UpdateStatus(ctx, externalID, model.StatusUpdate{Status: &status, ResolvedBy: &actor})
}

// Acknowledge records the actor in resolved_by but leaves resolved_at unset.
func (e *Engine) Acknowledge(ctx context.Context, externalID, actor string) (*model.ActiveAlert, error) {
	status := model.StatusAcknowledged
	return e.UpdateStatus(ctx, externalID, model.StatusUpdate{Status: &status, ResolvedBy: &actor})
}

// History returns the incident and its linked raw alerts, newest first.
func (e *Engine) History(ctx context.Context, externalID string) (*model.AlertHistory, error) {
	incident, err := e.store.GetIncidentByExternalID(ctx, externalID)
	if err != nil || incident == nil {
		return nil, err
	}
	raws, err := e.store.IncidentRawAlerts(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	return &model.AlertHistory{ActiveAlert: *incident, RawAlerts: raws}, nil
}
