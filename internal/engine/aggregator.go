package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
	"fleetguard/internal/storage"
)

type foldOutcome int

const (
	foldOpened foldOutcome = iota + 1
	foldMerged
	// the raw alert was already linked; nothing changed
	foldExisting
)

// Ingest folds an already persisted raw alert into its incident. Ingesting
// the same raw alert again returns the incident it is linked to unchanged.
func (e *Engine) Ingest(ctx context.Context, raw model.RawAlert) (*model.ActiveAlert, error) {
	if raw.ID == 0 {
		stored, err := e.store.GetRawAlert(ctx, raw.AlertID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("raw alert %q: %w", raw.AlertID, storage.ErrNotFound)
		}
		raw = *stored
	}
	unlock := e.locks.Lock(incidentKey(raw.VehicleVIN, raw.Kind))
	defer unlock()

	var (
		incident model.ActiveAlert
		outcome  foldOutcome
	)
	err := e.withRetry(ctx, func(tx storage.Tx) error {
		var err error
		incident, outcome, err = e.fold(ctx, tx, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.recordFold(incident, outcome)
	return &incident, nil
}

// Raise persists a raw alert and folds it in one transaction.
func (e *Engine) Raise(ctx context.Context, raw model.RawAlert) (model.RawAlert, *model.ActiveAlert, error) {
	if !raw.Kind.Valid() {
		return model.RawAlert{}, nil, &normalize.FieldError{Field: "alert_type", Reason: fmt.Sprintf("unknown value %q", raw.Kind)}
	}
	if raw.Severity.Rank() == 0 {
		return model.RawAlert{}, nil, &normalize.FieldError{Field: "severity", Reason: fmt.Sprintf("unknown value %q", raw.Severity)}
	}
	if raw.VehicleVIN == "" {
		return model.RawAlert{}, nil, &normalize.FieldError{Field: "vehicle_vin", Reason: "required"}
	}
	if raw.AlertID == "" {
		raw.AlertID = uuid.NewString()
	}
	if raw.Timestamp.IsZero() {
		raw.Timestamp = e.now()
	}
	raw.Timestamp = raw.Timestamp.UTC()

	unlock := e.locks.Lock(incidentKey(raw.VehicleVIN, raw.Kind))
	defer unlock()

	var (
		stored   model.RawAlert
		incident model.ActiveAlert
		outcome  foldOutcome
	)
	err := e.withRetry(ctx, func(tx storage.Tx) error {
		vehicle, err := tx.GetVehicle(ctx, raw.VehicleVIN)
		if err != nil {
			return err
		}
		if vehicle == nil {
			return fmt.Errorf("vehicle %s: %w", raw.VehicleVIN, storage.ErrNotFound)
		}
		if stored, err = tx.InsertRawAlert(ctx, raw); err != nil {
			return err
		}
		incident, outcome, err = e.fold(ctx, tx, stored)
		return err
	})
	if err != nil {
		return model.RawAlert{}, nil, err
	}
	e.metrics.RawAlertEmitted(string(stored.Kind), string(stored.Severity))
	e.recordFold(incident, outcome)
	return stored, &incident, nil
}

// fold finds the open incident for the raw alert's key and merges into it, or
// opens a new one. The caller holds the key lock and owns tx.
func (e *Engine) fold(ctx context.Context, tx storage.Tx, raw model.RawAlert) (model.ActiveAlert, foldOutcome, error) {
	owner, err := tx.IncidentForRawAlert(ctx, raw.ID)
	if err != nil {
		return model.ActiveAlert{}, 0, err
	}
	if owner != nil {
		return *owner, foldExisting, nil
	}

	open, err := tx.FindOpenIncident(ctx, raw.VehicleVIN, raw.Kind)
	if err != nil {
		return model.ActiveAlert{}, 0, err
	}
	var (
		id      int64
		outcome foldOutcome
	)
	if open != nil {
		severity := Escalate(open.Severity, raw.Severity)
		if err := tx.MergeIncident(ctx, open.ID, raw.Timestamp, severity); err != nil {
			return model.ActiveAlert{}, 0, fmt.Errorf("merge incident: %w", err)
		}
		id, outcome = open.ID, foldMerged
	} else {
		title, description := incidentText(raw.Kind, raw.VehicleVIN, raw.Message)
		created, err := tx.InsertIncident(ctx, model.ActiveAlert{
			ExternalID:      uuid.NewString(),
			VehicleVIN:      raw.VehicleVIN,
			Kind:            raw.Kind,
			Severity:        raw.Severity,
			Title:           title,
			Description:     description,
			Status:          model.StatusActive,
			FirstOccurrence: raw.Timestamp,
			LastOccurrence:  raw.Timestamp,
			OccurrenceCount: 1,
			CreatedAt:       e.now(),
		})
		if errors.Is(err, storage.ErrConflict) {
			return model.ActiveAlert{}, 0, fmt.Errorf("%w: %w", errIncidentRace, err)
		}
		if err != nil {
			return model.ActiveAlert{}, 0, fmt.Errorf("open incident: %w", err)
		}
		id, outcome = created.ID, foldOpened
	}

	if _, err := tx.LinkRawAlert(ctx, id, raw.ID); err != nil {
		return model.ActiveAlert{}, 0, fmt.Errorf("link raw alert: %w", err)
	}
	incident, err := tx.GetIncident(ctx, id)
	if err != nil {
		return model.ActiveAlert{}, 0, err
	}
	if incident == nil {
		return model.ActiveAlert{}, 0, fmt.Errorf("incident %d: %w", id, storage.ErrNotFound)
	}
	return *incident, outcome, nil
}

func (e *Engine) recordFold(incident model.ActiveAlert, outcome foldOutcome) {
	switch outcome {
	case foldOpened:
		e.metrics.IncidentOpened(string(incident.Kind))
		e.logger.Info("incident opened",
			zap.String("alert_sender_id", incident.ExternalID),
			zap.String("vehicle_vin", incident.VehicleVIN),
			zap.String("alert_type", string(incident.Kind)),
			zap.String("severity", string(incident.Severity)),
		)
	case foldMerged:
		e.metrics.IncidentMerged(string(incident.Kind))
		e.logger.Debug("incident merged",
			zap.String("alert_sender_id", incident.ExternalID),
			zap.Int("occurrence_count", incident.OccurrenceCount),
			zap.String("severity", string(incident.Severity)),
		)
	}
}

func (e *Engine) Get(ctx context.Context, id int64) (*model.ActiveAlert, error) {
	return e.store.GetIncident(ctx, id)
}

func (e *Engine) GetByExternalID(ctx context.Context, externalID string) (*model.ActiveAlert, error) {
	return e.store.GetIncidentByExternalID(ctx, externalID)
}

// List returns incidents, most recently active first.
func (e *Engine) List(ctx context.Context, status *model.Status) ([]model.ActiveAlert, error) {
	return e.store.ListIncidents(ctx, storage.IncidentFilter{Status: status})
}

func (e *Engine) ListByVehicle(ctx context.Context, vin string) ([]model.ActiveAlert, error) {
	return e.store.ListIncidents(ctx, storage.IncidentFilter{VehicleVIN: vin})
}
