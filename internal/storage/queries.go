package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"fleetguard/internal/model"
)

// queries runs every statement against either the pool or an open transaction.
type queries struct {
	q querier
	d dialect
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (s *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

func (s *queries) wrapConflict(err error, what string) error {
	if s.d.isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return err
}

func (s *queries) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	if v.RegistrationStatus == "" {
		v.RegistrationStatus = model.RegistrationActive
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = nowUTC()
	}
	err := s.queryRow(ctx,
		`INSERT INTO vehicles (vin, manufacturer, model, fleet_id, owner_operator, registration_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		v.VIN, v.Manufacturer, v.Model, v.FleetID, v.OwnerOperator, string(v.RegistrationStatus), s.d.timeArg(v.CreatedAt),
	).Scan(&v.ID)
	if err != nil {
		return model.Vehicle{}, s.wrapConflict(err, "vehicle "+v.VIN)
	}
	return v, nil
}

func (s *queries) DeleteVehicle(ctx context.Context, vin string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM vehicles WHERE vin = ?`, vin)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *queries) GetVehicle(ctx context.Context, vin string) (*model.Vehicle, error) {
	v, err := scanVehicle(s.queryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE vin = ?`, vin))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *queries) ListVehicles(ctx context.Context, fleetID string) ([]model.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles`
	var args []any
	if fleetID != "" {
		query += ` WHERE fleet_id = ?`
		args = append(args, fleetID)
	}
	rows, err := s.query(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanVehicle)
}

func (s *queries) InsertTelemetry(ctx context.Context, t model.TelemetrySample) (model.TelemetrySample, error) {
	if t.DiagnosticCodes == nil {
		t.DiagnosticCodes = []string{}
	}
	err := s.queryRow(ctx,
		`INSERT INTO telemetry_data (vehicle_vin, latitude, longitude, speed, engine_status, fuel_battery_level,
			odometer_reading, diagnostic_codes, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		t.VehicleVIN, t.Latitude, t.Longitude, t.Speed, string(t.EngineStatus), t.FuelBatteryLevel,
		t.OdometerReading, encodeJSON(t.DiagnosticCodes), s.d.timeArg(t.Timestamp),
	).Scan(&t.ID)
	if err != nil {
		return model.TelemetrySample{}, err
	}
	return t, nil
}

func (s *queries) LatestTelemetry(ctx context.Context, vin string) (*model.TelemetrySample, error) {
	t, err := scanTelemetry(s.queryRow(ctx,
		`SELECT `+telemetryColumns+` FROM telemetry_data WHERE vehicle_vin = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, vin))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *queries) TelemetryHistory(ctx context.Context, vin string, limit int) ([]model.TelemetrySample, error) {
	rows, err := s.query(ctx,
		`SELECT `+telemetryColumns+` FROM telemetry_data WHERE vehicle_vin = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		vin, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTelemetry)
}

func (s *queries) InsertRawAlert(ctx context.Context, a model.RawAlert) (model.RawAlert, error) {
	err := s.queryRow(ctx,
		`INSERT INTO alerts (alert_id, vehicle_vin, alert_type, severity, message, resolved, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		a.AlertID, a.VehicleVIN, string(a.Kind), string(a.Severity), a.Message, a.Resolved, s.d.timeArg(a.Timestamp),
	).Scan(&a.ID)
	if err != nil {
		return model.RawAlert{}, s.wrapConflict(err, "alert "+a.AlertID)
	}
	return a, nil
}

func (s *queries) GetRawAlert(ctx context.Context, alertID string) (*model.RawAlert, error) {
	a, err := scanRawAlert(s.queryRow(ctx, `SELECT `+rawAlertColumns+` FROM alerts a WHERE a.alert_id = ?`, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *queries) ListRawAlerts(ctx context.Context, vin string) ([]model.RawAlert, error) {
	query := `SELECT ` + rawAlertColumns + ` FROM alerts a`
	var args []any
	if vin != "" {
		query += ` WHERE a.vehicle_vin = ?`
		args = append(args, vin)
	}
	rows, err := s.query(ctx, query+` ORDER BY a.timestamp DESC, a.id DESC`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRawAlert)
}

func (s *queries) FindOpenIncident(ctx context.Context, vin string, kind model.AlertKind) (*model.ActiveAlert, error) {
	row := s.queryRow(ctx,
		`SELECT `+incidentColumns+` FROM active_alerts aa
		WHERE aa.vehicle_vin = ? AND aa.alert_type = ? AND aa.status = 'active'
		ORDER BY aa.last_occurrence DESC, aa.id DESC LIMIT 1`+s.d.lockClause(),
		vin, string(kind))
	return s.oneIncident(row, false)
}

func (s *queries) IncidentForRawAlert(ctx context.Context, rawID int64) (*model.ActiveAlert, error) {
	row := s.queryRow(ctx,
		`SELECT `+incidentColumns+`, `+relatedCountColumn+` FROM active_alerts aa
		JOIN alert_relationships rel ON rel.active_alert_id = aa.id
		WHERE rel.raw_alert_id = ?`, rawID)
	return s.oneIncident(row, true)
}

func (s *queries) InsertIncident(ctx context.Context, a model.ActiveAlert) (model.ActiveAlert, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = nowUTC()
	}
	if a.OccurrenceCount < 1 {
		a.OccurrenceCount = 1
	}
	if a.Status == "" {
		a.Status = model.StatusActive
	}
	err := s.queryRow(ctx,
		`INSERT INTO active_alerts (alert_sender_id, vehicle_vin, alert_type, severity, title, description, status,
			first_occurrence, last_occurrence, occurrence_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		a.ExternalID, a.VehicleVIN, string(a.Kind), string(a.Severity), a.Title, a.Description, string(a.Status),
		s.d.timeArg(a.FirstOccurrence), s.d.timeArg(a.LastOccurrence), a.OccurrenceCount, s.d.timeArg(a.CreatedAt),
	).Scan(&a.ID)
	if err != nil {
		return model.ActiveAlert{}, s.wrapConflict(err, fmt.Sprintf("incident %s/%s", a.VehicleVIN, a.Kind))
	}
	return a, nil
}

func (s *queries) MergeIncident(ctx context.Context, id int64, occurredAt time.Time, severity model.Severity) error {
	ts := s.d.timeArg(occurredAt)
	res, err := s.exec(ctx,
		`UPDATE active_alerts SET
			occurrence_count = occurrence_count + 1,
			last_occurrence = CASE WHEN last_occurrence < ? THEN ? ELSE last_occurrence END,
			severity = ?
		WHERE id = ?`,
		ts, ts, string(severity), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("incident %d: %w", id, ErrNotFound)
	}
	return nil
}

// LinkRawAlert reports false when the pair already exists.
func (s *queries) LinkRawAlert(ctx context.Context, incidentID, rawID int64) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO alert_relationships (active_alert_id, raw_alert_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`,
		incidentID, rawID, s.d.timeArg(nowUTC()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *queries) UpdateIncidentStatus(ctx context.Context, externalID string, upd model.StatusUpdate, now time.Time) (bool, error) {
	var (
		sets []string
		args []any
	)
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
		// resolved_at is set iff the incident is resolved.
		if *upd.Status == model.StatusResolved {
			sets = append(sets, "resolved_at = ?")
			args = append(args, s.d.timeArg(now))
		} else {
			sets = append(sets, "resolved_at = NULL")
		}
	}
	if upd.ResolvedBy != nil {
		sets = append(sets, "resolved_by = ?")
		args = append(args, *upd.ResolvedBy)
	}
	if len(sets) == 0 {
		return false, errors.New("empty status update")
	}
	args = append(args, externalID)
	res, err := s.exec(ctx, `UPDATE active_alerts SET `+strings.Join(sets, ", ")+` WHERE alert_sender_id = ?`, args...)
	if err != nil {
		return false, s.wrapConflict(err, "incident "+externalID)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *queries) GetIncident(ctx context.Context, id int64) (*model.ActiveAlert, error) {
	row := s.queryRow(ctx, `SELECT `+incidentColumns+`, `+relatedCountColumn+` FROM active_alerts aa WHERE aa.id = ?`, id)
	return s.oneIncident(row, true)
}

func (s *queries) GetIncidentByExternalID(ctx context.Context, externalID string) (*model.ActiveAlert, error) {
	row := s.queryRow(ctx,
		`SELECT `+incidentColumns+`, `+relatedCountColumn+` FROM active_alerts aa WHERE aa.alert_sender_id = ?`, externalID)
	return s.oneIncident(row, true)
}

func (s *queries) oneIncident(row *sql.Row, withCount bool) (*model.ActiveAlert, error) {
	a, err := scanIncident(row, withCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *queries) ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.ActiveAlert, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		where = append(where, "aa.status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.VehicleVIN != "" {
		where = append(where, "aa.vehicle_vin = ?")
		args = append(args, filter.VehicleVIN)
	}
	query := `SELECT ` + incidentColumns + `, ` + relatedCountColumn + ` FROM active_alerts aa`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY aa.last_occurrence DESC, aa.id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r rowScanner) (model.ActiveAlert, error) { return scanIncident(r, true) })
}

func (s *queries) IncidentRawAlerts(ctx context.Context, incidentID int64) ([]model.RawAlert, error) {
	rows, err := s.query(ctx,
		`SELECT `+rawAlertColumns+` FROM alerts a
		JOIN alert_relationships rel ON rel.raw_alert_id = a.id
		WHERE rel.active_alert_id = ?
		ORDER BY a.timestamp DESC, a.id DESC`, incidentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRawAlert)
}

func (s *queries) Analytics(ctx context.Context, since time.Time) (model.FleetAnalytics, error) {
	var out model.FleetAnalytics
	cutoff := s.d.timeArg(since)

	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM vehicles`).Scan(&out.VehicleStatus.Total); err != nil {
		return out, fmt.Errorf("count vehicles: %w", err)
	}
	if err := s.queryRow(ctx,
		`SELECT COUNT(DISTINCT vehicle_vin) FROM telemetry_data WHERE timestamp >= ?`, cutoff,
	).Scan(&out.VehicleStatus.Active); err != nil {
		return out, fmt.Errorf("count active vehicles: %w", err)
	}
	out.VehicleStatus.Inactive = max(out.VehicleStatus.Total-out.VehicleStatus.Active, 0)

	var avgFuel sql.NullFloat64
	if err := s.queryRow(ctx,
		`SELECT AVG(fuel_battery_level) FROM telemetry_data WHERE timestamp >= ?`, cutoff,
	).Scan(&avgFuel); err != nil {
		return out, fmt.Errorf("average fuel: %w", err)
	}
	out.FuelBattery.Average = round2(avgFuel.Float64)

	var distance sql.NullFloat64
	if err := s.queryRow(ctx,
		`SELECT SUM(max_odo) FROM (
			SELECT MAX(odometer_reading) AS max_odo FROM telemetry_data WHERE timestamp >= ? GROUP BY vehicle_vin
		) per_vehicle`, cutoff,
	).Scan(&distance); err != nil {
		return out, fmt.Errorf("total distance: %w", err)
	}
	out.Distance.Total = round2(distance.Float64)

	var err error
	if out.Alerts.ByType, err = s.countBy(ctx, "alert_type"); err != nil {
		return out, err
	}
	if out.Alerts.BySeverity, err = s.countBy(ctx, "severity"); err != nil {
		return out, err
	}
	for _, n := range out.Alerts.ByType {
		out.Alerts.Total += n
	}
	return out, nil
}

// countBy groups raw alerts by a fixed column name.
func (s *queries) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.query(ctx, `SELECT `+column+`, COUNT(*) FROM alerts GROUP BY `+column)
	if err != nil {
		return nil, fmt.Errorf("count alerts by %s: %w", column, err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
