package storage

import (
	"database/sql"
	"fmt"
	"time"

	"fleetguard/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// dbTime reads a timestamp column from either backend: sqlite yields the
// stored nanosecond integer, pgx yields time.Time.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (d *dbTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		d.Time, d.Valid = time.Time{}, false
		return nil
	case int64:
		d.Time = time.Unix(0, v).UTC()
	case time.Time:
		d.Time = v.UTC()
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", value)
	}
	d.Valid = true
	return nil
}

func (d *dbTime) parse(s string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time, d.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}

func (d dbTime) ptr() *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

const vehicleColumns = `id, vin, manufacturer, model, fleet_id, owner_operator, registration_status, created_at`

func scanVehicle(row rowScanner) (model.Vehicle, error) {
	var (
		v       model.Vehicle
		created dbTime
	)
	err := row.Scan(&v.ID, &v.VIN, &v.Manufacturer, &v.Model, &v.FleetID, &v.OwnerOperator, &v.RegistrationStatus, &created)
	v.CreatedAt = created.Time
	return v, err
}

const telemetryColumns = `id, vehicle_vin, latitude, longitude, speed, engine_status, fuel_battery_level, odometer_reading, diagnostic_codes, timestamp`

func scanTelemetry(row rowScanner) (model.TelemetrySample, error) {
	var (
		s     model.TelemetrySample
		codes sql.NullString
		ts    dbTime
	)
	err := row.Scan(&s.ID, &s.VehicleVIN, &s.Latitude, &s.Longitude, &s.Speed, &s.EngineStatus,
		&s.FuelBatteryLevel, &s.OdometerReading, &codes, &ts)
	s.DiagnosticCodes = decodeCodes(codes)
	s.Timestamp = ts.Time
	return s, err
}

const rawAlertColumns = `a.id, a.alert_id, a.vehicle_vin, a.alert_type, a.severity, a.message, a.resolved, a.timestamp`

func scanRawAlert(row rowScanner) (model.RawAlert, error) {
	var (
		a  model.RawAlert
		ts dbTime
	)
	err := row.Scan(&a.ID, &a.AlertID, &a.VehicleVIN, &a.Kind, &a.Severity, &a.Message, &a.Resolved, &ts)
	a.Timestamp = ts.Time
	return a, err
}

const incidentColumns = `aa.id, aa.alert_sender_id, aa.vehicle_vin, aa.alert_type, aa.severity, aa.title, aa.description,
	aa.status, aa.first_occurrence, aa.last_occurrence, aa.occurrence_count, aa.resolved_at, aa.resolved_by, aa.created_at`

const relatedCountColumn = `(SELECT COUNT(*) FROM alert_relationships ar WHERE ar.active_alert_id = aa.id)`

func scanIncident(row rowScanner, withCount bool) (model.ActiveAlert, error) {
	var (
		a                   model.ActiveAlert
		first, last         dbTime
		resolvedAt, created dbTime
		resolvedBy          sql.NullString
	)
	dest := []any{&a.ID, &a.ExternalID, &a.VehicleVIN, &a.Kind, &a.Severity, &a.Title, &a.Description,
		&a.Status, &first, &last, &a.OccurrenceCount, &resolvedAt, &resolvedBy, &created}
	if withCount {
		dest = append(dest, &a.RelatedAlerts)
	}
	if err := row.Scan(dest...); err != nil {
		return a, err
	}
	a.FirstOccurrence = first.Time
	a.LastOccurrence = last.Time
	a.ResolvedAt = resolvedAt.ptr()
	if resolvedBy.Valid {
		by := resolvedBy.String
		a.ResolvedBy = &by
	}
	a.CreatedAt = created.Time
	return a, nil
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
