package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:fleetguard.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection serialises transactions
	// instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &sqliteStore{newBaseStore(db, sqliteDialect{})}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return err
	}
	return s.initSchema(ctx, []string{
		`CREATE TABLE IF NOT EXISTS vehicles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vin TEXT NOT NULL UNIQUE,
			manufacturer TEXT NOT NULL,
			model TEXT NOT NULL,
			fleet_id TEXT NOT NULL,
			owner_operator TEXT NOT NULL,
			registration_status TEXT NOT NULL DEFAULT 'Active'
				CHECK (registration_status IN ('Active', 'Maintenance', 'Decommissioned')),
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_fleet ON vehicles(fleet_id)`,
		`CREATE TABLE IF NOT EXISTS telemetry_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vehicle_vin TEXT NOT NULL REFERENCES vehicles(vin) ON DELETE CASCADE,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			speed REAL NOT NULL,
			engine_status TEXT NOT NULL CHECK (engine_status IN ('On', 'Off', 'Idle')),
			fuel_battery_level REAL NOT NULL CHECK (fuel_battery_level BETWEEN 0 AND 100),
			odometer_reading REAL NOT NULL,
			diagnostic_codes TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_vehicle_ts ON telemetry_data(vehicle_vin, timestamp)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL UNIQUE,
			vehicle_vin TEXT NOT NULL REFERENCES vehicles(vin) ON DELETE CASCADE,
			alert_type TEXT NOT NULL CHECK (alert_type IN ('speed_violation', 'low_fuel_battery')),
			severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			message TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_vehicle_ts ON alerts(vehicle_vin, timestamp)`,
		`CREATE TABLE IF NOT EXISTS active_alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_sender_id TEXT NOT NULL UNIQUE,
			vehicle_vin TEXT NOT NULL REFERENCES vehicles(vin) ON DELETE CASCADE,
			alert_type TEXT NOT NULL CHECK (alert_type IN ('speed_violation', 'low_fuel_battery')),
			severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'acknowledged', 'resolved')),
			first_occurrence INTEGER NOT NULL,
			last_occurrence INTEGER NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1 CHECK (occurrence_count >= 1),
			resolved_at INTEGER,
			resolved_by TEXT,
			created_at INTEGER NOT NULL,
			CHECK (last_occurrence >= first_occurrence)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_active_alerts_open ON active_alerts(vehicle_vin, alert_type) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_active_alerts_status ON active_alerts(status, last_occurrence)`,
		`CREATE TABLE IF NOT EXISTS alert_relationships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			active_alert_id INTEGER NOT NULL REFERENCES active_alerts(id) ON DELETE CASCADE,
			raw_alert_id INTEGER NOT NULL UNIQUE REFERENCES alerts(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			UNIQUE (active_alert_id, raw_alert_id)
		)`,
	})
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) rebind(query string) string { return query }

// Timestamps are stored as UTC nanoseconds so range filters and ordering are numeric.
func (sqliteDialect) timeArg(t time.Time) any { return t.UTC().UnixNano() }

// sqlite transactions already hold the database write lock.
func (sqliteDialect) lockClause() string { return "" }

func (sqliteDialect) isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}
