package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgUniqueViolation = "23505"

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/fleetguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &postgresStore{newBaseStore(db, postgresDialect{})}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.initSchema(ctx, []string{
		`CREATE TABLE IF NOT EXISTS vehicles (
			id BIGSERIAL PRIMARY KEY,
			vin VARCHAR(17) NOT NULL UNIQUE,
			manufacturer VARCHAR(100) NOT NULL,
			model VARCHAR(100) NOT NULL,
			fleet_id VARCHAR(50) NOT NULL,
			owner_operator VARCHAR(200) NOT NULL,
			registration_status VARCHAR(20) NOT NULL DEFAULT 'Active'
				CHECK (registration_status IN ('Active', 'Maintenance', 'Decommissioned')),
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_fleet ON vehicles(fleet_id)`,
		`CREATE TABLE IF NOT EXISTS telemetry_data (
			id BIGSERIAL PRIMARY KEY,
			vehicle_vin VARCHAR(17) NOT NULL REFERENCES vehicles(vin) ON DELETE CASCADE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION NOT NULL,
			engine_status VARCHAR(10) NOT NULL CHECK (engine_status IN ('On', 'Off', 'Idle')),
			fuel_battery_level DOUBLE PRECISION NOT NULL CHECK (fuel_battery_level BETWEEN 0 AND 100),
			odometer_reading DOUBLE PRECISION NOT NULL,
			diagnostic_codes TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_vehicle_ts ON telemetry_data(vehicle_vin, timestamp)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			alert_id VARCHAR(64) NOT NULL UNIQUE,
			vehicle_vin VARCHAR(17) NOT NULL REFERENCES vehicles(vin) ON DELETE CASCADE,
			alert_type VARCHAR(50) NOT NULL CHECK (alert_type IN ('speed_violation', 'low_fuel_battery')),
			severity VARCHAR(20) NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			message TEXT NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_vehicle_ts ON alerts(vehicle_vin, timestamp)`,
		`CREATE TABLE IF NOT EXISTS active_alerts (
			id BIGSERIAL PRIMARY KEY,
			alert_sender_id VARCHAR(64) NOT NULL UNIQUE,
			vehicle_vin VARCHAR(17) NOT NULL REFERENCES vehicles(vin) ON DELETE CASCADE,
			alert_type VARCHAR(50) NOT NULL CHECK (alert_type IN ('speed_violation', 'low_fuel_battery')),
			severity VARCHAR(20) NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			title VARCHAR(200) NOT NULL,
			description TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'acknowledged', 'resolved')),
			first_occurrence TIMESTAMPTZ NOT NULL,
			last_occurrence TIMESTAMPTZ NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1 CHECK (occurrence_count >= 1),
			resolved_at TIMESTAMPTZ,
			resolved_by VARCHAR(100),
			created_at TIMESTAMPTZ NOT NULL,
			CHECK (last_occurrence >= first_occurrence)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_active_alerts_open ON active_alerts(vehicle_vin, alert_type) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_active_alerts_status ON active_alerts(status, last_occurrence)`,
		`CREATE TABLE IF NOT EXISTS alert_relationships (
			id BIGSERIAL PRIMARY KEY,
			active_alert_id BIGINT NOT NULL REFERENCES active_alerts(id) ON DELETE CASCADE,
			raw_alert_id BIGINT NOT NULL UNIQUE REFERENCES alerts(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (active_alert_id, raw_alert_id)
		)`,
	})
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) rebind(query string) string { return rebindDollar(query) }

func (postgresDialect) timeArg(t time.Time) any { return t.UTC() }

func (postgresDialect) lockClause() string { return " FOR UPDATE" }

func (postgresDialect) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
