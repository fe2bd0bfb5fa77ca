package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
)

var (
	// ErrNotFound reports a missing vehicle or incident where absence is an error for the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation.
	ErrConflict = errors.New("conflict")
)

// IncidentFilter narrows ListIncidents. Zero values match everything.
type IncidentFilter struct {
	Status     *model.Status
	VehicleVIN string
	Limit      int
}

// Reader is the read side shared by the store and its transactions.
// Single-entity lookups return nil, nil when the entity does not exist.
type Reader interface {
	GetVehicle(ctx context.Context, vin string) (*model.Vehicle, error)
	ListVehicles(ctx context.Context, fleetID string) ([]model.Vehicle, error)
	LatestTelemetry(ctx context.Context, vin string) (*model.TelemetrySample, error)
	TelemetryHistory(ctx context.Context, vin string, limit int) ([]model.TelemetrySample, error)
	GetRawAlert(ctx context.Context, alertID string) (*model.RawAlert, error)
	ListRawAlerts(ctx context.Context, vin string) ([]model.RawAlert, error)
	GetIncident(ctx context.Context, id int64) (*model.ActiveAlert, error)
	GetIncidentByExternalID(ctx context.Context, externalID string) (*model.ActiveAlert, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.ActiveAlert, error)
	IncidentRawAlerts(ctx context.Context, incidentID int64) ([]model.RawAlert, error)
	Analytics(ctx context.Context, since time.Time) (model.FleetAnalytics, error)
}

// Writer holds the mutating statements. Each call is a single statement.
type Writer interface {
	CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	DeleteVehicle(ctx context.Context, vin string) (bool, error)
	InsertTelemetry(ctx context.Context, s model.TelemetrySample) (model.TelemetrySample, error)
	InsertRawAlert(ctx context.Context, a model.RawAlert) (model.RawAlert, error)
	FindOpenIncident(ctx context.Context, vin string, kind model.AlertKind) (*model.ActiveAlert, error)
	IncidentForRawAlert(ctx context.Context, rawID int64) (*model.ActiveAlert, error)
	InsertIncident(ctx context.Context, a model.ActiveAlert) (model.ActiveAlert, error)
	MergeIncident(ctx context.Context, id int64, occurredAt time.Time, severity model.Severity) error
	LinkRawAlert(ctx context.Context, incidentID, rawID int64) (bool, error)
	UpdateIncidentStatus(ctx context.Context, externalID string, upd model.StatusUpdate, now time.Time) (bool, error)
}

// Tx is a unit of work; everything done through it commits or rolls back together.
type Tx interface {
	Reader
	Writer
}

type Store interface {
	Reader
	Writer
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Driver() string
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect captures what differs between the sqlite and postgres backends.
type dialect interface {
	name() string
	rebind(query string) string
	timeArg(t time.Time) any
	lockClause() string
	isUniqueViolation(err error) bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseStore struct {
	queries
	db *sql.DB
}

func newBaseStore(db *sql.DB, d dialect) baseStore {
	return baseStore{queries: queries{q: db, d: d}, db: db}
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *baseStore) Driver() string {
	return b.d.name()
}

func (b *baseStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&txQueries{queries{q: sqlTx, d: b.d}}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txQueries struct {
	queries
}

func (b *baseStore) initSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeCodes(raw sql.NullString) []string {
	codes := []string{}
	if !raw.Valid || raw.String == "" {
		return codes
	}
	if err := json.Unmarshal([]byte(raw.String), &codes); err != nil {
		// rows written before codes were stored as JSON used a comma list
		codes = codes[:0]
		for _, c := range strings.Split(raw.String, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codes = append(codes, c)
			}
		}
	}
	return codes
}

// rebindDollar turns ? placeholders into $1..$n.
func rebindDollar(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(fmt.Sprint(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}
