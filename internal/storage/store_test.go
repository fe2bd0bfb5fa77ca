package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "fleet.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	st, err := NewStore(config.StorageConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedVehicle(t *testing.T, st Store, vin, fleet string) model.Vehicle {
	t.Helper()
	v, err := st.CreateVehicle(context.Background(), model.Vehicle{
		VIN:           vin,
		Manufacturer:  "Volvo",
		Model:         "FH16",
		FleetID:       fleet,
		OwnerOperator: "Acme Logistics",
	})
	require.NoError(t, err)
	return v
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewStore(config.StorageConfig{Driver: "mysql"})
	require.Error(t, err)
}

func TestVehicleCRUD(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	v := seedVehicle(t, st, "1HGCM82633A004352", "fleet-a")
	assert.NotZero(t, v.ID)
	assert.Equal(t, model.RegistrationActive, v.RegistrationStatus)
	seedVehicle(t, st, "2HGCM82633A004353", "fleet-b")

	_, err := st.CreateVehicle(ctx, model.Vehicle{VIN: v.VIN, Manufacturer: "x", Model: "y", FleetID: "z", OwnerOperator: "o"})
	require.True(t, errors.Is(err, ErrConflict), "duplicate vin should conflict, got %v", err)

	got, err := st.GetVehicle(ctx, v.VIN)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fleet-a", got.FleetID)

	missing, err := st.GetVehicle(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := st.ListVehicles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	fleetB, err := st.ListVehicles(ctx, "fleet-b")
	require.NoError(t, err)
	require.Len(t, fleetB, 1)
	assert.Equal(t, "2HGCM82633A004353", fleetB[0].VIN)

	deleted, err := st.DeleteVehicle(ctx, v.VIN)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = st.DeleteVehicle(ctx, v.VIN)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestTelemetryLatestAndHistory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVehicle(t, st, "V1", "fleet-a")

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := st.InsertTelemetry(ctx, model.TelemetrySample{
			VehicleVIN:       "V1",
			Speed:            float64(40 + i),
			EngineStatus:     model.EngineOn,
			FuelBatteryLevel: 50,
			OdometerReading:  1000 + float64(i),
			DiagnosticCodes:  []string{"P0301"},
			Timestamp:        base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	latest, err := st.LatestTelemetry(ctx, "V1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 44.0, latest.Speed)
	assert.True(t, latest.Timestamp.Equal(base.Add(4*time.Minute)))
	assert.Equal(t, []string{"P0301"}, latest.DiagnosticCodes)

	history, err := st.TelemetryHistory(ctx, "V1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].Timestamp.After(history[1].Timestamp))
	assert.True(t, history[1].Timestamp.After(history[2].Timestamp))

	none, err := st.LatestTelemetry(ctx, "V2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVehicle(t, st, "V1", "fleet-a")

	boom := errors.New("boom")
	err := st.InTx(ctx, func(tx Tx) error {
		_, err := tx.InsertTelemetry(ctx, model.TelemetrySample{
			VehicleVIN: "V1", EngineStatus: model.EngineOn, FuelBatteryLevel: 10, Timestamp: time.Now(),
		})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	latest, err := st.LatestTelemetry(ctx, "V1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestIncidentLifecycleQueries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVehicle(t, st, "V1", "fleet-a")
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var incident model.ActiveAlert
	err := st.InTx(ctx, func(tx Tx) error {
		raw, err := tx.InsertRawAlert(ctx, model.RawAlert{
			AlertID: "raw-1", VehicleVIN: "V1", Kind: model.KindSpeedViolation,
			Severity: model.SeverityHigh, Message: "fast", Timestamp: t0,
		})
		if err != nil {
			return err
		}
		incident, err = tx.InsertIncident(ctx, model.ActiveAlert{
			ExternalID: "inc-1", VehicleVIN: "V1", Kind: model.KindSpeedViolation, Severity: model.SeverityHigh,
			Title: "Speed Violation - V1", Description: "fast", FirstOccurrence: t0, LastOccurrence: t0,
		})
		if err != nil {
			return err
		}
		linked, err := tx.LinkRawAlert(ctx, incident.ID, raw.ID)
		if err != nil {
			return err
		}
		assert.True(t, linked)
		linked, err = tx.LinkRawAlert(ctx, incident.ID, raw.ID)
		assert.False(t, linked)
		return err
	})
	require.NoError(t, err)

	open, err := st.FindOpenIncident(ctx, "V1", model.KindSpeedViolation)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, incident.ID, open.ID)

	_, err = st.InsertIncident(ctx, model.ActiveAlert{
		ExternalID: "inc-2", VehicleVIN: "V1", Kind: model.KindSpeedViolation, Severity: model.SeverityLow,
		Title: "dup", Description: "dup", FirstOccurrence: t0, LastOccurrence: t0,
	})
	require.ErrorIs(t, err, ErrConflict, "second active incident for the same key must be rejected")

	// an older occurrence bumps the count but not last_occurrence
	require.NoError(t, st.MergeIncident(ctx, incident.ID, t0.Add(-time.Minute), model.SeverityHigh))
	require.NoError(t, st.MergeIncident(ctx, incident.ID, t0.Add(time.Minute), model.SeverityCritical))
	got, err := st.GetIncidentByExternalID(ctx, "inc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.OccurrenceCount)
	assert.Equal(t, model.SeverityCritical, got.Severity)
	assert.True(t, got.LastOccurrence.Equal(t0.Add(time.Minute)))
	assert.Equal(t, 1, got.RelatedAlerts)

	require.ErrorIs(t, st.MergeIncident(ctx, 9999, t0, model.SeverityLow), ErrNotFound)

	resolved := model.StatusResolved
	by := "ops"
	now := t0.Add(time.Hour)
	found, err := st.UpdateIncidentStatus(ctx, "inc-1", model.StatusUpdate{Status: &resolved, ResolvedBy: &by}, now)
	require.NoError(t, err)
	assert.True(t, found)

	got, err = st.GetIncidentByExternalID(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(now))
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, "ops", *got.ResolvedBy)

	found, err = st.UpdateIncidentStatus(ctx, "missing", model.StatusUpdate{Status: &resolved}, now)
	require.NoError(t, err)
	assert.False(t, found)

	open, err = st.FindOpenIncident(ctx, "V1", model.KindSpeedViolation)
	require.NoError(t, err)
	assert.Nil(t, open)

	status := model.StatusResolved
	list, err := st.ListIncidents(ctx, IncidentFilter{Status: &status})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	raws, err := st.IncidentRawAlerts(ctx, incident.ID)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "raw-1", raws[0].AlertID)

	owner, err := st.IncidentForRawAlert(ctx, raws[0].ID)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, "inc-1", owner.ExternalID)
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVehicle(t, st, "V1", "fleet-a")
	seedVehicle(t, st, "V2", "fleet-a")
	seedVehicle(t, st, "V3", "fleet-b")

	now := time.Now().UTC()
	samples := []model.TelemetrySample{
		{VehicleVIN: "V1", FuelBatteryLevel: 40, OdometerReading: 100, Timestamp: now.Add(-2 * time.Hour)},
		{VehicleVIN: "V1", FuelBatteryLevel: 30, OdometerReading: 150.25, Timestamp: now.Add(-time.Hour)},
		{VehicleVIN: "V2", FuelBatteryLevel: 20, OdometerReading: 50, Timestamp: now.Add(-30 * time.Minute)},
		{VehicleVIN: "V3", FuelBatteryLevel: 90, OdometerReading: 999, Timestamp: now.Add(-48 * time.Hour)},
	}
	for _, s := range samples {
		s.EngineStatus = model.EngineOn
		_, err := st.InsertTelemetry(ctx, s)
		require.NoError(t, err)
	}
	for i, kind := range []model.AlertKind{model.KindSpeedViolation, model.KindSpeedViolation, model.KindLowFuelBattery} {
		_, err := st.InsertRawAlert(ctx, model.RawAlert{
			AlertID: "a" + string(rune('0'+i)), VehicleVIN: "V1", Kind: kind, Severity: model.SeverityHigh,
			Message: "m", Timestamp: now,
		})
		require.NoError(t, err)
	}

	out, err := st.Analytics(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, out.VehicleStatus.Total)
	assert.Equal(t, 2, out.VehicleStatus.Active)
	assert.Equal(t, 1, out.VehicleStatus.Inactive)
	assert.Equal(t, 30.0, out.FuelBattery.Average)
	assert.Equal(t, 200.25, out.Distance.Total)
	assert.Equal(t, 3, out.Alerts.Total)
	assert.Equal(t, 2, out.Alerts.ByType["speed_violation"])
	assert.Equal(t, 3, out.Alerts.BySeverity["high"])
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT $1, $2 FROM t WHERE a = $3", rebindDollar("SELECT ?, ? FROM t WHERE a = ?"))
}

func TestDecodeCodesAcceptsLegacyCommaList(t *testing.T) {
	assert.Equal(t, []string{"P0301", "P0420"}, decodeCodes(sql.NullString{String: "P0301, P0420", Valid: true}))
	assert.Equal(t, []string{"B1"}, decodeCodes(sql.NullString{String: `["B1"]`, Valid: true}))
	assert.Empty(t, decodeCodes(sql.NullString{}))
}
