package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
)

func newPostgresStore(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("FLEETGUARD_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FLEETGUARD_POSTGRES_DSN not set")
	}
	st, err := NewStore(config.StorageConfig{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgresOneActiveIncidentPerKey(t *testing.T) {
	ctx := context.Background()
	st := newPostgresStore(t)
	assert.Equal(t, "postgres", st.Driver())

	vin := "PG" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:15]
	seedVehicle(t, st, vin, "fleet-pg")
	t.Cleanup(func() { _, _ = st.DeleteVehicle(context.Background(), vin) })

	now := time.Now().UTC().Truncate(time.Microsecond)
	incident := model.ActiveAlert{
		ExternalID:      uuid.NewString(),
		VehicleVIN:      vin,
		Kind:            model.KindSpeedViolation,
		Severity:        model.SeverityHigh,
		Title:           "Speed Violation - " + vin,
		Status:          model.StatusActive,
		FirstOccurrence: now,
		LastOccurrence:  now,
		OccurrenceCount: 1,
		CreatedAt:       now,
	}
	first, err := st.InsertIncident(ctx, incident)
	require.NoError(t, err)

	incident.ExternalID = uuid.NewString()
	_, err = st.InsertIncident(ctx, incident)
	assert.True(t, errors.Is(err, ErrConflict), "second active incident should conflict, got %v", err)

	err = st.InTx(ctx, func(tx Tx) error {
		open, err := tx.FindOpenIncident(ctx, vin, model.KindSpeedViolation)
		if err != nil {
			return err
		}
		require.NotNil(t, open)
		assert.Equal(t, first.ID, open.ID)
		return tx.MergeIncident(ctx, open.ID, now.Add(time.Minute), model.SeverityCritical)
	})
	require.NoError(t, err)

	got, err := st.GetIncident(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.OccurrenceCount)
	assert.Equal(t, model.SeverityCritical, got.Severity)
	assert.True(t, now.Add(time.Minute).Equal(got.LastOccurrence))
}
