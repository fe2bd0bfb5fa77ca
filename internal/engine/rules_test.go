package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguard/internal/model"
)

func TestEvaluateRules(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		speed    float64
		fuel     float64
		expected []model.RawAlert
	}{
		{name: "nominal", speed: 60, fuel: 50},
		{name: "at speed limit", speed: 80, fuel: 50},
		{name: "at fuel threshold", speed: 60, fuel: 15},
		{
			name: "speeding", speed: 95, fuel: 50,
			expected: []model.RawAlert{{Kind: model.KindSpeedViolation, Severity: model.SeverityHigh, Message: "Speed violation: 95 km/h (limit: 80 km/h)"}},
		},
		{
			name: "low fuel", speed: 10, fuel: 12.5,
			expected: []model.RawAlert{{Kind: model.KindLowFuelBattery, Severity: model.SeverityMedium, Message: "Low fuel/battery level: 12.5%"}},
		},
		{
			name: "critical fuel", speed: 10, fuel: 4.9,
			expected: []model.RawAlert{{Kind: model.KindLowFuelBattery, Severity: model.SeverityHigh, Message: "Low fuel/battery level: 4.9%"}},
		},
		{
			name: "both in fixed order", speed: 120.5, fuel: 5,
			expected: []model.RawAlert{
				{Kind: model.KindSpeedViolation, Severity: model.SeverityHigh, Message: "Speed violation: 120.5 km/h (limit: 80 km/h)"},
				{Kind: model.KindLowFuelBattery, Severity: model.SeverityMedium, Message: "Low fuel/battery level: 5%"},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(model.TelemetrySample{VehicleVIN: "V1", Speed: tc.speed, FuelBatteryLevel: tc.fuel, Timestamp: ts})
			require.Len(t, got, len(tc.expected))
			for i, want := range tc.expected {
				assert.Equal(t, "V1", got[i].VehicleVIN)
				assert.Equal(t, want.Kind, got[i].Kind)
				assert.Equal(t, want.Severity, got[i].Severity)
				assert.Equal(t, want.Message, got[i].Message)
				assert.Equal(t, ts, got[i].Timestamp)
			}
		})
	}
}

func TestEscalate(t *testing.T) {
	cases := []struct {
		current, incoming, want model.Severity
	}{
		{model.SeverityMedium, model.SeverityLow, model.SeverityMedium},
		{model.SeverityMedium, model.SeverityHigh, model.SeverityHigh},
		{model.SeverityMedium, model.SeverityCritical, model.SeverityCritical},
		{model.SeverityCritical, model.SeverityLow, model.SeverityCritical},
		{model.SeverityCritical, model.SeverityHigh, model.SeverityCritical},
		{model.SeverityLow, model.SeverityMedium, model.SeverityLow},
		{model.SeverityHigh, model.SeverityHigh, model.SeverityHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Escalate(tc.current, tc.incoming), "%s + %s", tc.current, tc.incoming)
	}
}

func TestIncidentText(t *testing.T) {
	title, desc := incidentText(model.KindSpeedViolation, "V1", "Speed violation: 95 km/h (limit: 80 km/h)")
	assert.Equal(t, "Speed Violation - V1", title)
	assert.Equal(t, "Vehicle V1 is exceeding speed limits. Speed violation: 95 km/h (limit: 80 km/h)", desc)

	title, desc = incidentText(model.KindLowFuelBattery, "V2", "Low fuel/battery level: 4%")
	assert.Equal(t, "Low Fuel/Battery - V2", title)
	assert.Equal(t, "Vehicle V2 has low fuel/battery level. Low fuel/battery level: 4%", desc)

	title, desc = incidentText("tyre_pressure", "V3", "psi")
	assert.Equal(t, "Alert - V3", title)
	assert.Equal(t, "psi", desc)
}

func TestKeyLocksSerialise(t *testing.T) {
	locks := NewKeyLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("V1|speed_violation", "V1|low_fuel_battery", "V1|speed_violation")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size())
}
