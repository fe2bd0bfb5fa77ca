package alerts

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguard/internal/model"
)

func incident(i int, status model.Status, sev model.Severity, kind model.AlertKind, last time.Time) model.ActiveAlert {
	return model.ActiveAlert{
		ID:             int64(i),
		ExternalID:     fmt.Sprintf("inc-%d", i),
		VehicleVIN:     fmt.Sprintf("V%d", i),
		Kind:           kind,
		Severity:       sev,
		Status:         status,
		LastOccurrence: last,
	}
}

func TestSummarizeCounts(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []model.ActiveAlert{
		incident(1, model.StatusActive, model.SeverityHigh, model.KindSpeedViolation, base),
		incident(2, model.StatusActive, model.SeverityMedium, model.KindLowFuelBattery, base.Add(time.Minute)),
		incident(3, model.StatusResolved, model.SeverityHigh, model.KindSpeedViolation, base),
		incident(4, model.StatusAcknowledged, model.SeverityCritical, model.KindSpeedViolation, base),
	}
	s := Summarize(list)
	assert.Equal(t, 2, s.ActiveCount)
	assert.Equal(t, 1, s.ResolvedCount)
	assert.Equal(t, 1, s.AcknowledgedCount)
	assert.Equal(t, len(list), s.ActiveCount+s.ResolvedCount+s.AcknowledgedCount)
	assert.Equal(t, map[model.Severity]int{model.SeverityHigh: 1, model.SeverityMedium: 1}, s.BySeverity)
	assert.Equal(t, 1, s.ByKind[model.KindLowFuelBattery])
	require.Len(t, s.RecentActive, 2)
	assert.Equal(t, "inc-2", s.RecentActive[0].ExternalID)
}

func TestSummarizeCapsRecent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var list []model.ActiveAlert
	for i := 0; i < 15; i++ {
		list = append(list, incident(i, model.StatusActive, model.SeverityHigh, model.KindSpeedViolation, base.Add(time.Duration(i)*time.Minute)))
	}
	s := Summarize(list)
	assert.Equal(t, 15, s.ActiveCount)
	require.Len(t, s.RecentActive, RecentLimit)
	assert.Equal(t, "inc-14", s.RecentActive[0].ExternalID)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.ActiveCount)
	assert.NotNil(t, s.RecentActive)
	assert.NotNil(t, s.BySeverity)
}
