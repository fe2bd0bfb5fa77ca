package engine

import (
	"fmt"
	"strconv"

	"fleetguard/internal/model"
)

const (
	SpeedLimitKmh         = 80.0
	LowFuelThreshold      = 15.0
	CriticalFuelThreshold = 5.0
)

// Evaluate applies the threshold rules to a stored sample, speed first.
// The returned alerts carry no identifiers yet.
func Evaluate(s model.TelemetrySample) []model.RawAlert {
	var out []model.RawAlert
	if s.Speed > SpeedLimitKmh {
		out = append(out, model.RawAlert{
			VehicleVIN: s.VehicleVIN,
			Kind:       model.KindSpeedViolation,
			Severity:   model.SeverityHigh,
			Message:    fmt.Sprintf("Speed violation: %s km/h (limit: %s km/h)", formatFloat(s.Speed), formatFloat(SpeedLimitKmh)),
			Timestamp:  s.Timestamp,
		})
	}
	if s.FuelBatteryLevel < LowFuelThreshold {
		severity := model.SeverityMedium
		if s.FuelBatteryLevel < CriticalFuelThreshold {
			severity = model.SeverityHigh
		}
		out = append(out, model.RawAlert{
			VehicleVIN: s.VehicleVIN,
			Kind:       model.KindLowFuelBattery,
			Severity:   severity,
			Message:    fmt.Sprintf("Low fuel/battery level: %s%%", formatFloat(s.FuelBatteryLevel)),
			Timestamp:  s.Timestamp,
		})
	}
	return out
}

// Escalate returns the severity after a merge. Only an incoming high or
// critical can raise the current severity; nothing lowers it.
func Escalate(current, incoming model.Severity) model.Severity {
	switch incoming {
	case model.SeverityHigh, model.SeverityCritical:
		if incoming.Rank() > current.Rank() {
			return incoming
		}
	}
	return current
}

func incidentText(kind model.AlertKind, vin, message string) (title, description string) {
	switch kind {
	case model.KindSpeedViolation:
		return "Speed Violation - " + vin, fmt.Sprintf("Vehicle %s is exceeding speed limits. %s", vin, message)
	case model.KindLowFuelBattery:
		return "Low Fuel/Battery - " + vin, fmt.Sprintf("Vehicle %s has low fuel/battery level. %s", vin, message)
	}
	return "Alert - " + vin, message
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
