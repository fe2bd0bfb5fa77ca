package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fleetguard/internal/model"
)

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("invalid input")

// FieldError names the offending field of a rejected payload.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

func invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Telemetry validates a sample and fills defaults. A zero timestamp becomes now.
func Telemetry(s model.TelemetrySample, now time.Time) (model.TelemetrySample, error) {
	s.VehicleVIN = strings.TrimSpace(s.VehicleVIN)
	if s.VehicleVIN == "" {
		return s, invalid("vehicle_vin", "required")
	}
	if len(s.VehicleVIN) > 17 {
		return s, invalid("vehicle_vin", "at most 17 characters")
	}
	if !finite(s.Latitude) || s.Latitude < -90 || s.Latitude > 90 {
		return s, invalid("latitude", "must be within -90..90, got %v", s.Latitude)
	}
	if !finite(s.Longitude) || s.Longitude < -180 || s.Longitude > 180 {
		return s, invalid("longitude", "must be within -180..180, got %v", s.Longitude)
	}
	if !finite(s.Speed) || s.Speed < 0 {
		return s, invalid("speed", "must be non-negative, got %v", s.Speed)
	}
	if !finite(s.FuelBatteryLevel) || s.FuelBatteryLevel < 0 || s.FuelBatteryLevel > 100 {
		return s, invalid("fuel_battery_level", "must be within 0..100, got %v", s.FuelBatteryLevel)
	}
	if !finite(s.OdometerReading) || s.OdometerReading < 0 {
		return s, invalid("odometer_reading", "must be non-negative, got %v", s.OdometerReading)
	}
	status, ok := ParseEngineStatus(string(s.EngineStatus))
	if !ok {
		return s, invalid("engine_status", "must be On, Off or Idle, got %q", s.EngineStatus)
	}
	s.EngineStatus = status

	codes := make([]string, 0, len(s.DiagnosticCodes))
	for _, c := range s.DiagnosticCodes {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	s.DiagnosticCodes = codes

	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	s.Timestamp = s.Timestamp.UTC()
	return s, nil
}

// Vehicle validates a registry entry. An empty registration status becomes Active.
func Vehicle(v model.Vehicle) (model.Vehicle, error) {
	v.VIN = strings.TrimSpace(v.VIN)
	required := []struct {
		field string
		value *string
	}{
		{"vin", &v.VIN},
		{"manufacturer", &v.Manufacturer},
		{"model", &v.Model},
		{"fleet_id", &v.FleetID},
		{"owner_operator", &v.OwnerOperator},
	}
	for _, r := range required {
		*r.value = strings.TrimSpace(*r.value)
		if *r.value == "" {
			return v, invalid(r.field, "required")
		}
	}
	if len(v.VIN) > 17 {
		return v, invalid("vin", "at most 17 characters")
	}
	if v.RegistrationStatus == "" {
		v.RegistrationStatus = model.RegistrationActive
	}
	if !v.RegistrationStatus.Valid() {
		return v, invalid("registration_status", "unknown value %q", v.RegistrationStatus)
	}
	return v, nil
}

// ParseStatus accepts an incident status in any case.
func ParseStatus(value string) (model.Status, error) {
	s := model.Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", invalid("status", "must be active, acknowledged or resolved, got %q", value)
	}
	return s, nil
}

func ParseEngineStatus(value string) (model.EngineStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "running", "started":
		return model.EngineOn, true
	case "off", "stopped":
		return model.EngineOff, true
	case "idle", "idling":
		return model.EngineIdle, true
	}
	return "", false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC3339 variants and unix seconds or milliseconds.
// Values without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
