package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
)

// DecodeTelemetry accepts a single JSON object or an array of objects.
func DecodeTelemetry(data []byte) ([]model.TelemetrySample, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, fmt.Errorf("empty payload: %w", normalize.ErrInvalid)
	}
	dec := json.NewDecoder(bytes.NewReader(trim))
	dec.UseNumber()
	if trim[0] == '[' {
		var objs []map[string]interface{}
		if err := dec.Decode(&objs); err != nil {
			return nil, fmt.Errorf("decode telemetry: %w: %v", normalize.ErrInvalid, err)
		}
		out := make([]model.TelemetrySample, 0, len(objs))
		for i, obj := range objs {
			s, err := TelemetryFromMap(obj)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil
	}
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode telemetry: %w: %v", normalize.ErrInvalid, err)
	}
	s, err := TelemetryFromMap(obj)
	if err != nil {
		return nil, err
	}
	return []model.TelemetrySample{s}, nil
}

// TelemetryFromMap maps a loosely keyed object onto a sample. Keys are matched
// case-insensitively and common aliases are accepted. Range checks are left to
// normalize.Telemetry.
func TelemetryFromMap(obj map[string]interface{}) (model.TelemetrySample, error) {
	fields := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		fields[strings.ToLower(strings.TrimSpace(k))] = v
	}

	var (
		s   model.TelemetrySample
		err error
	)
	s.VehicleVIN = firstString(fields, "vehicle_vin", "vin", "vehicle_id")
	if s.VehicleVIN == "" {
		return s, &normalize.FieldError{Field: "vehicle_vin", Reason: "required"}
	}
	if s.Latitude, err = requiredNumber(fields, "latitude", "lat"); err != nil {
		return s, err
	}
	if s.Longitude, err = requiredNumber(fields, "longitude", "lon", "lng"); err != nil {
		return s, err
	}
	if s.Speed, err = requiredNumber(fields, "speed"); err != nil {
		return s, err
	}
	if s.FuelBatteryLevel, err = requiredNumber(fields, "fuel_battery_level", "fuel", "battery"); err != nil {
		return s, err
	}
	if s.OdometerReading, err = requiredNumber(fields, "odometer_reading", "odometer"); err != nil {
		return s, err
	}
	if s.EngineStatus, err = engineStatus(fields); err != nil {
		return s, err
	}
	if s.DiagnosticCodes, err = codes(fields, "diagnostic_codes", "dtc"); err != nil {
		return s, err
	}
	if s.Timestamp, err = timestamp(fields, "timestamp", "time", "ts"); err != nil {
		return s, err
	}
	return s, nil
}

func firstValue(m map[string]interface{}, keys ...string) (string, interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return k, v, true
		}
	}
	return keys[0], nil, false
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func requiredNumber(m map[string]interface{}, keys ...string) (float64, error) {
	key, v, ok := firstValue(m, keys...)
	if !ok {
		return 0, &normalize.FieldError{Field: keys[0], Reason: "required"}
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, &normalize.FieldError{Field: key, Reason: err.Error()}
	}
	return f, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

// engineStatus also accepts a boolean engine_on flag.
func engineStatus(m map[string]interface{}) (model.EngineStatus, error) {
	if on, ok := m["engine_on"].(bool); ok {
		if on {
			return model.EngineOn, nil
		}
		return model.EngineOff, nil
	}
	key, v, ok := firstValue(m, "engine_status", "engine")
	if !ok {
		return "", &normalize.FieldError{Field: "engine_status", Reason: "required"}
	}
	raw, _ := v.(string)
	status, ok := normalize.ParseEngineStatus(raw)
	if !ok {
		return "", &normalize.FieldError{Field: key, Reason: fmt.Sprintf("must be On, Off or Idle, got %v", v)}
	}
	return status, nil
}

// codes accepts a JSON array of strings or a comma-separated string.
func codes(m map[string]interface{}, keys ...string) ([]string, error) {
	key, v, ok := firstValue(m, keys...)
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			str, ok := item.(string)
			if !ok {
				return nil, &normalize.FieldError{Field: key, Reason: "must be a list of strings"}
			}
			out = append(out, str)
		}
		return out, nil
	case string:
		if strings.TrimSpace(list) == "" {
			return nil, nil
		}
		return strings.Split(list, ","), nil
	}
	return nil, &normalize.FieldError{Field: key, Reason: "must be a list of strings"}
}

// timestamp leaves the zero time when absent so normalize stamps the receive time.
func timestamp(m map[string]interface{}, keys ...string) (time.Time, error) {
	key, v, ok := firstValue(m, keys...)
	if !ok {
		return time.Time{}, nil
	}
	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	case json.Number:
		raw = t.String()
	default:
		return time.Time{}, &normalize.FieldError{Field: key, Reason: "must be a string or unix time"}
	}
	ts, err := normalize.ParseTimestamp(raw, time.UTC)
	if err != nil {
		return time.Time{}, &normalize.FieldError{Field: key, Reason: err.Error()}
	}
	return ts, nil
}
