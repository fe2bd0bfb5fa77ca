package model

import "time"

type EngineStatus string

const (
	EngineOn   EngineStatus = "On"
	EngineOff  EngineStatus = "Off"
	EngineIdle EngineStatus = "Idle"
)

func (e EngineStatus) Valid() bool {
	switch e {
	case EngineOn, EngineOff, EngineIdle:
		return true
	}
	return false
}

type RegistrationStatus string

const (
	RegistrationActive         RegistrationStatus = "Active"
	RegistrationMaintenance    RegistrationStatus = "Maintenance"
	RegistrationDecommissioned RegistrationStatus = "Decommissioned"
)

func (r RegistrationStatus) Valid() bool {
	switch r {
	case RegistrationActive, RegistrationMaintenance, RegistrationDecommissioned:
		return true
	}
	return false
}

// AlertKind is the condition a raw alert or incident reports.
type AlertKind string

const (
	KindSpeedViolation AlertKind = "speed_violation"
	KindLowFuelBattery AlertKind = "low_fuel_battery"
)

func (k AlertKind) Valid() bool {
	switch k {
	case KindSpeedViolation, KindLowFuelBattery:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

type Vehicle struct {
	ID                 int64              `json:"id"`
	VIN                string             `json:"vin"`
	Manufacturer       string             `json:"manufacturer"`
	Model              string             `json:"model"`
	FleetID            string             `json:"fleet_id"`
	OwnerOperator      string             `json:"owner_operator"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
	CreatedAt          time.Time          `json:"created_at"`
}

type TelemetrySample struct {
	ID               int64        `json:"id"`
	VehicleVIN       string       `json:"vehicle_vin"`
	Latitude         float64      `json:"latitude"`
	Longitude        float64      `json:"longitude"`
	Speed            float64      `json:"speed"`
	EngineStatus     EngineStatus `json:"engine_status"`
	FuelBatteryLevel float64      `json:"fuel_battery_level"`
	OdometerReading  float64      `json:"odometer_reading"`
	DiagnosticCodes  []string     `json:"diagnostic_codes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// RawAlert is a single threshold violation tied to one telemetry sample.
// Resolved is kept for audit only; incident status supersedes it.
type RawAlert struct {
	ID         int64     `json:"id"`
	AlertID    string    `json:"alert_id"`
	VehicleVIN string    `json:"vehicle_vin"`
	Kind       AlertKind `json:"alert_type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Resolved   bool      `json:"resolved"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActiveAlert is one deduplicated incident for a (vehicle, kind) pair.
type ActiveAlert struct {
	ID              int64      `json:"id"`
	ExternalID      string     `json:"alert_sender_id"`
	VehicleVIN      string     `json:"vehicle_vin"`
	Kind            AlertKind  `json:"alert_type"`
	Severity        Severity   `json:"severity"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Status          Status     `json:"status"`
	FirstOccurrence time.Time  `json:"first_occurrence"`
	LastOccurrence  time.Time  `json:"last_occurrence"`
	OccurrenceCount int        `json:"occurrence_count"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	RelatedAlerts   int        `json:"related_alerts_count"`
}

// StatusUpdate carries the optional fields of a lifecycle transition.
type StatusUpdate struct {
	Status     *Status `json:"status,omitempty"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
}

// Empty reports an update with no fields present. A present but blank
// resolved_by is a field and is stored as given.
func (u StatusUpdate) Empty() bool {
	return u.Status == nil && u.ResolvedBy == nil
}

type AlertHistory struct {
	ActiveAlert ActiveAlert `json:"active_alert"`
	RawAlerts   []RawAlert  `json:"raw_alerts"`
}

type DashboardSummary struct {
	ActiveCount       int               `json:"active_alerts_count"`
	ResolvedCount     int               `json:"resolved_alerts_count"`
	AcknowledgedCount int               `json:"acknowledged_alerts_count"`
	BySeverity        map[Severity]int  `json:"alerts_by_severity"`
	ByKind            map[AlertKind]int `json:"alerts_by_type"`
	RecentActive      []ActiveAlert     `json:"recent_active_alerts"`
}

type FleetAnalytics struct {
	VehicleStatus struct {
		Active   int `json:"active_vehicles"`
		Inactive int `json:"inactive_vehicles"`
		Total    int `json:"total_vehicles"`
	} `json:"vehicle_status"`
	FuelBattery struct {
		Average float64 `json:"average_fuel_battery_level"`
	} `json:"fuel_battery_analytics"`
	Distance struct {
		Total float64 `json:"total_distance_24h"`
	} `json:"distance_analytics"`
	Alerts struct {
		Total      int            `json:"total_alerts"`
		ByType     map[string]int `json:"by_type"`
		BySeverity map[string]int `json:"by_severity"`
	} `json:"alert_summary"`
}
