package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// VenueType enumerates the kinds of bookable venues on campus.
type VenueType string

const (
	VenueTypeAuditorium  VenueType = "auditorium"
	VenueTypeSeminarHall VenueType = "seminar_hall"
	VenueTypeLab         VenueType = "lab"
	VenueTypeClassroom   VenueType = "classroom"
	VenueTypeSportsHall  VenueType = "sports_hall"
	VenueTypeOpenGround  VenueType = "open_ground"
)

// VenueFeatures lists the logistics equipment a venue supports.
type VenueFeatures struct {
	Projector  bool `json:"projector"`
	Microphone bool `json:"microphone"`
	Speakers   bool `json:"speakers"`
	Whiteboard bool `json:"whiteboard"`
	AC         bool `json:"ac"`
	WiFi       bool `json:"wifi"`
	Stage      bool `json:"stage"`
	Sound      bool `json:"sound"`
	Lighting   bool `json:"lighting"`
}

// Value marshals features to JSON for persistence.
func (f VenueFeatures) Value() (driver.Value, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal venue features: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the feature set.
func (f *VenueFeatures) Scan(value interface{}) error {
	if value == nil {
		*f = VenueFeatures{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan venue features: %w", err)
	}
	return json.Unmarshal(data, f)
}

// DayHours is an operating window for a single weekday, "HH:MM" wall clock.
type DayHours struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Closed bool   `json:"closed,omitempty"`
}

// OperatingHours maps weekday names (lowercase, e.g. "monday") to windows.
type OperatingHours map[string]DayHours

// Value marshals operating hours to JSON for persistence.
func (h OperatingHours) Value() (driver.Value, error) {
	if h == nil {
		h = OperatingHours{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal operating hours: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the hours map.
func (h *OperatingHours) Scan(value interface{}) error {
	if value == nil {
		*h = OperatingHours{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan operating hours: %w", err)
	}
	return json.Unmarshal(data, h)
}

// Venue is a bookable campus facility. Owned by facilities and read-only here.
type Venue struct {
	ID               string         `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	Type             VenueType      `db:"type" json:"type"`
	Department       string         `db:"department" json:"department"`
	Capacity         int            `db:"capacity" json:"capacity"`
	Active           bool           `db:"active" json:"active"`
	UnderMaintenance bool           `db:"under_maintenance" json:"under_maintenance"`
	OperatingHours   OperatingHours `db:"operating_hours" json:"operating_hours"`
	Features         VenueFeatures  `db:"features" json:"features"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported jsonb source type %T", value)
	}
}
