package location

import "time"

const (
	// Publish cadence accepted from clients, in milliseconds.
	MinUpdateIntervalMs = 5000
	MaxUpdateIntervalMs = 300000

	defaultUpdateIntervalMs = 30000
	defaultSessionName      = "Live share"
)

type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	IsActive         bool       `json:"is_active"`
	IsPublic         bool       `json:"is_public"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	LastActivity     time.Time  `json:"last_activity"`
	UpdateIntervalMs int        `json:"update_interval_ms"`
	AutoStopEnabled  bool       `json:"auto_stop_enabled"`
	AutoStopMinutes  int        `json:"auto_stop_minutes,omitempty"`
	ShareWith        []string   `json:"share_with,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// SharedWith reports whether userID may read from and append to the session.
func (s Session) SharedWith(userID string) bool {
	if s.UserID == userID {
		return true
	}
	for _, id := range s.ShareWith {
		if id == userID {
			return true
		}
	}
	return false
}

// Visible reports whether userID may observe the session: its live room,
// latest position, summary and presence. Public sessions are visible to
// everyone; private ones only to the owner and the share list.
func (s Session) Visible(userID string) bool {
	return s.IsPublic || s.SharedWith(userID)
}

// Sample is one geolocated point. Samples are append-only: once written they
// are never updated.
type Sample struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Lat         float64   `json:"latitude"`
	Lng         float64   `json:"longitude"`
	AccuracyM   float64   `json:"accuracy_m,omitempty"`
	AltitudeM   float64   `json:"altitude_m,omitempty"`
	SpeedMps    float64   `json:"speed_mps,omitempty"`
	Heading     float64   `json:"heading,omitempty"`
	BatteryPct  float64   `json:"battery_pct,omitempty"`
	NetworkType string    `json:"network_type,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type SessionPatch struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPublic    *bool     `json:"is_public"`
	IsActive    *bool     `json:"is_active"`
	ShareWith   *[]string `json:"share_with"`
}

type HistoryFilter struct {
	SessionID string
	Start     time.Time
	End       time.Time
}

type Summary struct {
	SessionID     string  `json:"session_id"`
	PointCount    int     `json:"point_count"`
	DistanceM     float64 `json:"distance_m"`
	DurationSec   int64   `json:"duration_sec"`
	AverageSpeedM float64 `json:"average_speed_mps"`
}

func clampUpdateInterval(ms int) int {
	switch {
	case ms == 0:
		return defaultUpdateIntervalMs
	case ms < MinUpdateIntervalMs:
		return MinUpdateIntervalMs
	case ms > MaxUpdateIntervalMs:
		return MaxUpdateIntervalMs
	}
	return ms
}

func validatePoint(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrValidation
	}
	return nil
}
