package stream

import (
	"encoding/json"
	"time"
)

// EventType enumerates every server-to-client message. The set is closed:
// Hub and handler code switch over it exhaustively instead of dispatching
// on arbitrary strings.
type EventType string

const (
	EventUserJoined     EventType = "user-joined"
	EventLocationUpdate EventType = "location-update"
	EventUserOffline    EventType = "user-offline"
	EventError          EventType = "error"
)

type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Location  *Point    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

func (e Event) encode() []byte {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	payload, _ := json.Marshal(e)
	return payload
}

// Inbound client messages form their own closed set; anything outside it is
// rejected with an error event rather than silently dropped.
const (
	msgJoinSession   = "join-session"
	msgLeaveSession  = "leave-session"
	msgShareLocation = "share-location"
)

type inboundMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
