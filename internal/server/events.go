package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ModeChangedEvent struct {
	Event
	Mode string `json:"mode"`
}

type StatusChangedEvent struct {
	Event
	Status string `json:"status"`
}

type TranscribedEvent struct {
	Event
	Text string `json:"text"`
}

type ReturnAvailableEvent struct {
	Event
	Available bool `json:"available"`
}

type BriefLoadedEvent struct {
	Event
	BriefID  string  `json:"brief_id"`
	Position float64 `json:"position"`
}

type VADChangedEvent struct {
	Event
	Enabled bool `json:"enabled"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
