package session

import (
	"context"
	"time"

	"github.com/sjawhar/newscast/internal/audio"
	"github.com/sjawhar/newscast/internal/channel"
	"github.com/sjawhar/newscast/internal/playback"
)

// Capture is the microphone pipeline.
type Capture interface {
	Start(sink audio.FrameSink) error
	Stop() error
}

// Channel is the duplex connection to the backend.
type Channel interface {
	State() channel.State
	Connect(ctx context.Context) error
	SendBinary(data []byte) error
	SendWhenOpen(data []byte, done func(error)) (channel.Delivery, error)
}

// Renderer plays one Playable at a time. The brief and the answers each get
// their own.
type Renderer interface {
	Play(p *playback.Playable)
	Cue(p *playback.Playable, at time.Duration)
	Pause()
	Resume()
	Stop()
	Current() string
	Position() time.Duration
	Seek(d time.Duration) error
}

// Monitor detects speech onset. See vad.Monitor.
type Monitor interface {
	Start() error
	Pause()
	Destroy()
	OnSpeechStart(fn func())
}

// Timer runs fn once after a fixed delay unless cancelled. Arming again
// replaces the pending callback.
type Timer interface {
	Arm(fn func())
	Cancel()
}

// Archive keeps the raw audio of each question.
type Archive interface {
	StartCycle(cycleID string, sampleRate int) error
	EndCycle() (string, error)
}

// Journal persists finished Q&A cycles and the brief position.
type Journal interface {
	RecordCycle(c CycleRecord) error
	SaveBriefPosition(briefID string, position time.Duration) error
}

// EventBroadcaster fans session changes out to local UIs.
type EventBroadcaster interface {
	BroadcastModeChanged(mode Mode)
	BroadcastStatusChanged(line string)
	BroadcastTranscribed(text string)
	BroadcastReturnAvailable(available bool)
	BroadcastBriefLoaded(briefID string, position time.Duration)
}

// Outcome is how a Q&A cycle ended.
type Outcome string

const (
	OutcomeAnswered    Outcome = "answered"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeDiscarded   Outcome = "discarded"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeFailed      Outcome = "failed"
)

// CycleRecord describes one finished Q&A cycle.
type CycleRecord struct {
	ID        string    `json:"id"`
	BriefID   string    `json:"brief_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	AudioPath string    `json:"audio_path,omitempty"`
}

// Snapshot is a point-in-time view of the session for status queries.
type Snapshot struct {
	Mode               Mode          `json:"mode"`
	Status             string        `json:"status"`
	BriefID            string        `json:"brief_id,omitempty"`
	BriefPosition      time.Duration `json:"brief_position_ns"`
	SavedBriefPosition time.Duration `json:"saved_brief_position_ns"`
	ShouldAutoResume   bool          `json:"should_auto_resume"`
	InFollowUpMode     bool          `json:"in_follow_up_mode"`
	VADEnabled         bool          `json:"vad_enabled"`
	CycleID            string        `json:"cycle_id,omitempty"`
	ReturnAvailable    bool          `json:"return_available"`
}
