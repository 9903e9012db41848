// Package protocol implements the wire format spoken with the chatter backend:
// inbound status events and audio fragments, and the outbound completion message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for text frames that are not valid status JSON.
	ErrMalformed = errors.New("malformed status message")
	// ErrUnknownKind is returned for well-formed status JSON with an unrecognised status.
	ErrUnknownKind = errors.New("unknown status kind")
)

type Kind string

const (
	KindChunkReceived     Kind = "chunk_received"
	KindTranscribing      Kind = "transcribing"
	KindTranscribed       Kind = "transcribed"
	KindRetrieving        Kind = "retrieving"
	KindGenerating        Kind = "generating"
	KindPodcastGenerated  Kind = "podcast_generated"
	KindConvertingToAudio Kind = "converting_to_audio"
	KindStreamingAudio    Kind = "streaming_audio"
	KindComplete          Kind = "complete"
	KindError             Kind = "error"
	KindReset             Kind = "reset"
	KindWarning           Kind = "warning"
)

// Event is either an AudioFragment or a Status. The set of implementations is closed.
type Event interface {
	isEvent()
}

// Status is a control event decoded from a text frame.
type Status interface {
	Event
	Kind() Kind
}

// AudioFragment is one binary frame of synthesized speech.
type AudioFragment struct {
	Data []byte
}

type ChunkReceived struct{ Size int }
type Transcribing struct{}
type Transcribed struct{ Text string }
type Retrieving struct{}
type Generating struct{}
type PodcastGenerated struct{ Text string }
type ConvertingToAudio struct{}
type StreamingAudio struct{}
type Complete struct{}
type Reset struct{}

// Failure is the error status. The backend aborts the current cycle when it sends one.
type Failure struct{ Message string }

type Warning struct{ Message string }

func (AudioFragment) isEvent()     {}
func (ChunkReceived) isEvent()     {}
func (Transcribing) isEvent()      {}
func (Transcribed) isEvent()       {}
func (Retrieving) isEvent()        {}
func (Generating) isEvent()        {}
func (PodcastGenerated) isEvent()  {}
func (ConvertingToAudio) isEvent() {}
func (StreamingAudio) isEvent()    {}
func (Complete) isEvent()          {}
func (Reset) isEvent()             {}
func (Failure) isEvent()           {}
func (Warning) isEvent()           {}

func (ChunkReceived) Kind() Kind     { return KindChunkReceived }
func (Transcribing) Kind() Kind      { return KindTranscribing }
func (Transcribed) Kind() Kind       { return KindTranscribed }
func (Retrieving) Kind() Kind        { return KindRetrieving }
func (Generating) Kind() Kind        { return KindGenerating }
func (PodcastGenerated) Kind() Kind  { return KindPodcastGenerated }
func (ConvertingToAudio) Kind() Kind { return KindConvertingToAudio }
func (StreamingAudio) Kind() Kind    { return KindStreamingAudio }
func (Complete) Kind() Kind          { return KindComplete }
func (Reset) Kind() Kind             { return KindReset }
func (Failure) Kind() Kind           { return KindError }
func (Warning) Kind() Kind           { return KindWarning }

type wireStatus struct {
	Status  *string `json:"status"`
	Text    *string `json:"text"`
	Error   *string `json:"error"`
	Warning *string `json:"warning"`
	Size    *int    `json:"size"`
}

// Decode classifies one inbound frame. Binary frames are audio; text frames
// must decode to a known status kind.
func Decode(binary bool, data []byte) (Event, error) {
	if binary {
		return AudioFragment{Data: append([]byte(nil), data...)}, nil
	}
	return DecodeStatus(data)
}

// DecodeStatus decodes a text frame into its Status variant.
func DecodeStatus(data []byte) (Status, error) {
	var w wireStatus
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// The backend reports some failures as a bare {"error": "..."} object.
	if w.Status == nil {
		switch {
		case w.Error != nil:
			return Failure{Message: *w.Error}, nil
		case w.Warning != nil:
			return Warning{Message: *w.Warning}, nil
		default:
			return nil, fmt.Errorf("%w: missing status field", ErrMalformed)
		}
	}

	switch Kind(*w.Status) {
	case KindChunkReceived:
		size := 0
		if w.Size != nil {
			size = *w.Size
		}
		return ChunkReceived{Size: size}, nil
	case KindTranscribing:
		return Transcribing{}, nil
	case KindTranscribed:
		if w.Text == nil {
			return nil, fmt.Errorf("%w: transcribed without text", ErrMalformed)
		}
		return Transcribed{Text: *w.Text}, nil
	case KindRetrieving:
		return Retrieving{}, nil
	case KindGenerating:
		return Generating{}, nil
	case KindPodcastGenerated:
		return PodcastGenerated{Text: deref(w.Text)}, nil
	case KindConvertingToAudio:
		return ConvertingToAudio{}, nil
	case KindStreamingAudio:
		return StreamingAudio{}, nil
	case KindComplete:
		return Complete{}, nil
	case KindReset:
		return Reset{}, nil
	case KindError:
		msg := deref(w.Error)
		if msg == "" {
			msg = "backend error"
		}
		return Failure{Message: msg}, nil
	case KindWarning:
		return Warning{Message: deref(w.Warning)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, *w.Status)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
