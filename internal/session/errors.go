package session

import "errors"

var (
	// ErrClosed is returned by gestures after the manager has stopped.
	ErrClosed = errors.New("session manager closed")
	// ErrRecordingActive is returned by gestures not allowed while recording.
	ErrRecordingActive = errors.New("recording in progress")
	// ErrNoBrief is returned by brief gestures before a brief is loaded.
	ErrNoBrief = errors.New("no daily brief loaded")
	// ErrNothingToResume is returned by ReturnToBrief without a saved position.
	ErrNothingToResume = errors.New("no interrupted brief to return to")
)
