package protocol

import "fmt"

// Status lines shown while no backend status is driving the display.
const (
	LineListening  = "Go ahead, I'm listening"
	LineConnecting = "Connecting..."
	LineRecording  = "Listening..."
	LineProcessing = "Processing..."
)

// StatusLine returns the user-facing line for a status event. An empty string
// means the event does not change the displayed line.
func StatusLine(s Status) string {
	switch ev := s.(type) {
	case ChunkReceived:
		return ""
	case Transcribing:
		return "Transcribing your voice..."
	case Transcribed:
		return fmt.Sprintf("Transcribed: %q", ev.Text)
	case Retrieving:
		return "Finding relevant news articles..."
	case Generating:
		return "Generating podcast response..."
	case PodcastGenerated:
		return "Podcast text ready!"
	case ConvertingToAudio:
		return "Converting to audio..."
	case StreamingAudio:
		return "Receiving audio stream..."
	case Complete:
		return "Complete! Playing podcast..."
	case Failure:
		return "Error: " + ev.Message
	case Warning:
		return "Warning: " + ev.Message
	case Reset:
		return LineListening
	default:
		return ""
	}
}
