package session

// Mode is the single state tag of the session. Whether the microphone or an
// answer is live is derived from it.
type Mode int

const (
	Idle Mode = iota
	PlayingBrief
	PausedForQA
	Recording
	PlayingQA
	ResumingBrief
)

var modeNames = [...]string{"idle", "playing_brief", "paused_for_qa", "recording", "playing_qa", "resuming_brief"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Status lines for failures detected on the client.
const (
	LineMicDenied      = "Microphone access denied"
	LineMicUnavailable = "Microphone unavailable"
	LineConnectFailed  = "Could not reach the server"
	LineConnectionLost = "Connection lost"
	LineNoAnswer       = "Could not play the answer"
)
