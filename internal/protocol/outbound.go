package protocol

import "encoding/json"

// CompleteMessage ends one user utterance. DailyBriefID is serialised as null
// when no brief is loaded so the backend can tell "no context" from "empty id".
type CompleteMessage struct {
	Type         string  `json:"type"`
	DailyBriefID *string `json:"daily_brief_id"`
}

func NewComplete(dailyBriefID string) CompleteMessage {
	msg := CompleteMessage{Type: "complete"}
	if dailyBriefID != "" {
		id := dailyBriefID
		msg.DailyBriefID = &id
	}
	return msg
}

func (m CompleteMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
