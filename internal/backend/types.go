package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	VoiceAoede   = "en-US-Chirp3-HD-Aoede"
	VoiceAlnilam = "en-US-Chirp3-HD-Alnilam"
)

// ErrInvalidPreferences wraps every preference validation failure.
var ErrInvalidPreferences = errors.New("invalid preferences")

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// Preferences select what the daily brief covers and which voice narrates it.
type Preferences struct {
	Topics  StringList `json:"topics" validate:"min=1,dive,required"`
	Sources StringList `json:"sources" validate:"min=1,dive,required"`
	Voice   string     `json:"voice_preference,omitempty" validate:"omitempty,oneof=en-US-Chirp3-HD-Aoede en-US-Chirp3-HD-Alnilam"`
}

// Validate requires at least one topic and one source and a known voice.
func (p Preferences) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s: select at least one", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: must be %s or %s", fe.Field(), VoiceAoede, VoiceAlnilam))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidPreferences, strings.Join(msgs, "; "))
}

// StringList decodes either a JSON array of strings or a string holding one.
// The backend stores topics and sources as JSON text and returns them as-is.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	if strings.TrimSpace(encoded) == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &list); err != nil {
		return fmt.Errorf("decode encoded string list: %w", err)
	}
	*l = list
	return nil
}

type BriefStatus struct {
	HasBriefToday bool   `json:"has_brief_today"`
	DailyBriefID  string `json:"daily_brief_id,omitempty"`
	Generating    bool   `json:"generating"`
}

// DailyBrief is a generated narration. AudioURL may be relative to the backend.
type DailyBrief struct {
	ID         string    `json:"id"`
	AudioURL   string    `json:"audio_url"`
	Transcript string    `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryEntry is one answered question as recorded by the backend.
type HistoryEntry struct {
	ID           json.Number     `json:"id"`
	QuestionText string          `json:"question_text"`
	PodcastText  string          `json:"podcast_text"`
	AudioURL     string          `json:"audio_url"`
	SourceChunks json.RawMessage `json:"source_chunks,omitempty"`
	CreatedAt    string          `json:"created_at"`
}
