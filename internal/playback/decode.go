package playback

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	"github.com/google/uuid"

	"github.com/sjawhar/newscast/internal/audio"
)

// ErrDecode is matched by every DecodeError.
var ErrDecode = errors.New("no audio format could decode the response")

// Format names one container tried when decoding a response.
type Format string

const (
	FormatWAV   Format = "wav"
	FormatMP3   Format = "mp3"
	FormatPCM16 Format = "pcm16"
)

// DefaultFormats is the trial order used when none is configured.
var DefaultFormats = []Format{FormatWAV, FormatMP3, FormatPCM16}

// ParseFormats validates configured format names, keeping their order.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, name := range names {
		f := Format(strings.ToLower(strings.TrimSpace(name)))
		switch f {
		case FormatWAV, FormatMP3, FormatPCM16:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("unknown audio format %q", name)
		}
	}
	if len(out) == 0 {
		return DefaultFormats, nil
	}
	return out, nil
}

// FormatError is one failed decode attempt.
type FormatError struct {
	Format Format
	Err    error
}

// DecodeError lists every format tried for one buffer, in order.
type DecodeError struct {
	Bytes    int
	Attempts []FormatError
}

func (e *DecodeError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Format, a.Err)
	}
	return fmt.Sprintf("decode %d bytes: %s", e.Bytes, strings.Join(parts, "; "))
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Decoder turns a complete audio payload into a Playable by trying each
// configured format in order until one yields audible samples.
type Decoder struct {
	formats []Format
	pcmRate int
}

// NewDecoder returns a decoder for formats. pcmRate is the sample rate assumed
// for headerless PCM16 payloads.
func NewDecoder(formats []Format, pcmRate int) *Decoder {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	if pcmRate <= 0 {
		pcmRate = 24000
	}
	return &Decoder{formats: formats, pcmRate: pcmRate}
}

func (d *Decoder) Decode(data []byte) (*Playable, error) {
	decodeErr := &DecodeError{Bytes: len(data)}
	for _, f := range d.formats {
		streamer, format, err := d.try(f, data)
		if err == nil && streamer.Len() == 0 {
			_ = streamer.Close()
			err = errors.New("no samples")
		}
		if err != nil {
			decodeErr.Attempts = append(decodeErr.Attempts, FormatError{Format: f, Err: err})
			continue
		}
		return &Playable{
			ID:       uuid.NewString(),
			Format:   f,
			streamer: streamer,
			format:   format,
		}, nil
	}
	return nil, decodeErr
}

func (d *Decoder) try(f Format, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	switch f {
	case FormatWAV:
		return wav.Decode(bytes.NewReader(data))
	case FormatMP3:
		return mp3.Decode(readSeekNopCloser{bytes.NewReader(data)})
	case FormatPCM16:
		if len(data)%2 != 0 {
			return nil, beep.Format{}, fmt.Errorf("odd payload length %d", len(data))
		}
		wrapped := append(audio.WAVHeader(len(data), d.pcmRate), data...)
		return wav.Decode(bytes.NewReader(wrapped))
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported format %q", f)
	}
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

// Playable is a decoded, ready-to-play response. Release frees the decoder and
// may be called any number of times.
type Playable struct {
	ID     string
	Format Format

	streamer beep.StreamSeekCloser
	format   beep.Format

	releaseOnce sync.Once
	releases    int
}

func (p *Playable) Duration() time.Duration {
	return p.format.SampleRate.D(p.streamer.Len())
}

func (p *Playable) Release() {
	p.releaseOnce.Do(func() {
		p.releases++
		_ = p.streamer.Close()
	})
}
