// Package audio owns the microphone: device access, the gated capture
// pipeline that turns float samples into PCM16 frames, and the optional
// per-question WAV archive.
package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

var (
	// ErrPermissionDenied means the OS refused microphone access. Retrying
	// without a new user gesture is pointless.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no usable input device could be opened.
	ErrDeviceUnavailable = errors.New("microphone unavailable")
)

// Device is a blocking source of mono float32 sample buffers.
type Device interface {
	Start() error
	// Read blocks until one hardware buffer is available.
	Read() ([]float32, error)
	Stop() error
	Close() error
	SampleRate() int
}

// Opener acquires a fresh device for one capture.
type Opener func() (Device, error)

// Init and Terminate bracket all PortAudio use in the process.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return classify(err)
	}
	return nil
}

func Terminate() { _ = portaudio.Terminate() }

// Mic wraps a PortAudio default input stream delivering float32 buffers.
type Mic struct {
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int
}

// OpenMic opens the default input device with the given sample rate and
// buffer size in frames.
func OpenMic(sampleRate, framesPerBuffer int) (*Mic, error) {
	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, classify(err)
	}
	return &Mic{stream: stream, buf: buf, sampleRate: sampleRate}, nil
}

// MicOpener returns an Opener for OpenMic.
func MicOpener(sampleRate, framesPerBuffer int) Opener {
	return func() (Device, error) {
		return OpenMic(sampleRate, framesPerBuffer)
	}
}

func (m *Mic) Start() error {
	if err := m.stream.Start(); err != nil {
		return classify(err)
	}
	return nil
}

func (m *Mic) Stop() error     { return m.stream.Stop() }
func (m *Mic) Close() error    { return m.stream.Close() }
func (m *Mic) SampleRate() int { return m.sampleRate }

// Read returns a copy of the next hardware buffer.
func (m *Mic) Read() ([]float32, error) {
	if err := m.stream.Read(); err != nil {
		return nil, err
	}
	out := make([]float32, len(m.buf))
	copy(out, m.buf)
	return out, nil
}

// classify maps a host audio error onto the capture error taxonomy. Hosts
// report a refused microphone only through the error text.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"permission", "denied", "not authorized", "not permitted"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
