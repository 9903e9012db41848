package vad

import (
	"encoding/binary"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/audio"
	"github.com/sjawhar/newscast/internal/logging"
)

// DefaultEnergyGain maps frame RMS onto a speech probability; an RMS of 0.04
// full scale reads as 0.8.
const DefaultEnergyGain = 20.0

// Energy is a Monitor that scores microphone frames by loudness. It holds the
// microphone only while started so recording can take it over.
type Energy struct {
	log  *zap.Logger
	gain float64

	capture *audio.Capture

	mu        sync.Mutex
	detector  *Detector
	onSpeech  func()
	destroyed bool
}

type EnergyOptions struct {
	Open   audio.Opener
	Config Config
	Gain   float64
	Logger *zap.Logger
}

func NewEnergy(opts EnergyOptions) *Energy {
	if opts.Gain <= 0 {
		opts.Gain = DefaultEnergyGain
	}
	e := &Energy{
		log:      logging.OrNop(opts.Logger).Named("vad"),
		gain:     opts.Gain,
		detector: NewDetector(opts.Config),
	}
	e.capture = audio.NewCapture(audio.CaptureOptions{
		Open:   opts.Open,
		Logger: e.log,
		OnFailure: func(err error) {
			e.log.Warn("voice activity input failed", zap.Error(err))
		},
	})
	return e
}

func (e *Energy) OnSpeechStart(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSpeech = fn
}

func (e *Energy) Start() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	e.detector.Reset()
	e.mu.Unlock()

	if e.capture.Active() {
		return nil
	}
	// A capture that failed mid-stream still holds its device.
	_ = e.capture.Stop()
	return e.capture.Start(e.frame)
}

func (e *Energy) Pause() {
	_ = e.capture.Stop()
}

func (e *Energy) Destroy() {
	e.mu.Lock()
	e.destroyed = true
	e.mu.Unlock()
	_ = e.capture.Stop()
}

func (e *Energy) frame(pcm []byte) error {
	prob := math.Min(1, RMS(pcm)*e.gain)

	e.mu.Lock()
	onset := e.detector.Observe(prob)
	fn := e.onSpeech
	e.mu.Unlock()

	if onset && fn != nil {
		e.log.Debug("speech onset", zap.Float64("probability", prob))
		fn()
	}
	return nil
}

// RMS returns the root mean square of a PCM16 frame, normalised to [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
