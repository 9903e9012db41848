// Package vad detects the start of user speech so passive playback can be
// interrupted hands-free.
package vad

import "errors"

// ErrDestroyed is returned by Start after Destroy.
var ErrDestroyed = errors.New("voice activity monitor destroyed")

// Monitor is a speech onset detector the session starts and pauses around
// passive playback. OnSpeechStart must be set before the first Start.
type Monitor interface {
	Start() error
	Pause()
	Destroy()
	OnSpeechStart(fn func())
}

// Config tunes onset detection.
type Config struct {
	// PositiveSpeechThreshold is the per-frame speech probability above which a
	// frame counts as speech.
	PositiveSpeechThreshold float64
	// NegativeSpeechThreshold is the probability below which a frame counts as
	// silence. Zero means PositiveSpeechThreshold - 0.15.
	NegativeSpeechThreshold float64
	// MinSpeechFrames consecutive speech frames report an onset.
	MinSpeechFrames int
	// RedemptionFrames silent frames end a speech segment.
	RedemptionFrames int
}

func DefaultConfig() Config {
	return Config{PositiveSpeechThreshold: 0.8, MinSpeechFrames: 3, RedemptionFrames: 8}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PositiveSpeechThreshold <= 0 {
		c.PositiveSpeechThreshold = d.PositiveSpeechThreshold
	}
	if c.NegativeSpeechThreshold <= 0 {
		c.NegativeSpeechThreshold = c.PositiveSpeechThreshold - 0.15
	}
	if c.MinSpeechFrames <= 0 {
		c.MinSpeechFrames = d.MinSpeechFrames
	}
	if c.RedemptionFrames <= 0 {
		c.RedemptionFrames = d.RedemptionFrames
	}
	return c
}

// Detector turns a stream of per-frame speech probabilities into onset
// events. A segment starts after MinSpeechFrames positive frames and ends
// after RedemptionFrames negative frames; only the start is reported.
type Detector struct {
	cfg        Config
	speechRun  int
	silenceRun int
	speaking   bool
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Observe feeds one frame probability and reports whether it completes an onset.
func (d *Detector) Observe(prob float64) bool {
	switch {
	case prob >= d.cfg.PositiveSpeechThreshold:
		d.silenceRun = 0
		d.speechRun++
		if !d.speaking && d.speechRun >= d.cfg.MinSpeechFrames {
			d.speaking = true
			return true
		}
	case prob < d.cfg.NegativeSpeechThreshold:
		d.silenceRun++
		if !d.speaking {
			d.speechRun = 0
		} else if d.silenceRun >= d.cfg.RedemptionFrames {
			d.speaking = false
			d.speechRun = 0
		}
	}
	return false
}

func (d *Detector) Reset() {
	d.speechRun, d.silenceRun, d.speaking = 0, 0, false
}
