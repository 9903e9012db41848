package playback

import (
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/logging"
)

// Output is the sink a Renderer mixes into. Lock must exclude the output's
// streaming goroutine.
type Output interface {
	Play(s beep.Streamer)
	Lock()
	Unlock()
	SampleRate() beep.SampleRate
}

type speakerOutput struct {
	rate beep.SampleRate
}

var (
	speakerOnce sync.Once
	speakerErr  error
	speakerRate beep.SampleRate
)

// Speaker initialises the process-wide speaker at rate on first use and
// returns an Output for it. Later calls reuse the first rate.
func Speaker(rate int) (Output, error) {
	speakerOnce.Do(func() {
		speakerRate = beep.SampleRate(rate)
		speakerErr = speaker.Init(speakerRate, speakerRate.N(time.Second/10))
	})
	if speakerErr != nil {
		return nil, speakerErr
	}
	return speakerOutput{rate: speakerRate}, nil
}

func (o speakerOutput) Play(s beep.Streamer)        { speaker.Play(s) }
func (o speakerOutput) Lock()                       { speaker.Lock() }
func (o speakerOutput) Unlock()                     { speaker.Unlock() }
func (o speakerOutput) SampleRate() beep.SampleRate { return o.rate }

// Callbacks report playback progress. They are invoked from their own
// goroutine and carry the Playable ID so stale notifications can be told apart.
type Callbacks struct {
	OnStarted func(id string)
	OnEnded   func(id string)
	OnError   func(id string, err error)
}

type track struct {
	playable *Playable
	ctrl     *beep.Ctrl
	stopped  bool
}

// Renderer plays one Playable at a time. Starting a new one first stops and
// releases the previous.
type Renderer struct {
	out Output
	cb  Callbacks
	log *zap.Logger

	mu      sync.Mutex
	current *track
}

func NewRenderer(out Output, cb Callbacks, logger *zap.Logger) *Renderer {
	return &Renderer{out: out, cb: cb, log: logging.OrNop(logger)}
}

func (r *Renderer) Play(p *Playable) {
	r.load(p, 0, false)
	if r.cb.OnStarted != nil {
		go r.cb.OnStarted(p.ID)
	}
}

// Cue loads p paused at position at. Resume starts it.
func (r *Renderer) Cue(p *Playable, at time.Duration) {
	r.load(p, at, true)
}

func (r *Renderer) load(p *Playable, at time.Duration, paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()

	if at > 0 {
		if err := p.streamer.Seek(clampSamples(p, at)); err != nil {
			r.log.Warn("seek before playback", zap.String("playable", p.ID), zap.Error(err))
		}
	}

	var src beep.Streamer = p.streamer
	if rate := r.out.SampleRate(); rate != 0 && rate != p.format.SampleRate {
		src = beep.Resample(4, p.format.SampleRate, rate, p.streamer)
	}
	t := &track{playable: p, ctrl: &beep.Ctrl{Streamer: src, Paused: paused}}
	r.current = t

	r.out.Play(beep.Seq(t.ctrl, beep.Callback(func() {
		// Runs on the output goroutine with the output locked.
		go r.finished(t)
	})))
	r.log.Debug("playback loaded", zap.String("playable", p.ID), zap.Bool("paused", paused), zap.Duration("duration", p.Duration()))
}

func (r *Renderer) finished(t *track) {
	r.mu.Lock()
	if t.stopped || r.current != t {
		r.mu.Unlock()
		return
	}
	r.current = nil
	t.stopped = true
	r.mu.Unlock()

	err := t.playable.streamer.Err()
	t.playable.Release()
	if err != nil {
		r.log.Warn("playback failed", zap.String("playable", t.playable.ID), zap.Error(err))
		if r.cb.OnError != nil {
			r.cb.OnError(t.playable.ID, err)
		}
		return
	}
	if r.cb.OnEnded != nil {
		r.cb.OnEnded(t.playable.ID)
	}
}

// Pause holds the current playable at its position.
func (r *Renderer) Pause() { r.setPaused(true) }

// Resume continues a paused playable.
func (r *Renderer) Resume() { r.setPaused(false) }

func (r *Renderer) setPaused(paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.out.Lock()
	r.current.ctrl.Paused = paused
	r.out.Unlock()
}

// Stop ends and releases the current playable without firing OnEnded. It is a
// no-op when nothing is playing.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Renderer) stopLocked() {
	t := r.current
	if t == nil {
		return
	}
	r.current = nil
	t.stopped = true

	r.out.Lock()
	t.ctrl.Streamer = nil
	r.out.Unlock()

	t.playable.Release()
	r.log.Debug("playback stopped", zap.String("playable", t.playable.ID))
}

// Current returns the ID of the loaded playable, or "".
func (r *Renderer) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.playable.ID
}

// Position returns the play position of the current playable.
func (r *Renderer) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return 0
	}
	p := r.current.playable
	r.out.Lock()
	defer r.out.Unlock()
	return p.format.SampleRate.D(p.streamer.Position())
}

// Seek moves the current playable to d, clamped to its length.
func (r *Renderer) Seek(d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	p := r.current.playable
	n := clampSamples(p, d)
	r.out.Lock()
	defer r.out.Unlock()
	return p.streamer.Seek(n)
}

func clampSamples(p *Playable, d time.Duration) int {
	n := p.format.SampleRate.N(d)
	if n < 0 {
		return 0
	}
	if l := p.streamer.Len(); n > l {
		return l
	}
	return n
}
