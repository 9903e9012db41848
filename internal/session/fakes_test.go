package session

import (
	"context"
	"sync"
	"time"

	"github.com/sjawhar/newscast/internal/audio"
	"github.com/sjawhar/newscast/internal/channel"
	"github.com/sjawhar/newscast/internal/playback"
)

// trace records cross-fake events in the order they happened.
type trace struct {
	mu     sync.Mutex
	events []string
}

func (t *trace) add(ev string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

func (t *trace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func (t *trace) count(ev string) int {
	n := 0
	for _, e := range t.snapshot() {
		if e == ev {
			n++
		}
	}
	return n
}

type pendingCompletion struct {
	data []byte
	done func(error)
}

type channelFake struct {
	trace *trace

	mu          sync.Mutex
	state       channel.State
	connectErr  error
	connectGate chan struct{}
	connects    int
	frames      int
	completions [][]byte
	queued      []pendingCompletion
}

func (c *channelFake) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *channelFake) setState(s channel.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *channelFake) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connects++
	gate := c.connectGate
	c.state = channel.StateConnecting
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		c.state = channel.StateClosed
		return c.connectErr
	}
	c.state = channel.StateOpen
	return nil
}

func (c *channelFake) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channel.StateOpen {
		return channel.ErrNotOpen
	}
	c.frames++
	return nil
}

func (c *channelFake) SendWhenOpen(data []byte, done func(error)) (channel.Delivery, error) {
	c.mu.Lock()
	switch c.state {
	case channel.StateOpen:
		c.completions = append(c.completions, data)
		c.mu.Unlock()
		c.trace.add("complete")
		if done != nil {
			done(nil)
		}
		return channel.Sent, nil
	case channel.StateConnecting:
		c.queued = append(c.queued, pendingCompletion{data: data, done: done})
		c.mu.Unlock()
		return channel.Queued, nil
	default:
		c.mu.Unlock()
		return channel.Sent, channel.ErrNotOpen
	}
}

// open completes a pending connection and flushes queued sends once.
func (c *channelFake) open() {
	c.mu.Lock()
	c.state = channel.StateOpen
	queued := c.queued
	c.queued = nil
	for _, q := range queued {
		c.completions = append(c.completions, q.data)
	}
	c.mu.Unlock()

	for _, q := range queued {
		c.trace.add("complete")
		if q.done != nil {
			q.done(nil)
		}
	}
}

func (c *channelFake) sentCompletions() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.completions...)
}

type captureFake struct {
	trace *trace

	mu       sync.Mutex
	startErr error
	sink     audio.FrameSink
	active   bool
	starts   int
	stops    int
}

func (c *captureFake) Start(sink audio.FrameSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.starts++
	c.sink = sink
	c.active = true
	c.trace.add("start")
	return nil
}

func (c *captureFake) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false
	c.stops++
	c.trace.add("stop")
	return nil
}

func (c *captureFake) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// emit pushes one frame through the sink as the capture goroutine would.
func (c *captureFake) emit(frame []byte) error {
	c.mu.Lock()
	sink, active := c.sink, c.active
	c.mu.Unlock()
	if !active {
		return nil
	}
	return sink(frame)
}

type rendererFake struct {
	name  string
	trace *trace

	mu       sync.Mutex
	current  *playback.Playable
	paused   bool
	position time.Duration
	plays    int
	cues     int
	stops    int
	seeks    []time.Duration
}

func (r *rendererFake) Play(p *playback.Playable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = p
	r.paused = false
	r.position = 0
	r.plays++
	r.trace.add(r.name + ".play")
}

func (r *rendererFake) Cue(p *playback.Playable, at time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = p
	r.paused = true
	r.position = at
	r.cues++
}

func (r *rendererFake) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

func (r *rendererFake) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	r.trace.add(r.name + ".resume")
}

func (r *rendererFake) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.current.Release()
	r.current = nil
	r.stops++
}

func (r *rendererFake) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.ID
}

func (r *rendererFake) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *rendererFake) Seek(d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = d
	r.seeks = append(r.seeks, d)
	return nil
}

// advance moves the play head as if playback progressed.
func (r *rendererFake) advance(to time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = to
}

// finish ends the current playable naturally and returns its ID.
func (r *rendererFake) finish() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	id := r.current.ID
	r.current.Release()
	r.current = nil
	return id
}

func (r *rendererFake) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *rendererFake) counts() (plays, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plays, r.stops
}

type monitorFake struct {
	mu       sync.Mutex
	onSpeech func()
	running  bool
	starts   int
	pauses   int
	destroys int
}

func (v *monitorFake) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.running = true
	v.starts++
	return nil
}

func (v *monitorFake) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.running = false
	v.pauses++
}

func (v *monitorFake) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.running = false
	v.destroys++
}

func (v *monitorFake) OnSpeechStart(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onSpeech = fn
}

// speak fires the onset callback regardless of running state, as a late
// detector callback would.
func (v *monitorFake) speak() {
	v.mu.Lock()
	fn := v.onSpeech
	v.mu.Unlock()
	fn()
}

func (v *monitorFake) isRunning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

type timerFake struct {
	mu      sync.Mutex
	pending func()
	arms    int
}

func (t *timerFake) Arm(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = fn
	t.arms++
}

func (t *timerFake) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
}

func (t *timerFake) armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

func (t *timerFake) fire() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type journalFake struct {
	mu        sync.Mutex
	cycles    []CycleRecord
	positions map[string]time.Duration
}

func (j *journalFake) RecordCycle(c CycleRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cycles = append(j.cycles, c)
	return nil
}

func (j *journalFake) SaveBriefPosition(briefID string, position time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.positions == nil {
		j.positions = map[string]time.Duration{}
	}
	j.positions[briefID] = position
	return nil
}

func (j *journalFake) records() []CycleRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]CycleRecord(nil), j.cycles...)
}

type hubFake struct {
	mu         sync.Mutex
	modes      []Mode
	statuses   []string
	transcript []string
	returns    []bool
	briefs     []string
}

func (h *hubFake) BroadcastModeChanged(mode Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modes = append(h.modes, mode)
}

func (h *hubFake) BroadcastStatusChanged(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, line)
}

func (h *hubFake) BroadcastTranscribed(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transcript = append(h.transcript, text)
}

func (h *hubFake) BroadcastReturnAvailable(available bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.returns = append(h.returns, available)
}

func (h *hubFake) BroadcastBriefLoaded(briefID string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.briefs = append(h.briefs, briefID)
}

func (h *hubFake) lastReturn() (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.returns) == 0 {
		return false, false
	}
	return h.returns[len(h.returns)-1], true
}
