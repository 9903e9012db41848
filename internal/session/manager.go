package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/audio"
	"github.com/sjawhar/newscast/internal/channel"
	"github.com/sjawhar/newscast/internal/logging"
	"github.com/sjawhar/newscast/internal/playback"
	"github.com/sjawhar/newscast/internal/protocol"
)

type Options struct {
	Channel Channel
	Capture Capture
	Brief   Renderer
	Answer  Renderer
	Decoder *playback.Decoder

	Monitor Monitor
	Timer   Timer
	Journal Journal
	Archive Archive
	Hub     EventBroadcaster
	Logger  *zap.Logger

	// SampleRate of captured audio, used when archiving questions.
	SampleRate int
	VADEnabled bool
	Now        func() time.Time
}

// cycle is one question: recorded, completed, answered.
type cycle struct {
	id        string
	briefID   string
	startedAt time.Time

	// recording is set once the microphone is actually streaming.
	recording bool
	// completed is set once the completion message has been handed to the channel.
	completed bool
	// awaiting is set while the answer audio has not been finalized.
	awaiting bool
	// spoiled is set once part of the answer was dropped. The remainder is
	// dropped too so the answer is never spliced from non-contiguous parts.
	spoiled bool

	question  string
	answer    string
	audioPath string
}

type loadedBrief struct {
	id       string
	audio    []byte
	playable string
}

// Manager arbitrates the speaker and microphone between the daily brief, spoken
// answers and live recording. All state is owned by the goroutine running Run;
// gestures and callbacks reach it through an ordered mailbox.
type Manager struct {
	opts Options
	log  *zap.Logger
	now  func() time.Time

	mbox    *mailbox
	stopped chan struct{}
	ctx     context.Context

	mode               Mode
	status             string
	savedBriefPosition time.Duration
	shouldAutoResume   bool
	inFollowUpMode     bool
	returnAvailable    bool
	vadEnabled         bool

	brief       *loadedBrief
	answerBuf   *playback.Buffer
	answerID    string
	cycle       *cycle
	resumeToken uint64
}

func NewManager(opts Options) *Manager {
	if opts.Timer == nil {
		opts.Timer = NewResumeTimer(DefaultResumeDelay)
	}
	if opts.Decoder == nil {
		opts.Decoder = playback.NewDecoder(nil, 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		opts:       opts,
		log:        logging.OrNop(opts.Logger).Named("session"),
		now:        now,
		mbox:       newMailbox(),
		stopped:    make(chan struct{}),
		ctx:        context.Background(),
		status:     protocol.LineListening,
		vadEnabled: opts.VADEnabled,
		answerBuf:  playback.NewBuffer(),
	}
	if opts.Monitor != nil {
		opts.Monitor.OnSpeechStart(func() { m.post(m.speechStarted) })
	}
	return m
}

// Run processes the mailbox until ctx is cancelled, then releases the
// microphone, speaker and voice activity monitor.
func (m *Manager) Run(ctx context.Context) error {
	m.ctx = ctx
	m.log.Info("session manager started", zap.Stringer("mode", m.mode))
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-m.mbox.signal:
			for _, fn := range m.mbox.take() {
				fn()
			}
		}
	}
}

func (m *Manager) post(fn func()) {
	if !m.mbox.post(fn) {
		m.log.Debug("dropping message after shutdown")
	}
}

func (m *Manager) call(fn func() error) error {
	done := make(chan error, 1)
	if !m.mbox.post(func() { done <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-m.stopped:
		return ErrClosed
	}
}

// Sync returns once every message posted before it has been handled.
func (m *Manager) Sync() {
	_ = m.call(func() error { return nil })
}

// Gestures.

// PressCall is the call control: it starts a recording, or stops the one in
// progress.
func (m *Manager) PressCall() error { return m.call(m.pressCall) }

// ToggleBrief plays or pauses the brief from the transport controls.
func (m *Manager) ToggleBrief() error { return m.call(m.toggleBrief) }

// ReturnToBrief drops any answer and resumes the interrupted brief.
func (m *Manager) ReturnToBrief() error { return m.call(m.returnToBrief) }

// StopAnswer ends answer playback early.
func (m *Manager) StopAnswer() error { return m.call(m.stopAnswer) }

// SetVADEnabled applies the user's voice activity preference.
func (m *Manager) SetVADEnabled(enabled bool) error {
	return m.call(func() error {
		m.vadEnabled = enabled
		if !enabled {
			m.pauseVAD()
		} else if m.mode == PlayingBrief || m.mode == PlayingQA {
			m.startVAD()
		}
		return nil
	})
}

// LoadBrief makes audio the current brief, cued at position.
func (m *Manager) LoadBrief(id string, audio []byte, position time.Duration) error {
	return m.call(func() error { return m.loadBrief(id, audio, position) })
}

func (m *Manager) Snapshot() Snapshot {
	var snap Snapshot
	_ = m.call(func() error {
		snap = Snapshot{
			Mode:               m.mode,
			Status:             m.status,
			SavedBriefPosition: m.savedBriefPosition,
			ShouldAutoResume:   m.shouldAutoResume,
			InFollowUpMode:     m.inFollowUpMode,
			VADEnabled:         m.vadEnabled,
			ReturnAvailable:    m.returnAvailable,
		}
		if m.brief != nil {
			snap.BriefID = m.brief.id
			snap.BriefPosition = m.opts.Brief.Position()
		}
		if m.cycle != nil {
			snap.CycleID = m.cycle.id
		}
		return nil
	})
	return snap
}

// Callbacks from other goroutines. They never block.

// HandleEvent routes one inbound backend event.
func (m *Manager) HandleEvent(ev protocol.Event) { m.post(func() { m.handleEvent(ev) }) }

// ChannelClosed reports that the backend session ended unexpectedly.
func (m *Manager) ChannelClosed(err error) { m.post(func() { m.channelClosed(err) }) }

// CaptureFailed reports that the microphone pipeline stopped on its own.
func (m *Manager) CaptureFailed(err error) { m.post(func() { m.captureFailed(err) }) }

func (m *Manager) AnswerEnded(id string) { m.post(func() { m.answerEnded(id, nil) }) }

func (m *Manager) AnswerFailed(id string, err error) { m.post(func() { m.answerEnded(id, err) }) }

func (m *Manager) BriefEnded(id string) { m.post(func() { m.briefEnded(id, nil) }) }

func (m *Manager) BriefFailed(id string, err error) { m.post(func() { m.briefEnded(id, err) }) }

// Handlers. Everything below runs on the Run goroutine.

func (m *Manager) pressCall() error {
	switch m.mode {
	case Recording:
		return m.stopRecording()
	case PlayingBrief:
		m.interruptBrief()
		return m.startRecording()
	case PlayingQA:
		m.followUp()
		return m.startRecording()
	case ResumingBrief:
		m.cancelResume()
		m.setMode(PausedForQA)
		return m.startRecording()
	default:
		return m.startRecording()
	}
}

func (m *Manager) speechStarted() {
	if !m.vadEnabled {
		return
	}
	switch m.mode {
	case PlayingBrief:
		m.log.Info("speech interrupted brief")
		m.interruptBrief()
		_ = m.startRecording()
	case PlayingQA:
		m.log.Info("speech interrupted answer")
		m.followUp()
		_ = m.startRecording()
	}
}

// interruptBrief snapshots the play position before pausing so the resume
// point is exactly where the user cut in.
func (m *Manager) interruptBrief() {
	m.savedBriefPosition = m.opts.Brief.Position()
	m.opts.Brief.Pause()
	m.shouldAutoResume = true
	m.inFollowUpMode = false
	m.setReturnAvailable(false)
	m.persistBriefPosition(m.savedBriefPosition)
	m.setMode(PausedForQA)
}

func (m *Manager) followUp() {
	m.inFollowUpMode = true
	m.opts.Answer.Stop()
	m.answerID = ""
	m.finishCycle(OutcomeInterrupted, "follow-up question")
}

func (m *Manager) startRecording() error {
	m.pauseVAD()
	if m.cycle != nil {
		m.finishCycle(OutcomeCancelled, "superseded by a new question")
	}
	m.answerBuf.Discard()

	c := &cycle{id: uuid.NewString(), startedAt: m.now().UTC()}
	if m.brief != nil {
		c.briefID = m.brief.id
	}
	m.cycle = c
	m.setReturnAvailable(false)
	m.setMode(Recording)

	if m.opts.Channel.State() == channel.StateOpen {
		return m.beginCapture(c)
	}

	m.setStatus(protocol.LineConnecting)
	ctx := m.ctx
	go func() {
		err := m.opts.Channel.Connect(ctx)
		m.post(func() { m.connected(c, err) })
	}()
	return nil
}

func (m *Manager) connected(c *cycle, err error) {
	if m.cycle != c || m.mode != Recording || c.recording {
		return
	}
	if err != nil {
		m.log.Warn("connect failed", zap.String("cycle_id", c.id), zap.Error(err))
		m.abortCycle(OutcomeFailed, err.Error(), LineConnectFailed)
		return
	}
	_ = m.beginCapture(c)
}

func (m *Manager) beginCapture(c *cycle) error {
	if m.opts.Archive != nil {
		if err := m.opts.Archive.StartCycle(c.id, m.opts.SampleRate); err != nil {
			m.log.Warn("archive question audio", zap.Error(err))
		}
	}

	if err := m.opts.Capture.Start(m.sendFrame); err != nil {
		m.endArchive(c)
		line := LineMicUnavailable
		if errors.Is(err, audio.ErrPermissionDenied) {
			line = LineMicDenied
		}
		m.log.Warn("capture failed to start", zap.String("cycle_id", c.id), zap.Error(err))
		m.abortCycle(OutcomeFailed, err.Error(), line)
		return err
	}

	c.recording = true
	m.setStatus(protocol.LineRecording)
	m.log.Info("recording started", zap.String("cycle_id", c.id), zap.String("brief_id", c.briefID))
	return nil
}

// sendFrame runs on the capture goroutine.
func (m *Manager) sendFrame(frame []byte) error {
	return m.opts.Channel.SendBinary(frame)
}

// stopRecording waits for the last frame to be sent before the completion
// message, so the backend always sees the whole utterance first.
func (m *Manager) stopRecording() error {
	c := m.cycle
	_ = m.opts.Capture.Stop()
	m.endArchive(c)

	if c == nil || !c.recording {
		m.log.Info("recording stopped before the microphone opened")
		m.finishCycle(OutcomeCancelled, "stopped before capture started")
		m.setStatus(protocol.LineListening)
		m.settle()
		return nil
	}
	c.recording = false

	if m.shouldAutoResume {
		m.setMode(PausedForQA)
	} else {
		m.setMode(Idle)
	}
	m.sendCompletion(c)
	return nil
}

func (m *Manager) sendCompletion(c *cycle) {
	if c.completed {
		return
	}
	msg, err := protocol.NewComplete(c.briefID).Encode()
	if err != nil {
		m.abortCycle(OutcomeFailed, err.Error(), protocol.LineListening)
		return
	}
	c.completed = true
	c.awaiting = true

	delivery, err := m.opts.Channel.SendWhenOpen(msg, func(err error) {
		m.post(func() { m.completionDelivered(c, err) })
	})
	switch {
	case err != nil:
		m.log.Warn("completion not sent", zap.String("cycle_id", c.id), zap.Error(err))
		m.abortCycle(OutcomeFailed, "session closed before completion", protocol.LineListening)
	case delivery == channel.Queued:
		m.log.Info("completion queued until connected", zap.String("cycle_id", c.id))
		m.setStatus(protocol.LineConnecting)
	default:
		m.log.Info("completion sent", zap.String("cycle_id", c.id))
		m.setStatus(protocol.LineProcessing)
	}
}

func (m *Manager) completionDelivered(c *cycle, err error) {
	if m.cycle != c {
		return
	}
	if err != nil {
		m.log.Warn("deferred completion failed", zap.String("cycle_id", c.id), zap.Error(err))
		m.abortCycle(OutcomeFailed, err.Error(), protocol.LineListening)
		return
	}
	if m.status == protocol.LineConnecting {
		m.setStatus(protocol.LineProcessing)
	}
}

func (m *Manager) handleEvent(ev protocol.Event) {
	if frag, ok := ev.(protocol.AudioFragment); ok {
		m.answerFragment(frag.Data)
		return
	}
	status, ok := ev.(protocol.Status)
	if !ok {
		return
	}

	c := m.cycle
	if c == nil {
		m.log.Debug("status outside a question", zap.String("status", string(status.Kind())))
		return
	}
	if line := protocol.StatusLine(status); line != "" {
		m.setStatus(line)
	}

	switch s := status.(type) {
	case protocol.StreamingAudio:
		if m.acceptingAnswer() {
			m.answerBuf.Start()
		}
	case protocol.Transcribed:
		c.question = s.Text
		if m.opts.Hub != nil {
			m.opts.Hub.BroadcastTranscribed(s.Text)
		}
	case protocol.PodcastGenerated:
		c.answer = s.Text
	case protocol.Complete:
		m.answerComplete()
	case protocol.Failure:
		m.log.Warn("backend error", zap.String("cycle_id", c.id), zap.String("error", s.Message))
		m.abortCycle(OutcomeFailed, s.Message, protocol.LineListening)
	case protocol.Warning:
		m.log.Warn("backend warning", zap.String("cycle_id", c.id), zap.String("warning", s.Message))
	}
}

// acceptingAnswer reports whether answer audio may be collected. Audio that
// arrives while the brief, the microphone or another answer owns the device is
// dropped, never queued.
func (m *Manager) acceptingAnswer() bool {
	if m.cycle == nil || !m.cycle.awaiting || m.cycle.spoiled {
		return false
	}
	return m.mode == Idle || m.mode == PausedForQA
}

func (m *Manager) answerFragment(data []byte) {
	if !m.acceptingAnswer() {
		m.log.Debug("discarding answer fragment", zap.Stringer("mode", m.mode), zap.Int("bytes", len(data)))
		if m.cycle != nil && m.cycle.awaiting {
			m.spoilAnswer()
		}
		return
	}
	if !m.answerBuf.Accepting() {
		m.answerBuf.Start()
	}
	m.answerBuf.Append(data)
}

func (m *Manager) answerComplete() {
	c := m.cycle
	if !m.acceptingAnswer() {
		dropped := m.answerBuf.Discard()
		m.log.Info("discarding answer", zap.Stringer("mode", m.mode), zap.Int("bytes", dropped))
		switch {
		case c.spoiled:
			m.finishCycle(OutcomeDiscarded, "answer cut by brief playback")
		case c.awaiting:
			m.finishCycle(OutcomeDiscarded, "answer arrived while "+m.mode.String())
		}
		if m.mode == Idle {
			m.setStatus(protocol.LineListening)
		}
		return
	}

	p, err := m.answerBuf.Finalize(m.opts.Decoder)
	if err != nil {
		m.log.Warn("answer not playable", zap.String("cycle_id", c.id), zap.Error(err))
		m.finishCycle(OutcomeFailed, err.Error())
		m.setStatus(LineNoAnswer)
		m.settle()
		return
	}

	c.awaiting = false
	m.answerID = p.ID
	m.opts.Answer.Play(p)
	m.setMode(PlayingQA)
	m.startVAD()
}

// spoilAnswer drops the partial answer and everything still to come for the
// current cycle.
func (m *Manager) spoilAnswer() {
	dropped := m.answerBuf.Discard()
	c := m.cycle
	if c.spoiled {
		return
	}
	c.spoiled = true
	m.log.Info("dropping rest of answer", zap.String("cycle_id", c.id), zap.Stringer("mode", m.mode), zap.Int("bytes", dropped))
}

func (m *Manager) answerEnded(id string, err error) {
	if id == "" || id != m.answerID || m.mode != PlayingQA {
		return
	}
	m.answerID = ""
	if err != nil {
		m.log.Warn("answer playback failed", zap.Error(err))
		m.finishCycle(OutcomeFailed, err.Error())
	} else {
		m.finishCycle(OutcomeAnswered, "")
	}
	m.pauseVAD()
	m.setStatus(protocol.LineListening)
	m.settle()
}

func (m *Manager) stopAnswer() error {
	if m.mode != PlayingQA {
		return nil
	}
	m.opts.Answer.Stop()
	m.answerID = ""
	m.finishCycle(OutcomeInterrupted, "stopped by user")
	m.pauseVAD()
	m.setStatus(protocol.LineListening)
	m.settle()
	return nil
}

// settle decides what follows a finished question: resume the brief, wait on
// the user, or go idle.
func (m *Manager) settle() {
	switch {
	case m.shouldAutoResume && !m.inFollowUpMode && m.brief != nil:
		m.scheduleResume()
	case m.shouldAutoResume:
		m.setMode(PausedForQA)
		m.setReturnAvailable(true)
	default:
		m.setMode(Idle)
	}
}

func (m *Manager) scheduleResume() {
	m.setMode(ResumingBrief)
	m.resumeToken++
	token := m.resumeToken
	m.opts.Timer.Arm(func() {
		m.post(func() { m.resumeFired(token) })
	})
}

func (m *Manager) cancelResume() {
	m.resumeToken++
	m.opts.Timer.Cancel()
}

func (m *Manager) resumeFired(token uint64) {
	if token != m.resumeToken || m.mode != ResumingBrief {
		return
	}
	if err := m.cueBrief(m.savedBriefPosition); err != nil {
		m.log.Warn("resume brief", zap.Error(err))
		m.shouldAutoResume = false
		m.setMode(Idle)
		return
	}
	if err := m.opts.Brief.Seek(m.savedBriefPosition); err != nil {
		m.log.Warn("seek brief", zap.Duration("position", m.savedBriefPosition), zap.Error(err))
	}
	m.opts.Brief.Resume()
	m.shouldAutoResume = false
	m.setReturnAvailable(false)
	m.setMode(PlayingBrief)
	m.startVAD()
	m.log.Info("brief resumed", zap.Duration("position", m.savedBriefPosition))
}

func (m *Manager) returnToBrief() error {
	if m.mode == Recording {
		return ErrRecordingActive
	}
	if m.brief == nil {
		return ErrNoBrief
	}
	if !m.shouldAutoResume {
		return ErrNothingToResume
	}

	if m.mode == PlayingQA {
		m.opts.Answer.Stop()
		m.answerID = ""
	}
	m.answerBuf.Discard()
	if m.cycle != nil {
		m.finishCycle(OutcomeDiscarded, "returned to brief")
	}
	m.inFollowUpMode = false
	m.pauseVAD()
	m.cancelResume()
	m.setStatus(protocol.LineListening)
	m.scheduleResume()
	return nil
}

func (m *Manager) toggleBrief() error {
	switch m.mode {
	case PlayingBrief:
		m.opts.Brief.Pause()
		m.persistBriefPosition(m.opts.Brief.Position())
		m.pauseVAD()
		m.setMode(Idle)
		return nil
	case Idle, PausedForQA:
		if m.brief == nil {
			return ErrNoBrief
		}
		if m.opts.Brief.Current() == "" {
			if err := m.cueBrief(0); err != nil {
				return err
			}
		}
		if c := m.cycle; c != nil && c.awaiting && (m.answerBuf.Accepting() || m.answerBuf.Len() > 0) {
			m.spoilAnswer()
		}
		m.opts.Brief.Resume()
		m.setReturnAvailable(false)
		m.setMode(PlayingBrief)
		m.startVAD()
		return nil
	case Recording:
		return ErrRecordingActive
	default:
		m.log.Debug("brief toggle ignored", zap.Stringer("mode", m.mode))
		return nil
	}
}

func (m *Manager) briefEnded(id string, err error) {
	if m.brief == nil || id == "" || id != m.brief.playable {
		return
	}
	m.brief.playable = ""
	if err != nil {
		m.log.Warn("brief playback failed", zap.Error(err))
	} else {
		m.log.Info("brief finished", zap.String("brief_id", m.brief.id))
	}
	m.shouldAutoResume = false
	m.persistBriefPosition(0)
	if m.mode == PlayingBrief {
		m.pauseVAD()
		m.setMode(Idle)
	}
}

func (m *Manager) loadBrief(id string, data []byte, position time.Duration) error {
	if m.mode == Recording {
		return ErrRecordingActive
	}
	p, err := m.opts.Decoder.Decode(data)
	if err != nil {
		return fmt.Errorf("decode brief %s: %w", id, err)
	}

	m.cancelResume()
	if m.mode == PlayingBrief {
		m.pauseVAD()
	}
	m.brief = &loadedBrief{id: id, audio: data, playable: p.ID}
	m.opts.Brief.Cue(p, position)
	m.savedBriefPosition = 0
	m.shouldAutoResume = false
	m.inFollowUpMode = false
	m.setReturnAvailable(false)
	if m.mode != PlayingQA {
		m.setMode(Idle)
	}

	m.log.Info("brief loaded", zap.String("brief_id", id), zap.Duration("position", position), zap.Duration("duration", p.Duration()))
	if m.opts.Hub != nil {
		m.opts.Hub.BroadcastBriefLoaded(id, position)
	}
	return nil
}

// cueBrief makes sure the brief renderer holds the brief, decoding it again
// if the previous playable finished and was released.
func (m *Manager) cueBrief(at time.Duration) error {
	if m.brief == nil {
		return ErrNoBrief
	}
	if m.brief.playable != "" && m.opts.Brief.Current() == m.brief.playable {
		return nil
	}
	p, err := m.opts.Decoder.Decode(m.brief.audio)
	if err != nil {
		return fmt.Errorf("decode brief %s: %w", m.brief.id, err)
	}
	m.brief.playable = p.ID
	m.opts.Brief.Cue(p, at)
	return nil
}

func (m *Manager) channelClosed(err error) {
	c := m.cycle
	if c == nil {
		m.log.Info("backend session closed while idle", zap.Error(err))
		return
	}
	if (m.mode == Recording && c.recording) || c.awaiting {
		m.log.Warn("backend session lost mid-question", zap.String("cycle_id", c.id), zap.Error(err))
		m.abortCycle(OutcomeFailed, "connection lost", LineConnectionLost)
	}
}

func (m *Manager) captureFailed(err error) {
	c := m.cycle
	if c == nil || m.mode != Recording || !c.recording {
		return
	}
	line := LineMicUnavailable
	if errors.Is(err, channel.ErrNotOpen) {
		line = LineConnectionLost
	}
	m.abortCycle(OutcomeFailed, err.Error(), line)
}

// abortCycle ends the current question without an answer and returns to a
// state the user can start again from.
func (m *Manager) abortCycle(outcome Outcome, detail, line string) {
	mode := m.mode
	switch mode {
	case Recording:
		_ = m.opts.Capture.Stop()
		m.endArchive(m.cycle)
	case PlayingQA:
		m.opts.Answer.Stop()
		m.answerID = ""
	}
	m.answerBuf.Discard()
	m.finishCycle(outcome, detail)
	m.setStatus(line)

	switch mode {
	case Recording, PausedForQA, Idle, PlayingQA:
		m.pauseVAD()
		m.settle()
	}
}

func (m *Manager) finishCycle(outcome Outcome, detail string) {
	c := m.cycle
	if c == nil {
		return
	}
	m.cycle = nil

	m.log.Info("question finished",
		zap.String("cycle_id", c.id),
		zap.String("outcome", string(outcome)),
		zap.String("detail", detail),
	)
	if m.opts.Journal == nil {
		return
	}
	record := CycleRecord{
		ID:        c.id,
		BriefID:   c.briefID,
		StartedAt: c.startedAt,
		EndedAt:   m.now().UTC(),
		Question:  c.question,
		Answer:    c.answer,
		Outcome:   outcome,
		Detail:    detail,
		AudioPath: c.audioPath,
	}
	if err := m.opts.Journal.RecordCycle(record); err != nil {
		m.log.Warn("record question", zap.String("cycle_id", c.id), zap.Error(err))
	}
}

func (m *Manager) endArchive(c *cycle) {
	if m.opts.Archive == nil {
		return
	}
	path, err := m.opts.Archive.EndCycle()
	if err != nil {
		m.log.Warn("finish question audio", zap.Error(err))
		return
	}
	if c != nil && path != "" {
		c.audioPath = path
	}
}

func (m *Manager) persistBriefPosition(position time.Duration) {
	if m.opts.Journal == nil || m.brief == nil {
		return
	}
	if err := m.opts.Journal.SaveBriefPosition(m.brief.id, position); err != nil {
		m.log.Warn("save brief position", zap.Error(err))
	}
}

func (m *Manager) startVAD() {
	if m.opts.Monitor == nil || !m.vadEnabled {
		return
	}
	if err := m.opts.Monitor.Start(); err != nil {
		m.log.Warn("start voice activity monitor", zap.Error(err))
	}
}

func (m *Manager) pauseVAD() {
	if m.opts.Monitor != nil {
		m.opts.Monitor.Pause()
	}
}

func (m *Manager) setMode(mode Mode) {
	if m.mode == mode {
		return
	}
	m.log.Debug("mode changed", zap.Stringer("from", m.mode), zap.Stringer("mode", mode))
	m.mode = mode
	if m.opts.Hub != nil {
		m.opts.Hub.BroadcastModeChanged(mode)
	}
}

func (m *Manager) setStatus(line string) {
	if line == "" {
		return
	}
	m.status = line
	if m.opts.Hub != nil {
		m.opts.Hub.BroadcastStatusChanged(line)
	}
}

func (m *Manager) setReturnAvailable(available bool) {
	if m.returnAvailable == available {
		return
	}
	m.returnAvailable = available
	if m.opts.Hub != nil {
		m.opts.Hub.BroadcastReturnAvailable(available)
	}
}

func (m *Manager) shutdown() {
	m.mbox.close()
	close(m.stopped)

	m.cancelResume()
	if m.mode == Recording {
		_ = m.opts.Capture.Stop()
		m.endArchive(m.cycle)
	}
	m.finishCycle(OutcomeCancelled, "shutdown")
	m.opts.Answer.Stop()
	if m.brief != nil && m.opts.Brief.Current() != "" {
		position := m.opts.Brief.Position()
		if m.mode == PausedForQA || m.mode == ResumingBrief {
			position = m.savedBriefPosition
		}
		m.persistBriefPosition(position)
	}
	m.opts.Brief.Stop()
	if m.opts.Monitor != nil {
		m.opts.Monitor.Destroy()
	}
	m.log.Info("session manager stopped")
}
