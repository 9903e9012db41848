package vad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/logging"
)

var errConnect = errors.New("deepgram connect failed")

// liveStream is the part of the Deepgram live client the monitor drives.
type liveStream interface {
	io.Writer
	Connect() bool
	Stop()
}

// micSource is the part of the Deepgram microphone the monitor drives.
type micSource interface {
	Start() error
	Stream(w io.Writer) error
	Mute()
	Unmute()
	Stop() error
}

type DeepgramOptions struct {
	APIKey     string
	SampleRate int
	Logger     *zap.Logger
}

// Deepgram is a Monitor backed by Deepgram's hosted speech-started events.
// The microphone and live connection are opened on first Start and muted
// while paused.
type Deepgram struct {
	opts DeepgramOptions
	log  *zap.Logger

	openMic  func(rate int) (micSource, error)
	openLive func(ctx context.Context, cb api.LiveMessageCallback) (liveStream, error)

	mu        sync.Mutex
	mic       micSource
	live      liveStream
	cancel    context.CancelFunc
	listening bool
	destroyed bool
	onSpeech  func()
}

func NewDeepgram(opts DeepgramOptions) *Deepgram {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	d := &Deepgram{opts: opts, log: logging.OrNop(opts.Logger).Named("vad")}
	d.openMic = func(rate int) (micSource, error) {
		return microphone.New(microphone.AudioConfig{InputChannels: 1, SamplingRate: float32(rate)})
	}
	d.openLive = func(ctx context.Context, cb api.LiveMessageCallback) (liveStream, error) {
		cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
		tOptions := &interfaces.LiveTranscriptionOptions{
			Model:      "nova-2",
			Language:   "en-US",
			Encoding:   "linear16",
			SampleRate: opts.SampleRate,
			Channels:   1,
			VadEvents:  true,
		}
		return client.NewWSUsingCallback(ctx, opts.APIKey, cOptions, tOptions, cb)
	}
	return d
}

func (d *Deepgram) OnSpeechStart(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSpeech = fn
}

func (d *Deepgram) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return ErrDestroyed
	}
	if d.mic == nil {
		if err := d.openLocked(); err != nil {
			return err
		}
	}
	d.mic.Unmute()
	d.listening = true
	return nil
}

func (d *Deepgram) openLocked() error {
	mic, err := d.openMic(d.opts.SampleRate)
	if err != nil {
		return fmt.Errorf("open vad microphone: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	live, err := d.openLive(ctx, speechCallback{monitor: d})
	if err != nil {
		cancel()
		return fmt.Errorf("create deepgram client: %w", err)
	}
	if !live.Connect() {
		cancel()
		return errConnect
	}
	if err := mic.Start(); err != nil {
		live.Stop()
		cancel()
		return fmt.Errorf("start vad microphone: %w", err)
	}

	d.mic, d.live, d.cancel = mic, live, cancel
	go func() {
		if err := mic.Stream(live); err != nil && ctx.Err() == nil {
			d.log.Warn("vad microphone stream ended", zap.Error(err))
		}
	}()
	d.log.Info("deepgram voice activity connected", zap.Int("sample_rate", d.opts.SampleRate))
	return nil
}

func (d *Deepgram) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listening = false
	if d.mic != nil {
		d.mic.Mute()
	}
}

func (d *Deepgram) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	d.listening = false
	if d.cancel != nil {
		d.cancel()
	}
	if d.live != nil {
		d.live.Stop()
	}
	if d.mic != nil {
		_ = d.mic.Stop()
	}
	d.mic, d.live, d.cancel = nil, nil, nil
}

func (d *Deepgram) speechStarted() {
	d.mu.Lock()
	fn := d.onSpeech
	listening := d.listening
	d.mu.Unlock()

	if listening && fn != nil {
		fn()
	}
}

// speechCallback adapts Deepgram live events; only speech-started matters.
type speechCallback struct {
	monitor *Deepgram
}

func (c speechCallback) Open(*api.OpenResponse) error         { return nil }
func (c speechCallback) Message(*api.MessageResponse) error   { return nil }
func (c speechCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c speechCallback) SpeechStarted(*api.SpeechStartedResponse) error {
	c.monitor.speechStarted()
	return nil
}

func (c speechCallback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c speechCallback) Close(*api.CloseResponse) error {
	c.monitor.log.Info("deepgram voice activity disconnected")
	return nil
}

func (c speechCallback) Error(er *api.ErrorResponse) error {
	c.monitor.log.Warn("deepgram error", zap.String("code", er.ErrCode), zap.String("description", er.Description))
	return nil
}

func (c speechCallback) UnhandledEvent([]byte) error { return nil }
