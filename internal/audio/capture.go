package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/logging"
)

// ErrCaptureActive is returned by Start while a previous capture is running.
var ErrCaptureActive = errors.New("capture already active")

// FrameSink receives one PCM16 frame per hardware buffer, in capture order.
type FrameSink func(frame []byte) error

type CaptureOptions struct {
	Open   Opener
	Logger *zap.Logger
	// Archive, when set, receives a copy of every emitted frame.
	Archive *Archive
	// OnFailure is called from the streaming goroutine when the device or the
	// sink fails mid-capture. The capture has already stopped emitting frames.
	OnFailure func(error)
}

// Capture streams microphone frames to a sink while its active gate is set.
// Frames read after Stop begins are dropped even if the device still delivers.
type Capture struct {
	opts CaptureOptions
	log  *zap.Logger

	mu     sync.Mutex
	device Device
	done   chan struct{}
	active atomic.Bool
}

func NewCapture(opts CaptureOptions) *Capture {
	return &Capture{opts: opts, log: logging.OrNop(opts.Logger)}
}

// Active reports whether frames are currently being emitted.
func (c *Capture) Active() bool { return c.active.Load() }

// Start acquires the device and begins streaming frames to sink.
func (c *Capture) Start(sink FrameSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return ErrCaptureActive
	}
	if c.opts.Open == nil {
		return fmt.Errorf("%w: no device configured", ErrDeviceUnavailable)
	}

	device, err := c.opts.Open()
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		_ = device.Close()
		return err
	}

	c.device = device
	c.done = make(chan struct{})
	c.active.Store(true)
	go c.stream(device, sink, c.done)

	c.log.Debug("capture started", zap.Int("sample_rate", device.SampleRate()))
	return nil
}

// Stop clears the gate, waits for the streaming goroutine to finish its last
// send, then releases the device. Calling it again is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}
	c.active.Store(false)
	<-c.done

	device := c.device
	c.device = nil
	c.done = nil

	stopErr := device.Stop()
	closeErr := device.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		c.log.Warn("release capture device", zap.Error(err))
	}
	return nil
}

func (c *Capture) stream(device Device, sink FrameSink, done chan struct{}) {
	defer close(done)

	for {
		samples, err := device.Read()
		if !c.active.Load() {
			return
		}
		if err != nil {
			if isOverflow(err) {
				c.log.Debug("mic input overflow, dropping buffer")
				continue
			}
			c.fail(fmt.Errorf("read microphone: %w", err))
			return
		}

		frame := PCM16(samples)
		if err := sink(frame); err != nil {
			c.fail(fmt.Errorf("send frame: %w", err))
			return
		}
		if c.opts.Archive != nil {
			if err := c.opts.Archive.Write(frame); err != nil {
				c.log.Warn("archive frame", zap.Error(err))
			}
		}
	}
}

func isOverflow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "overflow")
}

func (c *Capture) fail(err error) {
	if !c.active.CompareAndSwap(true, false) {
		return
	}
	c.log.Warn("capture failed", zap.Error(err))
	if c.opts.OnFailure != nil {
		c.opts.OnFailure(err)
	}
}

// PCM16 converts float samples to little-endian signed 16-bit PCM. Samples are
// clamped to [-1, 1]; negatives scale by 32768 and the rest by 32767.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Max(-1, math.Min(1, v))
		var sample int16
		if v < 0 {
			sample = int16(v * 32768)
		} else {
			sample = int16(v * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
