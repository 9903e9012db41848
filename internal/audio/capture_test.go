package audio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	mu      sync.Mutex
	buffers chan []float32
	readErr error
	starts  int
	stops   int
	closes  int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{buffers: make(chan []float32, 16)}
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	return nil
}

func (d *fakeDevice) Read() ([]float32, error) {
	select {
	case buf, ok := <-d.buffers:
		if !ok {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.readErr != nil {
				return nil, d.readErr
			}
			return make([]float32, 2), nil
		}
		return buf, nil
	case <-time.After(5 * time.Millisecond):
		return make([]float32, 2), nil
	}
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDevice) SampleRate() int { return 16000 }

func (d *fakeDevice) counts() (int, int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.closes
}

type frameLog struct {
	mu     sync.Mutex
	frames [][]byte
}

func (l *frameLog) sink(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, frame)
	return nil
}

func (l *frameLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func TestPCM16ClampsAndScales(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{2.5, 32767},
		{-7, -32768},
		{0.5, 16383},
		{-0.5, -16384},
	}

	samples := make([]float32, len(cases))
	for i, tc := range cases {
		samples[i] = tc.in
	}
	out := PCM16(samples)
	if len(out) != len(cases)*2 {
		t.Fatalf("expected %d bytes, got %d", len(cases)*2, len(out))
	}
	for i, tc := range cases {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		if got != tc.want {
			t.Fatalf("sample %v: expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestCaptureEmitsFramesInOrder(t *testing.T) {
	device := newFakeDevice()
	device.buffers <- []float32{0.25}
	device.buffers <- []float32{-0.25}

	frames := &frameLog{}
	capture := NewCapture(CaptureOptions{Open: func() (Device, error) { return device, nil }})
	if err := capture.Start(frames.sink); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for frames.len() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := capture.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	frames.mu.Lock()
	defer frames.mu.Unlock()
	if len(frames.frames) < 2 {
		t.Fatalf("expected at least 2 frames, got %d", len(frames.frames))
	}
	first := int16(binary.LittleEndian.Uint16(frames.frames[0]))
	second := int16(binary.LittleEndian.Uint16(frames.frames[1]))
	if first <= 0 || second >= 0 {
		t.Fatalf("frames out of order: %d then %d", first, second)
	}
}

func TestCaptureStopIsIdempotentAndGatesFrames(t *testing.T) {
	device := newFakeDevice()
	frames := &frameLog{}
	capture := NewCapture(CaptureOptions{Open: func() (Device, error) { return device, nil }})

	if err := capture.Start(frames.sink); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := capture.Start(frames.sink); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("expected ErrCaptureActive, got %v", err)
	}

	if err := capture.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := capture.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if capture.Active() {
		t.Fatal("expected capture inactive after Stop")
	}

	after := frames.len()
	device.buffers <- []float32{0.9}
	time.Sleep(20 * time.Millisecond)
	if frames.len() != after {
		t.Fatalf("frames emitted after Stop: %d -> %d", after, frames.len())
	}

	starts, stops, closes := device.counts()
	if starts != 1 || stops != 1 || closes != 1 {
		t.Fatalf("expected one start/stop/close, got %d/%d/%d", starts, stops, closes)
	}
}

func TestCaptureStartPropagatesOpenErrors(t *testing.T) {
	capture := NewCapture(CaptureOptions{Open: func() (Device, error) {
		return nil, classify(errors.New("Audio input permission denied by host"))
	}})
	err := capture.Start(func([]byte) error { return nil })
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	if err := capture.Stop(); err != nil {
		t.Fatalf("Stop after failed Start should be a no-op, got %v", err)
	}
}

func TestClassifyDefaultsToDeviceUnavailable(t *testing.T) {
	if err := classify(errors.New("Invalid device")); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestCaptureReportsSinkFailure(t *testing.T) {
	device := newFakeDevice()
	failures := make(chan error, 1)
	capture := NewCapture(CaptureOptions{
		Open:      func() (Device, error) { return device, nil },
		OnFailure: func(err error) { failures <- err },
	})

	sinkErr := errors.New("not open")
	if err := capture.Start(func([]byte) error { return sinkErr }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case err := <-failures:
		if !errors.Is(err, sinkErr) {
			t.Fatalf("expected sink error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected OnFailure")
	}
	if capture.Active() {
		t.Fatal("expected gate cleared after failure")
	}
	if err := capture.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestCaptureArchivesFrames(t *testing.T) {
	dir := t.TempDir()
	archive := NewArchive(dir)
	if err := archive.StartCycle("cycle-1", 16000); err != nil {
		t.Fatalf("StartCycle failed: %v", err)
	}

	device := newFakeDevice()
	frames := &frameLog{}
	capture := NewCapture(CaptureOptions{Open: func() (Device, error) { return device, nil }, Archive: archive})
	if err := capture.Start(frames.sink); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for frames.len() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = capture.Stop()

	path, err := archive.EndCycle()
	if err != nil {
		t.Fatalf("EndCycle failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if want := 44 + frames.len()*4; len(data) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(data))
	}
	if _, err := os.Stat(filepath.Join(dir, "cycle-1.pcm")); !os.IsNotExist(err) {
		t.Fatalf("expected spool removed, stat err %v", err)
	}
}

func TestCaptureSkipsInputOverflow(t *testing.T) {
	device := newFakeDevice()
	device.readErr = errors.New("Input overflowed")
	close(device.buffers)

	failures := make(chan error, 1)
	frames := &frameLog{}
	capture := NewCapture(CaptureOptions{
		Open:      func() (Device, error) { return device, nil },
		OnFailure: func(err error) { failures <- err },
	})
	if err := capture.Start(frames.sink); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if !capture.Active() {
		t.Fatal("overflow must not stop the capture")
	}
	_ = capture.Stop()

	select {
	case err := <-failures:
		t.Fatalf("unexpected failure %v", err)
	default:
	}
	if frames.len() != 0 {
		t.Fatalf("expected no frames from overflowed reads, got %d", frames.len())
	}
}
