package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultSampleRate = 16000
	pcmChannels       = 1
	pcmBitDepth       = 16
)

// Archive keeps the raw question audio of each Q&A cycle as a WAV file. Frames
// are spooled to a .pcm file while recording and wrapped on EndCycle.
type Archive struct {
	dir string

	mu         sync.Mutex
	cycleID    string
	rawPath    string
	rawFile    *os.File
	sampleRate int
}

func NewArchive(dir string) *Archive {
	if dir == "" {
		dir = filepath.Join("data", "recordings")
	}
	return &Archive{dir: dir, sampleRate: defaultSampleRate}
}

func (a *Archive) StartCycle(cycleID string, sampleRate int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create recordings directory: %w", err)
	}
	if a.rawFile != nil {
		_ = a.rawFile.Close()
		_ = os.Remove(a.rawPath)
	}

	rawPath := filepath.Join(a.dir, cycleID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw pcm file: %w", err)
	}

	a.cycleID = cycleID
	a.rawPath = rawPath
	a.rawFile = rawFile
	if sampleRate > 0 {
		a.sampleRate = sampleRate
	}
	return nil
}

// Write appends one PCM16 frame. Without an open cycle it does nothing.
func (a *Archive) Write(frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rawFile == nil {
		return nil
	}
	if _, err := a.rawFile.Write(frame); err != nil {
		return fmt.Errorf("write raw pcm bytes: %w", err)
	}
	return nil
}

// EndCycle closes the spool and returns the path of the finished WAV file, or
// "" when no cycle was open.
func (a *Archive) EndCycle() (string, error) {
	a.mu.Lock()
	if a.rawFile == nil {
		a.mu.Unlock()
		return "", nil
	}
	cycleID, rawPath, rawFile, rate := a.cycleID, a.rawPath, a.rawFile, a.sampleRate
	a.cycleID, a.rawPath, a.rawFile = "", "", nil
	a.mu.Unlock()

	if err := rawFile.Close(); err != nil {
		return "", fmt.Errorf("close raw pcm file: %w", err)
	}

	wavPath := filepath.Join(a.dir, cycleID+".wav")
	if err := spoolToWAV(rawPath, wavPath, rate); err != nil {
		return "", err
	}
	_ = os.Remove(rawPath)
	return wavPath, nil
}

func spoolToWAV(rawPath, wavPath string, sampleRate int) error {
	raw, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("open raw pcm data: %w", err)
	}
	defer raw.Close()

	info, err := raw.Stat()
	if err != nil {
		return fmt.Errorf("stat raw pcm data: %w", err)
	}

	out, err := os.OpenFile(wavPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wav output: %w", err)
	}
	defer out.Close()

	if _, err := out.Write(WAVHeader(int(info.Size()), sampleRate)); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := io.Copy(out, raw); err != nil {
		return fmt.Errorf("write wav payload: %w", err)
	}
	return nil
}

type wavHeader struct {
	Riff          [4]byte
	ChunkSize     uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WAVHeader returns the 44 byte header for mono PCM16 audio of dataSize bytes.
func WAVHeader(dataSize, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      pcmChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * pcmChannels * pcmBitDepth / 8),
		BlockAlign:    pcmChannels * pcmBitDepth / 8,
		BitsPerSample: pcmBitDepth,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
	buf := bytes.NewBuffer(make([]byte, 0, 44))
	// Writing a fixed-size struct to a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}
