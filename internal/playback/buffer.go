package playback

import "errors"

// ErrEmptyBuffer is returned when finalizing a buffer that holds no audio.
var ErrEmptyBuffer = errors.New("playback buffer empty")

// Buffer accumulates the binary fragments of one spoken answer. It is owned
// by a single goroutine and does no locking.
type Buffer struct {
	fragments [][]byte
	size      int
	open      bool
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Start opens the buffer for a new response, dropping anything left over.
func (b *Buffer) Start() {
	b.fragments = nil
	b.size = 0
	b.open = true
}

// Accepting reports whether fragments are currently being collected.
func (b *Buffer) Accepting() bool { return b.open }

// Append stores a fragment. It returns false, keeping nothing, when the
// buffer is not accepting.
func (b *Buffer) Append(fragment []byte) bool {
	if !b.open || len(fragment) == 0 {
		return false
	}
	b.fragments = append(b.fragments, fragment)
	b.size += len(fragment)
	return true
}

// Finalize closes the buffer and decodes its contents. The buffer is cleared
// whether or not decoding succeeds.
func (b *Buffer) Finalize(d *Decoder) (*Playable, error) {
	data := b.bytes()
	b.Discard()
	if len(data) == 0 {
		return nil, ErrEmptyBuffer
	}
	return d.Decode(data)
}

// Discard closes the buffer and returns the number of bytes dropped.
func (b *Buffer) Discard() int {
	dropped := b.size
	b.fragments = nil
	b.size = 0
	b.open = false
	return dropped
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.size }

func (b *Buffer) bytes() []byte {
	if b.size == 0 {
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, f := range b.fragments {
		out = append(out, f...)
	}
	return out
}
