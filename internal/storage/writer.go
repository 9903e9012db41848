package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/newscast/internal/session"
)

// Writer appends finished questions to a per-day markdown transcript.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Append(c session.CycleRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.pathFor(c.StartedAt.Local())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, FormatMarkdown(c)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *Writer) CurrentPath() string {
	return w.pathFor(time.Now())
}

func (w *Writer) pathFor(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02")+".md")
}

// FormatMarkdown renders one cycle as a transcript entry.
func FormatMarkdown(c session.CycleRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s (%s)\n", c.StartedAt.Local().Format("15:04:05"), c.Outcome)
	if c.BriefID != "" {
		fmt.Fprintf(&b, "_brief %s_\n", c.BriefID)
	}
	question := strings.TrimSpace(c.Question)
	if question == "" {
		question = "(not transcribed)"
	}
	fmt.Fprintf(&b, "\n**Q:** %s\n", question)
	if answer := strings.TrimSpace(c.Answer); answer != "" {
		fmt.Fprintf(&b, "\n**A:** %s\n", answer)
	}
	if c.Detail != "" && c.Outcome != session.OutcomeAnswered {
		fmt.Fprintf(&b, "\n> %s\n", c.Detail)
	}
	return b.String()
}
