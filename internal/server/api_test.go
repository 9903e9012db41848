package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/newscast/internal/audio"
	"github.com/sjawhar/newscast/internal/session"
)

type controlsStub struct {
	calls    []string
	err      error
	vad      bool
	snapshot session.Snapshot
}

func (c *controlsStub) gesture(name string) error {
	c.calls = append(c.calls, name)
	return c.err
}

func (c *controlsStub) PressCall() error     { return c.gesture("call") }
func (c *controlsStub) ToggleBrief() error   { return c.gesture("toggle") }
func (c *controlsStub) ReturnToBrief() error { return c.gesture("return") }
func (c *controlsStub) StopAnswer() error    { return c.gesture("stop") }

func (c *controlsStub) SetVADEnabled(enabled bool) error {
	c.vad = enabled
	return c.gesture(fmt.Sprintf("vad=%t", enabled))
}

func (c *controlsStub) Snapshot() session.Snapshot { return c.snapshot }

type historyStub struct {
	cycles map[string]session.CycleRecord
	recent []session.CycleRecord
	byDate map[string][]session.CycleRecord
	dates  []string
	limit  int
}

func (s *historyStub) RecentCycles(limit int) ([]session.CycleRecord, error) {
	s.limit = limit
	return s.recent, nil
}

func (s *historyStub) CyclesByDate(date string) ([]session.CycleRecord, error) {
	return s.byDate[date], nil
}

func (s *historyStub) GetCycle(id string) (session.CycleRecord, error) {
	if c, ok := s.cycles[id]; ok {
		return c, nil
	}
	return session.CycleRecord{}, fmt.Errorf("query cycle %s: %w", id, sql.ErrNoRows)
}

func (s *historyStub) GetDates() ([]string, error) { return s.dates, nil }

type settingsStub struct{ enabled *bool }

func (s *settingsStub) SetVADEnabled(enabled bool) error {
	s.enabled = &enabled
	return nil
}

func testStaticFS(t *testing.T) fs.FS {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatalf("write index.html failed: %v", err)
	}
	return os.DirFS(dir)
}

func newTestHandler(t *testing.T, opts Options) http.Handler {
	t.Helper()
	if opts.Static == nil {
		opts.Static = testStaticFS(t)
	}
	h, err := Handler(opts)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	return h
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAPIGesturesReturnSnapshot(t *testing.T) {
	controls := &controlsStub{snapshot: session.Snapshot{Mode: session.Recording, Status: "Listening..."}}
	h := newTestHandler(t, Options{Controls: controls})

	routes := map[string]string{
		"/api/call":         "call",
		"/api/brief/toggle": "toggle",
		"/api/brief/return": "return",
		"/api/answer/stop":  "stop",
	}
	for route, want := range routes {
		controls.calls = nil
		rr := serve(h, http.MethodPost, route, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d body=%s", route, rr.Code, rr.Body.String())
		}
		if len(controls.calls) != 1 || controls.calls[0] != want {
			t.Fatalf("%s: expected gesture %q, got %v", route, want, controls.calls)
		}
		if !strings.Contains(rr.Body.String(), `"mode":"recording"`) {
			t.Fatalf("%s: expected snapshot in body, got %s", route, rr.Body.String())
		}
	}
}

func TestAPIGestureErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "recording", err: session.ErrRecordingActive, want: http.StatusConflict},
		{name: "nothing to resume", err: session.ErrNothingToResume, want: http.StatusConflict},
		{name: "no brief", err: session.ErrNoBrief, want: http.StatusNotFound},
		{name: "closed", err: session.ErrClosed, want: http.StatusServiceUnavailable},
		{name: "mic denied", err: fmt.Errorf("start capture: %w", audio.ErrPermissionDenied), want: http.StatusForbidden},
		{name: "mic missing", err: audio.ErrDeviceUnavailable, want: http.StatusServiceUnavailable},
		{name: "other", err: io.ErrUnexpectedEOF, want: http.StatusBadGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, Options{Controls: &controlsStub{err: tc.err}})
			rr := serve(h, http.MethodPost, "/api/call", "")
			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rr.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Fatalf("expected error body, got %v err=%v", body, err)
			}
		})
	}
}

func TestAPIGestureWithoutSession(t *testing.T) {
	h := newTestHandler(t, Options{})
	rr := serve(h, http.MethodPost, "/api/call", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestAPISetVADPersists(t *testing.T) {
	controls := &controlsStub{vad: true}
	settings := &settingsStub{}
	hub := NewHub(nil)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	h := newTestHandler(t, Options{Controls: controls, Settings: settings, Hub: hub})
	rr := serve(h, http.MethodPut, "/api/vad", `{"enabled":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if controls.vad {
		t.Fatal("expected session vad disabled")
	}
	if settings.enabled == nil || *settings.enabled {
		t.Fatalf("expected persisted false, got %v", settings.enabled)
	}

	select {
	case msg := <-ch:
		if !strings.Contains(string(msg), `"type":"vad_changed"`) {
			t.Fatalf("unexpected event %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected vad_changed broadcast")
	}
}

func TestAPISetVADRejectsBadBody(t *testing.T) {
	controls := &controlsStub{}
	h := newTestHandler(t, Options{Controls: controls})

	for _, body := range []string{"", "{}", `{"enabled":"yes"}`} {
		rr := serve(h, http.MethodPut, "/api/vad", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected status 400, got %d", body, rr.Code)
		}
	}
	if len(controls.calls) != 0 {
		t.Fatalf("expected no gestures, got %v", controls.calls)
	}
}

func TestAPIStatusWithWarnings(t *testing.T) {
	h := newTestHandler(t, Options{
		Controls: &controlsStub{snapshot: session.Snapshot{Mode: session.PlayingBrief, BriefID: "b-1"}},
		Warnings: func() []string {
			return []string{"Deepgram API key not configured"}
		},
	})

	rr := serve(h, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	for _, want := range []string{`"mode":"playing_brief"`, `"brief_id":"b-1"`, "Deepgram API key not configured"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in response, got %s", want, body)
		}
	}
}

func TestAPIStatusNoWarnings(t *testing.T) {
	h := newTestHandler(t, Options{})

	rr := serve(h, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"warnings":[]`) {
		t.Fatalf("expected empty warnings array in response, got %s", rr.Body.String())
	}
}

func TestAPIHistory(t *testing.T) {
	started := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	store := &historyStub{
		recent: []session.CycleRecord{{ID: "c-1", StartedAt: started, Question: "What changed?", Outcome: session.OutcomeAnswered}},
	}
	h := newTestHandler(t, Options{History: store})

	rr := serve(h, http.MethodGet, "/api/history?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if store.limit != 5 {
		t.Fatalf("expected limit 5, got %d", store.limit)
	}
	if !strings.Contains(rr.Body.String(), "What changed?") {
		t.Fatalf("expected question in body, got %s", rr.Body.String())
	}

	if rr := serve(h, http.MethodGet, "/api/history?limit=zero", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", rr.Code)
	}
}

func TestAPICyclesByDate(t *testing.T) {
	store := &historyStub{
		byDate: map[string][]session.CycleRecord{
			"2026-10-18": {{ID: "c-old", Outcome: session.OutcomeFailed}},
		},
		dates: []string{"2026-10-19", "2026-10-18"},
	}
	h := newTestHandler(t, Options{History: store})

	rr := serve(h, http.MethodGet, "/api/cycles?date=2026-10-18", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "c-old") {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
	if rr := serve(h, http.MethodGet, "/api/cycles?date=yesterday", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = serve(h, http.MethodGet, "/api/dates", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "2026-10-19") {
		t.Fatalf("unexpected dates response %d %s", rr.Code, rr.Body.String())
	}
}

func TestAPIAudioRange(t *testing.T) {
	root := t.TempDir()
	audioFile := "c-1.wav"
	if err := os.WriteFile(filepath.Join(root, audioFile), []byte(strings.Repeat("a", 4096)), 0o644); err != nil {
		t.Fatalf("write audio file failed: %v", err)
	}

	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWd) })

	store := &historyStub{cycles: map[string]session.CycleRecord{
		"c-1": {ID: "c-1", AudioPath: audioFile},
	}}
	h := newTestHandler(t, Options{History: store})

	req := httptest.NewRequest(http.MethodGet, "/api/cycles/c-1/audio", nil)
	req.Header.Set("Range", "bytes=0-1023")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected status 206, got %d", rr.Code)
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected Accept-Ranges bytes, got %q", rr.Header().Get("Accept-Ranges"))
	}
	if rr.Header().Get("Content-Range") == "" {
		t.Fatalf("expected Content-Range header")
	}
}

func TestAPIAudioMissing(t *testing.T) {
	store := &historyStub{cycles: map[string]session.CycleRecord{
		"c-2": {ID: "c-2"},
	}}
	h := newTestHandler(t, Options{History: store})

	for _, target := range []string{"/api/cycles/c-2/audio", "/api/cycles/nope/audio"} {
		if rr := serve(h, http.MethodGet, target, ""); rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected status 404, got %d", target, rr.Code)
		}
	}
}

func TestAPIAudioPathTraversalBlocked(t *testing.T) {
	h := newTestHandler(t, Options{History: &historyStub{}})

	rr := serve(h, http.MethodGet, "/api/cycles/%2e%2e%2f%2e%2e%2fetc%2fpasswd/audio", "")
	if rr.Code != http.StatusForbidden && rr.Code != http.StatusNotFound {
		body, _ := io.ReadAll(rr.Body)
		t.Fatalf("expected forbidden/notfound for traversal, got %d body=%s", rr.Code, string(body))
	}
}

func TestSPAFallback(t *testing.T) {
	h := newTestHandler(t, Options{})

	rr := serve(h, http.MethodGet, "/history", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ok") {
		t.Fatalf("expected index fallback, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := serve(h, http.MethodGet, "/api/unknown", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown api path, got %d", rr.Code)
	}
}
