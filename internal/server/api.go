package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/audio"
	"github.com/sjawhar/newscast/internal/session"
)

var cycleIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// HistoryStore is the local record of Q&A cycles.
type HistoryStore interface {
	RecentCycles(limit int) ([]session.CycleRecord, error)
	CyclesByDate(date string) ([]session.CycleRecord, error)
	GetCycle(id string) (session.CycleRecord, error)
	GetDates() ([]string, error)
}

func registerAPIRoutes(mux *http.ServeMux, opts Options, log *zap.Logger) {
	gesture := func(name string, fn func(Controls) error) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if opts.Controls == nil {
				writeJSONError(w, http.StatusServiceUnavailable, "session not running")
				return
			}
			if err := fn(opts.Controls); err != nil {
				status := gestureStatus(err)
				if status >= http.StatusInternalServerError {
					log.Warn("gesture failed", zap.String("gesture", name), zap.Error(err))
				}
				writeJSONError(w, status, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, opts.Controls.Snapshot())
		}
	}

	mux.HandleFunc("POST /api/call", gesture("call", Controls.PressCall))
	mux.HandleFunc("POST /api/brief/toggle", gesture("toggle_brief", Controls.ToggleBrief))
	mux.HandleFunc("POST /api/brief/return", gesture("return_to_brief", Controls.ReturnToBrief))
	mux.HandleFunc("POST /api/answer/stop", gesture("stop_answer", Controls.StopAnswer))

	mux.HandleFunc("PUT /api/vad", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
			writeJSONError(w, http.StatusBadRequest, "body must be {\"enabled\": true|false}")
			return
		}
		if opts.Controls == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "session not running")
			return
		}
		if err := opts.Controls.SetVADEnabled(*body.Enabled); err != nil {
			writeJSONError(w, gestureStatus(err), err.Error())
			return
		}
		if opts.Settings != nil {
			if err := opts.Settings.SetVADEnabled(*body.Enabled); err != nil {
				log.Warn("persist vad setting failed", zap.Error(err))
			}
		}
		if opts.Hub != nil {
			opts.Hub.BroadcastVADChanged(*body.Enabled)
		}
		writeJSON(w, http.StatusOK, opts.Controls.Snapshot())
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if opts.Warnings != nil {
			warnings = opts.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		payload := map[string]any{"warnings": warnings}
		if opts.Controls != nil {
			payload["session"] = opts.Controls.Snapshot()
		}
		writeJSON(w, http.StatusOK, payload)
	})

	if opts.History == nil {
		return
	}
	store := opts.History

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 500 {
				writeJSONError(w, http.StatusBadRequest, "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		cycles, err := store.RecentCycles(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list cycles: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, cycles)
	})

	mux.HandleFunc("GET /api/dates", func(w http.ResponseWriter, r *http.Request) {
		dates, err := store.GetDates()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
			return
		}
		if dates == nil {
			dates = []string{}
		}
		writeJSON(w, http.StatusOK, dates)
	})

	mux.HandleFunc("GET /api/cycles", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			writeJSONError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		cycles, err := store.CyclesByDate(date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list cycles: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, cycles)
	})

	mux.HandleFunc("GET /api/cycles/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		cycleID := r.PathValue("id")
		if !cycleIDPattern.MatchString(cycleID) {
			writeJSONError(w, http.StatusForbidden, "invalid cycle id")
			return
		}

		c, err := store.GetCycle(cycleID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) || errors.Is(err, os.ErrNotExist) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get cycle: %v", err))
			return
		}
		if c.AudioPath == "" {
			writeJSONError(w, http.StatusNotFound, "audio not available")
			return
		}

		cleanPath := filepath.Clean(c.AudioPath)
		if cleanPath == "" || cleanPath == "." || strings.Contains(cleanPath, "..") {
			writeJSONError(w, http.StatusForbidden, "invalid audio path")
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "audio file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat audio: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", "audio/wav")
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})
}

func gestureStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrRecordingActive), errors.Is(err, session.ErrNothingToResume):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoBrief):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, session.ErrClosed), errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
