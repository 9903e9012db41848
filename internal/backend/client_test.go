package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

func newBackend(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newClient(t *testing.T, baseURL, token string) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: baseURL, Token: token})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestCreateUserSendsBearerToken(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","user_id":"uid-1"}`))
	})
	c := newClient(t, srv.URL, "tok-123")

	id, err := c.CreateUser(context.Background())
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if id != "uid-1" {
		t.Fatalf("expected uid-1, got %q", id)
	}
	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != "/api/user/create" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.auth != "Bearer tok-123" {
		t.Fatalf("expected bearer token, got %q", got.auth)
	}
}

func TestMissingTokenIsUnauthorizedWithoutRequest(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	c := newClient(t, srv.URL, "")

	_, err := c.CreateUser(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("expected no request, got %d", len(*calls))
	}
}

func TestRejectedTokenMapsToUnauthorized(t *testing.T) {
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"User not authenticated"}`))
	})
	c := newClient(t, srv.URL, "expired")

	_, err := c.GetPreferences(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "User not authenticated" {
		t.Fatalf("expected detail surfaced, got %v", err)
	}
}

func TestGetPreferencesAcceptsEncodedLists(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"arrays", `{"status":"success","preferences":{"topics":["Politics","Sports"],"sources":["Gazette"],"voice_preference":"en-US-Chirp3-HD-Aoede"}}`},
		{"json strings", `{"status":"success","preferences":{"topics":"[\"Politics\",\"Sports\"]","sources":"[\"Gazette\"]","voice_preference":"en-US-Chirp3-HD-Aoede"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			c := newClient(t, srv.URL, "tok")

			prefs, err := c.GetPreferences(context.Background())
			if err != nil {
				t.Fatalf("GetPreferences failed: %v", err)
			}
			if strings.Join(prefs.Topics, ",") != "Politics,Sports" || strings.Join(prefs.Sources, ",") != "Gazette" {
				t.Fatalf("unexpected preferences %+v", prefs)
			}
			if prefs.Voice != VoiceAoede {
				t.Fatalf("unexpected voice %q", prefs.Voice)
			}
		})
	}
}

func TestGetPreferencesWithoutSavedPreferences(t *testing.T) {
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","preferences":null}`))
	})
	prefs, err := newClient(t, srv.URL, "tok").GetPreferences(context.Background())
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if len(prefs.Topics) != 0 || len(prefs.Sources) != 0 {
		t.Fatalf("expected empty preferences, got %+v", prefs)
	}
}

func TestSavePreferencesValidatesBeforeSending(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","message":"Preferences saved"}`))
	})
	c := newClient(t, srv.URL, "tok")

	invalid := []Preferences{
		{Topics: nil, Sources: StringList{"Gazette"}},
		{Topics: StringList{"Politics"}, Sources: nil},
		{Topics: StringList{"Politics"}, Sources: StringList{"Gazette"}, Voice: "robot"},
		{Topics: StringList{""}, Sources: StringList{"Gazette"}},
	}
	for _, prefs := range invalid {
		if err := c.SavePreferences(context.Background(), prefs); !errors.Is(err, ErrInvalidPreferences) {
			t.Fatalf("expected ErrInvalidPreferences for %+v, got %v", prefs, err)
		}
	}
	if len(*calls) != 0 {
		t.Fatalf("invalid preferences must not be sent, got %d requests", len(*calls))
	}

	valid := Preferences{Topics: StringList{"Politics"}, Sources: StringList{"Gazette"}, Voice: VoiceAlnilam}
	if err := c.SavePreferences(context.Background(), valid); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}
	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != "/api/user/preferences" {
		t.Fatalf("unexpected request %+v", got)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(got.body), &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent["voice_preference"] != VoiceAlnilam {
		t.Fatalf("unexpected body %s", got.body)
	}
}

func TestBriefEndpoints(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/daily-brief/status":
			_, _ = w.Write([]byte(`{"has_brief_today":true,"daily_brief_id":"b-7"}`))
		case "/api/daily-brief/latest":
			_, _ = w.Write([]byte(`{"daily_brief":{"id":"b-7","audio_url":"/audio/b-7.wav","transcript":"Good morning","created_at":"2026-10-19T07:00:00Z"}}`))
		case "/api/daily-brief/generate":
			_, _ = w.Write([]byte(`{"daily_brief":{"id":"b-8","audio_url":"https://storage.example/b-8.wav","transcript":"Fresh"}}`))
		default:
			http.NotFound(w, r)
		}
	})
	c := newClient(t, srv.URL, "tok")
	ctx := context.Background()

	status, err := c.BriefStatusToday(ctx)
	if err != nil || !status.HasBriefToday || status.DailyBriefID != "b-7" {
		t.Fatalf("unexpected status %+v err=%v", status, err)
	}

	latest, err := c.LatestBrief(ctx)
	if err != nil {
		t.Fatalf("LatestBrief failed: %v", err)
	}
	if latest.ID != "b-7" || latest.AudioURL != "/audio/b-7.wav" || latest.CreatedAt.Year() != 2026 {
		t.Fatalf("unexpected brief %+v", latest)
	}

	generated, err := c.GenerateBrief(ctx)
	if err != nil || generated.ID != "b-8" {
		t.Fatalf("unexpected generated brief %+v err=%v", generated, err)
	}
	if (*calls)[2].method != http.MethodPost {
		t.Fatalf("expected generate to POST, got %s", (*calls)[2].method)
	}
}

func TestLatestBriefMissing(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"404", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }},
		{"null", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"daily_brief":null}`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newBackend(t, tt.handler)
			_, err := newClient(t, srv.URL, "tok").LatestBrief(context.Background())
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestHistoryPassesLimit(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","history":[{"id":12,"question_text":"What is new?","podcast_text":"Plenty.","audio_url":"","source_chunks":"[]","created_at":"2026-10-18T10:00:00"}]}`))
	})

	entries, err := newClient(t, srv.URL, "tok").History(context.Background(), 5)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if (*calls)[0].query != "limit=5" {
		t.Fatalf("expected limit query, got %q", (*calls)[0].query)
	}
	if len(entries) != 1 || entries[0].ID.String() != "12" || entries[0].QuestionText != "What is new?" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestFetchAudioResolvesRelativeReferences(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("RIFFdata"))
	})
	c := newClient(t, srv.URL, "tok")

	data, err := c.FetchAudio(context.Background(), "/audio/b-7.wav")
	if err != nil {
		t.Fatalf("FetchAudio failed: %v", err)
	}
	if string(data) != "RIFFdata" {
		t.Fatalf("unexpected audio %q", data)
	}
	if (*calls)[0].path != "/audio/b-7.wav" || (*calls)[0].auth != "Bearer tok" {
		t.Fatalf("unexpected request %+v", (*calls)[0])
	}

	if _, err := c.FetchAudio(context.Background(), srv.URL+"/signed.wav"); err != nil {
		t.Fatalf("FetchAudio absolute failed: %v", err)
	}
	if (*calls)[1].auth != "" {
		t.Fatalf("absolute audio URLs must not receive the token, got %q", (*calls)[1].auth)
	}
}

func TestNewRejectsNonHTTPBase(t *testing.T) {
	if _, err := New(Options{BaseURL: "ws://localhost:8080", Token: "tok"}); err == nil {
		t.Fatal("expected error for websocket base url")
	}
}
