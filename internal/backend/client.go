// Package backend is the REST client for the account, preference, history and
// daily brief endpoints of the chatter backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/sjawhar/newscast/internal/logging"
)

var (
	// ErrUnauthorized is returned when no token is configured or the backend
	// rejects it.
	ErrUnauthorized = errors.New("backend rejected credentials")
	// ErrNotFound is returned when the requested resource does not exist yet,
	// such as a brief that has never been generated.
	ErrNotFound = errors.New("backend resource not found")
)

const (
	defaultTimeout = 30 * time.Second
	// Generation runs the whole retrieval and synthesis pipeline.
	generateTimeout = 5 * time.Minute
	maxAudioBytes   = 64 << 20
	maxErrorBody    = 4 << 10
)

// APIError is a non-2xx response. Detail carries FastAPI's "detail" field when present.
type APIError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Detail)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

type Options struct {
	BaseURL string
	// Token is the bearer credential issued by the identity provider.
	Token string
	// HTTPClient is the transport underneath the bearer token wrapper.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	base   *url.URL
	http   *http.Client
	plain  *http.Client
	log    *zap.Logger
	hasKey bool
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", opts.BaseURL)
	}

	plain := opts.HTTPClient
	if plain == nil {
		plain = &http.Client{Timeout: defaultTimeout}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, plain)
	authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: opts.Token,
		TokenType:   "Bearer",
	}))

	return &Client{
		base:   base,
		http:   authed,
		plain:  plain,
		log:    logging.OrNop(opts.Logger).Named("backend"),
		hasKey: opts.Token != "",
	}, nil
}

// CreateUser registers the authenticated identity with the backend. It is
// idempotent on the backend side.
func (c *Client) CreateUser(ctx context.Context) (string, error) {
	var resp struct {
		UserID string `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/user/create", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

func (c *Client) GetPreferences(ctx context.Context) (Preferences, error) {
	var resp struct {
		Preferences *Preferences `json:"preferences"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/user/preferences", nil, nil, &resp); err != nil {
		return Preferences{}, err
	}
	if resp.Preferences == nil {
		return Preferences{}, nil
	}
	return *resp.Preferences, nil
}

// SavePreferences validates prefs before sending them.
func (c *Client) SavePreferences(ctx context.Context, prefs Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/user/preferences", nil, prefs, nil)
}

func (c *Client) BriefStatusToday(ctx context.Context) (BriefStatus, error) {
	var status BriefStatus
	err := c.do(ctx, http.MethodGet, "/api/daily-brief/status", nil, nil, &status)
	return status, err
}

// LatestBrief returns ErrNotFound when the user has no brief yet.
func (c *Client) LatestBrief(ctx context.Context) (DailyBrief, error) {
	var resp struct {
		DailyBrief *DailyBrief `json:"daily_brief"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/daily-brief/latest", nil, nil, &resp); err != nil {
		return DailyBrief{}, err
	}
	if resp.DailyBrief == nil {
		return DailyBrief{}, ErrNotFound
	}
	return *resp.DailyBrief, nil
}

func (c *Client) GenerateBrief(ctx context.Context) (DailyBrief, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var resp struct {
		DailyBrief *DailyBrief `json:"daily_brief"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/daily-brief/generate", nil, nil, &resp); err != nil {
		return DailyBrief{}, err
	}
	if resp.DailyBrief == nil {
		return DailyBrief{}, fmt.Errorf("generate brief: response carried no brief")
	}
	return *resp.DailyBrief, nil
}

// History returns the most recent answered questions, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		History []HistoryEntry `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/user/history", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// FetchAudio downloads a brief's audio. Relative references resolve against
// the backend and carry the bearer token; absolute ones (signed storage URLs)
// are fetched without it.
func (c *Client) FetchAudio(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse audio url: %w", err)
	}
	httpClient := c.plain
	if !u.IsAbs() {
		u = c.base.ResolveReference(u)
		httpClient = c.http
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp, http.MethodGet, u.Path)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("audio exceeds %d bytes", maxAudioBytes)
	}
	c.log.Debug("audio fetched", zap.String("path", u.Path), zap.Int("bytes", len(data)))
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.hasKey {
		return fmt.Errorf("%s %s: %w: no auth token configured", method, path, ErrUnauthorized)
	}

	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	reqBody := io.Reader(http.NoBody)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp, method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response, method, path string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			apiErr.Detail = s
		} else {
			apiErr.Detail = string(body.Detail)
		}
	} else {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}
