package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/newscast/internal/session"
)

// Setting keys.
const (
	KeyAuthToken  = "auth_token"
	KeyUserID     = "user_id"
	KeyVADEnabled = "vad_enabled"
)

// Brief is a cached daily brief with its audio and last play position.
type Brief struct {
	ID         string        `json:"id"`
	AudioURL   string        `json:"audio_url"`
	Transcript string        `json:"transcript"`
	CreatedAt  time.Time     `json:"created_at"`
	Position   time.Duration `json:"position_ns"`
	Audio      []byte        `json:"-"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "newscast.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS briefs (
			id TEXT PRIMARY KEY,
			audio_url TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			audio BLOB,
			position_ms INTEGER NOT NULL DEFAULT 0,
			fetched_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create briefs table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS qa_cycles (
			id TEXT PRIMARY KEY,
			brief_id TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			question TEXT NOT NULL DEFAULT '',
			answer TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			audio_path TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create qa_cycles table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_briefs_created_at ON briefs(created_at)"); err != nil {
		return fmt.Errorf("create briefs index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_qa_cycles_started_at ON qa_cycles(started_at)"); err != nil {
		return fmt.Errorf("create qa_cycles index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Setting returns the stored value and whether it exists.
func (s *SQLiteStore) Setting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSettings(keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete setting %s: %w", key, err)
		}
	}
	return nil
}

// VADEnabled returns the saved voice activity preference, or def when unset.
func (s *SQLiteStore) VADEnabled(def bool) (bool, error) {
	raw, ok, err := s.Setting(KeyVADEnabled)
	if err != nil || !ok {
		return def, err
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return def, nil
	}
	return enabled, nil
}

func (s *SQLiteStore) SetVADEnabled(enabled bool) error {
	return s.SetSetting(KeyVADEnabled, strconv.FormatBool(enabled))
}

// SaveBrief upserts the brief. A re-fetched brief keeps its play position.
func (s *SQLiteStore) SaveBrief(b Brief) error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("brief id is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO briefs(id, audio_url, transcript, created_at, audio, position_ms, fetched_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			audio_url = excluded.audio_url,
			transcript = excluded.transcript,
			audio = excluded.audio,
			fetched_at = excluded.fetched_at`,
		b.ID,
		b.AudioURL,
		b.Transcript,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
		b.Audio,
		b.Position.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save brief %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetBrief(id string) (Brief, error) {
	row := s.db.QueryRow(
		`SELECT id, audio_url, transcript, created_at, audio, position_ms FROM briefs WHERE id = ?`,
		id,
	)
	b, err := scanBrief(row)
	if err != nil {
		return Brief{}, fmt.Errorf("query brief %s: %w", id, err)
	}
	return b, nil
}

// LatestBrief returns sql.ErrNoRows (wrapped) when nothing is cached.
func (s *SQLiteStore) LatestBrief() (Brief, error) {
	row := s.db.QueryRow(
		`SELECT id, audio_url, transcript, created_at, audio, position_ms
		 FROM briefs ORDER BY created_at DESC, fetched_at DESC LIMIT 1`,
	)
	b, err := scanBrief(row)
	if err != nil {
		return Brief{}, fmt.Errorf("query latest brief: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) SaveBriefPosition(briefID string, position time.Duration) error {
	if position < 0 {
		position = 0
	}
	res, err := s.db.Exec(`UPDATE briefs SET position_ms = ? WHERE id = ?`, position.Milliseconds(), briefID)
	if err != nil {
		return fmt.Errorf("save position for brief %s: %w", briefID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save position rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) RecordCycle(c session.CycleRecord) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("cycle id is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO qa_cycles(id, brief_id, started_at, ended_at, question, answer, outcome, detail, audio_path)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.BriefID,
		c.StartedAt.UTC().Format(time.RFC3339Nano),
		c.EndedAt.UTC().Format(time.RFC3339Nano),
		strings.TrimSpace(c.Question),
		strings.TrimSpace(c.Answer),
		string(c.Outcome),
		c.Detail,
		c.AudioPath,
	)
	if err != nil {
		return fmt.Errorf("record cycle %s: %w", c.ID, err)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first.
func (s *SQLiteStore) RecentCycles(limit int) ([]session.CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, brief_id, started_at, ended_at, question, answer, outcome, detail, audio_path
		 FROM qa_cycles
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent cycles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanCycles(rows)
}

func (s *SQLiteStore) GetCycle(id string) (session.CycleRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, brief_id, started_at, ended_at, question, answer, outcome, detail, audio_path
		 FROM qa_cycles WHERE id = ?`,
		id,
	)
	if err != nil {
		return session.CycleRecord{}, fmt.Errorf("query cycle %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	cycles, err := scanCycles(rows)
	if err != nil {
		return session.CycleRecord{}, err
	}
	if len(cycles) == 0 {
		return session.CycleRecord{}, fmt.Errorf("query cycle %s: %w", id, sql.ErrNoRows)
	}
	return cycles[0], nil
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM qa_cycles ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) CyclesByDate(date string) ([]session.CycleRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, brief_id, started_at, ended_at, question, answer, outcome, detail, audio_path
		 FROM qa_cycles
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at ASC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query cycles by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	return scanCycles(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBrief(row rowScanner) (Brief, error) {
	var b Brief
	var createdAt string
	var positionMS int64
	if err := row.Scan(&b.ID, &b.AudioURL, &b.Transcript, &createdAt, &b.Audio, &positionMS); err != nil {
		return Brief{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Brief{}, fmt.Errorf("parse created_at: %w", err)
	}
	b.CreatedAt = parsed
	b.Position = time.Duration(positionMS) * time.Millisecond
	return b, nil
}

func scanCycles(rows *sql.Rows) ([]session.CycleRecord, error) {
	cycles := make([]session.CycleRecord, 0, 16)
	for rows.Next() {
		var c session.CycleRecord
		var startedAt, endedAt, outcome string
		if err := rows.Scan(&c.ID, &c.BriefID, &startedAt, &endedAt, &c.Question, &c.Answer, &outcome, &c.Detail, &c.AudioPath); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}

		parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		c.StartedAt = parsedStart
		c.EndedAt = parsedEnd
		c.Outcome = session.Outcome(outcome)

		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycle rows: %w", err)
	}

	return cycles, nil
}
