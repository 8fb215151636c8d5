package diary

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ScopeAll marks a diary generated over every candidate conversation.
const ScopeAll = "all"

// Record is one persisted diary entry. At most one live record exists
// per (date, scope); regeneration overwrites, never appends.
type Record struct {
	ID                 string
	Date               string // YYYY-MM-DD in the configured timezone
	Scope              string // ConversationRef string or "all"
	Body               string
	Weather            WeatherTag
	WeatherScored      bool
	GeneratedAt        time.Time
	ModelProfile       string
	SourceMessageCount int
	BotMessages        int
	UserMessages       int
	Published          bool
	PublishedAt        time.Time
}

// Stats summarizes the store for the list command.
type Stats struct {
	TotalRecords  int
	DistinctDates int
	TotalRunes    int
	FirstDate     string
	LastDate      string
}

// timeLayout is fixed-width so generated_at compares and sorts
// chronologically as TEXT.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS diaries (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			scope TEXT NOT NULL,
			body TEXT NOT NULL,
			weather TEXT NOT NULL DEFAULT '',
			weather_scored INTEGER NOT NULL DEFAULT 0,
			generated_at TEXT NOT NULL,
			model_profile TEXT NOT NULL DEFAULT '',
			source_messages INTEGER NOT NULL DEFAULT 0,
			bot_messages INTEGER NOT NULL DEFAULT 0,
			user_messages INTEGER NOT NULL DEFAULT 0,
			published INTEGER NOT NULL DEFAULT 0,
			published_at TEXT NOT NULL DEFAULT '',
			UNIQUE(date, scope)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diaries_date ON diaries(date, generated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts by (date, scope) inside one transaction, so a regenerate
// atomically replaces the previous record and readers never observe a
// partial write.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}

	published := 0
	if rec.Published {
		published = 1
	}
	scored := 0
	if rec.WeatherScored {
		scored = 1
	}
	publishedAt := ""
	if !rec.PublishedAt.IsZero() {
		publishedAt = rec.PublishedAt.UTC().Format(timeLayout)
	}

	_, err = tx.Exec(
		`INSERT INTO diaries (id, date, scope, body, weather, weather_scored, generated_at,
			model_profile, source_messages, bot_messages, user_messages, published, published_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(date, scope) DO UPDATE SET
			id = excluded.id,
			body = excluded.body,
			weather = excluded.weather,
			weather_scored = excluded.weather_scored,
			generated_at = excluded.generated_at,
			model_profile = excluded.model_profile,
			source_messages = excluded.source_messages,
			bot_messages = excluded.bot_messages,
			user_messages = excluded.user_messages,
			published = excluded.published,
			published_at = excluded.published_at`,
		rec.ID, rec.Date, rec.Scope, rec.Body, string(rec.Weather), scored,
		rec.GeneratedAt.UTC().Format(timeLayout), rec.ModelProfile,
		rec.SourceMessageCount, rec.BotMessages, rec.UserMessages, published, publishedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save diary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Get returns the record for (date, scope), or nil when absent.
func (s *Store) Get(date, scope string) (*Record, error) {
	rows, err := s.db.Query(selectColumns+` FROM diaries WHERE date = ? AND scope = ?`, date, scope)
	if err != nil {
		return nil, fmt.Errorf("get diary: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByDate returns the date's records ordered by generation time,
// then scope for a stable tie-break.
func (s *Store) ListByDate(date string) ([]Record, error) {
	rows, err := s.db.Query(selectColumns+` FROM diaries WHERE date = ? ORDER BY generated_at ASC, scope ASC`, date)
	if err != nil {
		return nil, fmt.Errorf("list diaries: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *Store) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(selectColumns+` FROM diaries ORDER BY generated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent diaries: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	row := s.db.QueryRow(
		`SELECT COUNT(*), COUNT(DISTINCT date), COALESCE(SUM(LENGTH(body)), 0),
			COALESCE(MIN(date), ''), COALESCE(MAX(date), '') FROM diaries`)
	if err := row.Scan(&st.TotalRecords, &st.DistinctDates, &st.TotalRunes, &st.FirstDate, &st.LastDate); err != nil {
		return Stats{}, fmt.Errorf("diary stats: %w", err)
	}
	return st, nil
}

// MarkPublished flags a stored record after a successful publish.
func (s *Store) MarkPublished(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE diaries SET published = 1, published_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, date, scope, body, weather, weather_scored, generated_at,
	model_profile, source_messages, bot_messages, user_messages, published, published_at`

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec                          Record
		weather, genAt, pubAt        string
		scored, published            int
	)
	err := rows.Scan(&rec.ID, &rec.Date, &rec.Scope, &rec.Body, &weather, &scored, &genAt,
		&rec.ModelProfile, &rec.SourceMessageCount, &rec.BotMessages, &rec.UserMessages,
		&published, &pubAt)
	if err != nil {
		return Record{}, err
	}
	rec.Weather = WeatherTag(weather)
	rec.WeatherScored = scored != 0
	rec.Published = published != 0
	if rec.GeneratedAt, err = time.Parse(timeLayout, genAt); err != nil {
		return Record{}, fmt.Errorf("corrupt generated_at %q: %w", genAt, err)
	}
	if pubAt != "" {
		if rec.PublishedAt, err = time.Parse(timeLayout, pubAt); err != nil {
			return Record{}, fmt.Errorf("corrupt published_at %q: %w", pubAt, err)
		}
	}
	return rec, nil
}
