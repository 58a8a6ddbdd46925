// Package store provides the embedded local key/value+meta store: facts,
// pending deletions, and the sync cursors that track progress against the
// remote ledger.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TimeFormat is the fixed text calendar format (UTC) used for Fact
// timestamps, so values round-trip byte-identically through SQLite TEXT
// columns and through shard JSON.
const TimeFormat = time.RFC3339

// Fact is a single piece of structured memory.
type Fact struct {
	ID            string
	Scope         string // "global" or "project:<name>"
	Key           string // unique; stable, typically colon-delimited
	Value         string
	Tags          []string
	Confidence    float64
	SourceSession string
	Created       time.Time
	LastConfirmed time.Time
	AccessCount   int64
	Dirty         bool // local-only
}

// GlobalScope is the literal scope value shared by every project.
const GlobalScope = "global"

// Store is the embedded single-file transactional store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Config holds local-store configuration.
type Config struct {
	DataDir string
}

// DBFileName is the embedded database's file name within the data directory.
const DBFileName = "syncengine.db"

// New opens (creating if absent) the embedded store under cfg.DataDir.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		key TEXT NOT NULL UNIQUE,
		value TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		confidence REAL NOT NULL DEFAULT 0,
		source_session TEXT,
		created TEXT NOT NULL,
		last_confirmed TEXT NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		dirty INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_facts_scope ON facts(scope);
	CREATE INDEX IF NOT EXISTS idx_facts_dirty ON facts(dirty);
	CREATE INDEX IF NOT EXISTS idx_facts_last_confirmed ON facts(last_confirmed);

	CREATE TABLE IF NOT EXISTS pending_deletes (
		key TEXT PRIMARY KEY,
		deleted_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertFact inserts or overwrites a fact by key, sets dirty=1, and removes
// any pending tombstone for the same key, atomically.
func (s *Store) UpsertFact(f *Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	tagsJSON, err := marshalTags(f.Tags)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO facts (id, scope, key, value, tags, confidence, source_session, created, last_confirmed, access_count, dirty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET
			scope = excluded.scope,
			value = excluded.value,
			tags = excluded.tags,
			confidence = excluded.confidence,
			source_session = excluded.source_session,
			last_confirmed = excluded.last_confirmed,
			dirty = 1
	`, f.ID, f.Scope, f.Key, f.Value, tagsJSON, f.Confidence, f.SourceSession,
		f.Created.Format(TimeFormat), f.LastConfirmed.Format(TimeFormat), f.AccessCount)
	if err != nil {
		return fmt.Errorf("store: upsert fact: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM pending_deletes WHERE key = ?`, f.Key); err != nil {
		return fmt.Errorf("store: clear tombstone: %w", err)
	}

	return tx.Commit()
}

// ReplaceFact writes f exactly as given, including its Dirty flag, without
// the upsert-always-dirties-and-clears-tombstone behavior of UpsertFact.
// Used by pull/reconstruct replay, which must leave the store clean.
func (s *Store) ReplaceFact(f *Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagsJSON, err := marshalTags(f.Tags)
	if err != nil {
		return err
	}

	dirty := 0
	if f.Dirty {
		dirty = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO facts (id, scope, key, value, tags, confidence, source_session, created, last_confirmed, access_count, dirty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			id = excluded.id,
			scope = excluded.scope,
			value = excluded.value,
			tags = excluded.tags,
			confidence = excluded.confidence,
			source_session = excluded.source_session,
			created = excluded.created,
			last_confirmed = excluded.last_confirmed,
			access_count = excluded.access_count,
			dirty = excluded.dirty
	`, f.ID, f.Scope, f.Key, f.Value, tagsJSON, f.Confidence, f.SourceSession,
		f.Created.Format(TimeFormat), f.LastConfirmed.Format(TimeFormat), f.AccessCount, dirty)
	if err != nil {
		return fmt.Errorf("store: replace fact: %w", err)
	}
	return nil
}

// DeleteFact removes the fact row for key and inserts a tombstone, but only
// if the row existed; deleting a non-existent key is a no-op and creates no
// tombstone.
func (s *Store) DeleteFact(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM facts WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: delete fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return tx.Commit()
	}

	if _, err := tx.Exec(`
		INSERT INTO pending_deletes (key, deleted_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET deleted_at = excluded.deleted_at
	`, key, time.Now().UTC().Format(TimeFormat)); err != nil {
		return fmt.Errorf("store: insert tombstone: %w", err)
	}

	return tx.Commit()
}

// GetFact returns the fact for key, or nil if absent.
func (s *Store) GetFact(key string) (*Fact, error) {
	row := s.db.QueryRow(`
		SELECT id, scope, key, value, tags, confidence, source_session, created, last_confirmed, access_count, dirty
		FROM facts WHERE key = ?
	`, key)
	return scanFact(row)
}

// ListAll returns every fact, sorted by last_confirmed descending.
func (s *Store) ListAll() ([]*Fact, error) {
	rows, err := s.db.Query(`
		SELECT id, scope, key, value, tags, confidence, source_session, created, last_confirmed, access_count, dirty
		FROM facts ORDER BY last_confirmed DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list all: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ListByScope returns facts where scope = s or scope = "global", sorted by
// last_confirmed descending.
func (s *Store) ListByScope(scope string) ([]*Fact, error) {
	rows, err := s.db.Query(`
		SELECT id, scope, key, value, tags, confidence, source_session, created, last_confirmed, access_count, dirty
		FROM facts WHERE scope = ? OR scope = ? ORDER BY last_confirmed DESC
	`, scope, GlobalScope)
	if err != nil {
		return nil, fmt.Errorf("store: list by scope: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// GetDirty returns all facts with dirty=1.
func (s *Store) GetDirty() ([]*Fact, error) {
	rows, err := s.db.Query(`
		SELECT id, scope, key, value, tags, confidence, source_session, created, last_confirmed, access_count, dirty
		FROM facts WHERE dirty = 1 ORDER BY last_confirmed DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: get dirty: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// PendingDelete is a tombstone awaiting push.
type PendingDelete struct {
	Key       string
	DeletedAt time.Time
}

// GetPendingDeletes returns every tombstone.
func (s *Store) GetPendingDeletes() ([]*PendingDelete, error) {
	rows, err := s.db.Query(`SELECT key, deleted_at FROM pending_deletes`)
	if err != nil {
		return nil, fmt.Errorf("store: get pending deletes: %w", err)
	}
	defer rows.Close()

	var out []*PendingDelete
	for rows.Next() {
		var key, deletedAt string
		if err := rows.Scan(&key, &deletedAt); err != nil {
			return nil, fmt.Errorf("store: scan pending delete: %w", err)
		}
		t, err := time.Parse(TimeFormat, deletedAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse deleted_at: %w", err)
		}
		out = append(out, &PendingDelete{Key: key, DeletedAt: t})
	}
	return out, rows.Err()
}

// ClearDirty sets dirty=0 on every fact and empties pending_deletes. Called
// after a fully successful push.
func (s *Store) ClearDirty() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE facts SET dirty = 0`); err != nil {
		return fmt.Errorf("store: clear dirty: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM pending_deletes`); err != nil {
		return fmt.Errorf("store: clear pending deletes: %w", err)
	}

	return tx.Commit()
}

// IncrementAccessCount bumps a fact's access_count by 1.
func (s *Store) IncrementAccessCount(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE facts SET access_count = access_count + 1 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: increment access count: %w", err)
	}
	return nil
}

// GetMeta returns a meta value, or ("", false) if absent.
func (s *Store) GetMeta(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get meta: %w", err)
	}
	return value, true, nil
}

// SetMeta sets a meta value.
func (s *Store) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set meta: %w", err)
	}
	return nil
}

func scanFact(row *sql.Row) (*Fact, error) {
	var (
		f             Fact
		tagsJSON      string
		sourceSession sql.NullString
		created       string
		lastConfirmed string
		dirty         int
	)
	err := row.Scan(&f.ID, &f.Scope, &f.Key, &f.Value, &tagsJSON, &f.Confidence,
		&sourceSession, &created, &lastConfirmed, &f.AccessCount, &dirty)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan fact: %w", err)
	}
	return finishScan(&f, tagsJSON, sourceSession, created, lastConfirmed, dirty)
}

func scanFacts(rows *sql.Rows) ([]*Fact, error) {
	var out []*Fact
	for rows.Next() {
		var (
			f             Fact
			tagsJSON      string
			sourceSession sql.NullString
			created       string
			lastConfirmed string
			dirty         int
		)
		if err := rows.Scan(&f.ID, &f.Scope, &f.Key, &f.Value, &tagsJSON, &f.Confidence,
			&sourceSession, &created, &lastConfirmed, &f.AccessCount, &dirty); err != nil {
			return nil, fmt.Errorf("store: scan fact: %w", err)
		}
		fact, err := finishScan(&f, tagsJSON, sourceSession, created, lastConfirmed, dirty)
		if err != nil {
			return nil, err
		}
		out = append(out, fact)
	}
	return out, rows.Err()
}

func finishScan(f *Fact, tagsJSON string, sourceSession sql.NullString, created, lastConfirmed string, dirty int) (*Fact, error) {
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, err
	}
	f.Tags = tags
	f.SourceSession = sourceSession.String

	createdTime, err := time.Parse(TimeFormat, created)
	if err != nil {
		return nil, fmt.Errorf("store: parse created: %w", err)
	}
	f.Created = createdTime

	lastConfirmedTime, err := time.Parse(TimeFormat, lastConfirmed)
	if err != nil {
		return nil, fmt.Errorf("store: parse last_confirmed: %w", err)
	}
	f.LastConfirmed = lastConfirmedTime

	f.Dirty = dirty != 0
	return f, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
