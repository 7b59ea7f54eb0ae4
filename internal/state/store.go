// Package state provides the local SQLite store: recently used
// entities, environment labels, and the cached $metadata documents.
// Nothing here holds grid state; that lives in memory for the session.
package state

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// RecentEntity is one remembered entity open.
type RecentEntity struct {
	Name        string
	Environment string
	LastUsed    time.Time
}

// Store is the SQLite-backed local store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// TouchRecent records that an entity was opened in an environment.
func (s *Store) TouchRecent(name, environment string) error {
	_, err := s.db.Exec(
		`INSERT INTO recent_entities (name, environment, last_used) VALUES (?, ?, ?)
		 ON CONFLICT (name, environment) DO UPDATE SET last_used = excluded.last_used`,
		name, environment, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record recent entity: %w", err)
	}
	return nil
}

// RecentEntities returns the most recently used entities for an
// environment, newest first, capped at limit.
func (s *Store) RecentEntities(environment string, limit int) ([]RecentEntity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT name, environment, last_used FROM recent_entities
		 WHERE environment = ? ORDER BY last_used DESC LIMIT ?`,
		environment, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recents []RecentEntity
	for rows.Next() {
		var r RecentEntity
		if err := rows.Scan(&r.Name, &r.Environment, &r.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan recent entity: %w", err)
		}
		recents = append(recents, r)
	}
	return recents, rows.Err()
}

// SetEnvironmentLabel stores a display label for an environment URL.
func (s *Store) SetEnvironmentLabel(url, label string) error {
	_, err := s.db.Exec(
		`INSERT INTO environment_labels (url, label) VALUES (?, ?)
		 ON CONFLICT (url) DO UPDATE SET label = excluded.label`,
		url, label,
	)
	if err != nil {
		return fmt.Errorf("failed to set environment label: %w", err)
	}
	return nil
}

// EnvironmentLabel returns the stored label for an environment URL, or
// "" when none is set.
func (s *Store) EnvironmentLabel(url string) (string, error) {
	var label string
	err := s.db.QueryRow(`SELECT label FROM environment_labels WHERE url = ?`, url).Scan(&label)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read environment label: %w", err)
	}
	return label, nil
}

// GetMetadata returns the cached $metadata document for an
// environment. ok is false when nothing is cached.
func (s *Store) GetMetadata(environment string) (doc []byte, fetchedAt time.Time, ok bool, err error) {
	err = s.db.QueryRow(
		`SELECT document, fetched_at FROM metadata_cache WHERE environment = ?`,
		environment,
	).Scan(&doc, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("failed to read metadata cache: %w", err)
	}
	return doc, fetchedAt, true, nil
}

// PutMetadata stores a $metadata document for an environment,
// replacing any previous copy.
func (s *Store) PutMetadata(environment string, doc []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata_cache (environment, document, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT (environment) DO UPDATE SET document = excluded.document, fetched_at = excluded.fetched_at`,
		environment, doc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write metadata cache: %w", err)
	}
	return nil
}
