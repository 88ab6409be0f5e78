package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for cursors, findings, sends, and dedupe.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS findings (
  id          TEXT PRIMARY KEY,
  rule_id     TEXT NOT NULL,
  source_id   TEXT NOT NULL,
  subject     TEXT NOT NULL,
  height      INTEGER NOT NULL,
  txhash      TEXT,
  name        TEXT NOT NULL,
  symbol      TEXT NOT NULL,
  verified    INTEGER NOT NULL DEFAULT 0,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS findings_subject ON findings(subject);

CREATE TABLE IF NOT EXISTS sends (
  finding_id    TEXT NOT NULL REFERENCES findings(id),
  sink_id       TEXT NOT NULL,
  status        TEXT NOT NULL,
  error         TEXT,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(finding_id, sink_id)
);

CREATE TABLE IF NOT EXISTS dedupe (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Cursor is the last processed height/hash of a source.
type Cursor struct {
	SourceID  string
	Height    uint64
	Hash      string
	UpdatedAt time.Time
}

// UpsertCursor records the latest processed height/hash for a source.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(source_id) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=CURRENT_TIMESTAMP;
`, sourceID, height, hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE source_id = ?;
`, sourceID)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// ListCursors returns every cursor ordered by source id.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source_id, height, hash, updated_at FROM cursors ORDER BY source_id;
`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.SourceID, &c.Height, &c.Hash, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	return out, nil
}

// MarkDedupe sets or refreshes a dedupe key until expiresAt.
func (s *Store) MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dedupe (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`, key, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("mark dedupe: %w", err)
	}
	return nil
}

// IsDuplicate returns true if the key exists and is not expired; expired entries are pruned.
func (s *Store) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}

	var expires time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT expires_at FROM dedupe WHERE key = ?;
`, key).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}

	if expires.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedupe WHERE key = ?;`, key); err != nil {
		return false, fmt.Errorf("prune dedupe: %w", err)
	}
	return false, nil
}

// Finding is a recorded name/symbol pair for a subject at a height.
type Finding struct {
	ID        string
	RuleID    string
	SourceID  string
	Subject   string
	Height    uint64
	TxHash    string
	Name      string
	Symbol    string
	Verified  bool
	CreatedAt time.Time
}

// InsertFinding stores a finding; primary key enforces exactly-once insertion.
func (s *Store) InsertFinding(ctx context.Context, f Finding) error {
	if f.ID == "" || f.RuleID == "" || f.Subject == "" {
		return errors.New("finding id, rule_id and subject required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO findings (id, rule_id, source_id, subject, height, txhash, name, symbol, verified, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, f.ID, f.RuleID, f.SourceID, f.Subject, f.Height, f.TxHash, f.Name, f.Symbol, f.Verified, nullTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// ListFindings returns findings oldest first; limit <= 0 means all.
func (s *Store) ListFindings(ctx context.Context, limit int) ([]Finding, error) {
	query := `
SELECT id, rule_id, source_id, subject, height, COALESCE(txhash, ''), name, symbol, verified, created_at
FROM findings ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var out []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.ID, &f.RuleID, &f.SourceID, &f.Subject, &f.Height, &f.TxHash, &f.Name, &f.Symbol, &f.Verified, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	return out, nil
}

// Send represents a sink delivery record.
type Send struct {
	FindingID string
	SinkID    string
	Status    string
	Error     string
	CreatedAt time.Time
}

// InsertSend records a sink delivery attempt; primary key enforces exactly-once per finding/sink.
func (s *Store) InsertSend(ctx context.Context, srec Send) error {
	if srec.FindingID == "" || srec.SinkID == "" || srec.Status == "" {
		return errors.New("finding_id, sink_id, and status are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sends (finding_id, sink_id, status, error, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, srec.FindingID, srec.SinkID, srec.Status, nullString(srec.Error), nullTime(srec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert send: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
