// Package store persists sessions, ledger entries, and lock state in
// SQLite so history and an unresolved lock survive daemon restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"guardiand/internal/judge"
	"guardiand/internal/ledger"
	"guardiand/internal/lock"
	"guardiand/internal/logging"
)

// Schema for the guardiand activity store.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    started_ns  INTEGER NOT NULL,
    ended_ns    INTEGER,
    age_group   TEXT NOT NULL,
    strictness  TEXT NOT NULL,
    summary     TEXT
);

CREATE TABLE IF NOT EXISTS entries (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL REFERENCES sessions(id),
    seq         INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    at_ns       INTEGER NOT NULL,
    segment_id  TEXT,
    category    TEXT,
    confidence  REAL,
    action      TEXT,
    rule_id     TEXT,
    emergency   INTEGER NOT NULL DEFAULT 0,
    fallback    INTEGER NOT NULL DEFAULT 0,
    request_id  TEXT,
    resolution  TEXT,
    approver    TEXT,
    detail      TEXT,
    UNIQUE (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_entries_at ON entries(at_ns);

CREATE TABLE IF NOT EXISTS locks (
    request_id      TEXT PRIMARY KEY,
    reasons         TEXT NOT NULL,
    confidence      REAL NOT NULL,
    keywords        TEXT,
    screenshot_ref  TEXT,
    created_ns      INTEGER NOT NULL,
    opened_ns       INTEGER NOT NULL,
    timeout_ns      INTEGER NOT NULL,
    resolved_ns     INTEGER,
    resolution      TEXT,
    approver        TEXT
);

CREATE INDEX IF NOT EXISTS idx_locks_pending ON locks(resolved_ns) WHERE resolved_ns IS NULL;
`

// Store is the SQLite activity store.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Open opens or creates the database at the given path and applies the
// schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, log: logging.Default().WithComponent("store")}, nil
}

// OpenMemory opens a throwaway in-memory store.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: logging.Default().WithComponent("store")}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginSession records a new session.
func (s *Store) BeginSession(id string, startedAt time.Time, profile judge.Profile) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, started_ns, age_group, strictness)
		VALUES (?, ?, ?, ?)`,
		id, startedAt.UnixNano(), string(profile.AgeGroup), string(profile.Strictness),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession closes a session and stores its final summary.
func (s *Store) EndSession(id string, endedAt time.Time, summary ledger.Summary) error {
	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.db.Exec(`UPDATE sessions SET ended_ns = ?, summary = ? WHERE id = ?`,
		endedAt.UnixNano(), string(blob), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// SessionInfo is a stored session header.
type SessionInfo struct {
	ID         string
	StartedAt  time.Time
	EndedAt    time.Time
	AgeGroup   judge.AgeGroup
	Strictness judge.Strictness
}

// Sessions returns up to limit sessions, newest first.
func (s *Store) Sessions(limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, started_ns, ended_ns, age_group, strictness
		FROM sessions ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info      SessionInfo
			startedNs int64
			endedNs   sql.NullInt64
			ageGroup  string
			strict    string
		)
		if err := rows.Scan(&info.ID, &startedNs, &endedNs, &ageGroup, &strict); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.StartedAt = time.Unix(0, startedNs)
		if endedNs.Valid {
			info.EndedAt = time.Unix(0, endedNs.Int64)
		}
		info.AgeGroup = judge.AgeGroup(ageGroup)
		info.Strictness = judge.Strictness(strict)
		out = append(out, info)
	}
	return out, rows.Err()
}

// InsertEntry persists one ledger entry.
func (s *Store) InsertEntry(sessionID string, e ledger.Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO entries (session_id, seq, kind, at_ns, segment_id, category, confidence,
			action, rule_id, emergency, fallback, request_id, resolution, approver, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, e.Seq, string(e.Kind), e.At.UnixNano(), e.SegmentID,
		string(e.Category), e.Confidence, string(e.Action), e.RuleID,
		boolInt(e.Emergency), boolInt(e.Fallback),
		e.RequestID, e.Resolution, e.Approver, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// AppendEntry implements ledger.Sink. Persistence failures are logged,
// not surfaced: the in-memory ledger stays authoritative for the
// running session.
func (s *Store) AppendEntry(sessionID string, e ledger.Entry) {
	if err := s.InsertEntry(sessionID, e); err != nil {
		s.log.Error("persisting ledger entry failed", "seq", e.Seq, "error", err)
	}
}

// Entries returns a session's entries in sequence order.
func (s *Store) Entries(sessionID string) ([]ledger.Entry, error) {
	rows, err := s.db.Query(`
		SELECT seq, kind, at_ns, segment_id, category, confidence, action,
			rule_id, emergency, fallback, request_id, resolution, approver, detail
		FROM entries WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e         ledger.Entry
			kind      string
			atNs      int64
			category  string
			action    string
			emergency int
			fallback  int
		)
		if err := rows.Scan(&e.Seq, &kind, &atNs, &e.SegmentID, &category, &e.Confidence,
			&action, &e.RuleID, &emergency, &fallback,
			&e.RequestID, &e.Resolution, &e.Approver, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = ledger.EventKind(kind)
		e.At = time.Unix(0, atNs)
		e.Category = judge.Category(category)
		e.Action = judge.Action(action)
		e.Emergency = emergency != 0
		e.Fallback = fallback != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveLock implements lock.Store. An existing row for the same request
// is replaced so denial-extended deadlines are kept current.
func (s *Store) SaveLock(req lock.ApprovalRequest, openedAt, timeoutAt time.Time) error {
	reasons, err := json.Marshal(req.Reasons)
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}
	keywords, err := json.Marshal(req.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO locks (request_id, reasons, confidence, keywords, screenshot_ref,
			created_ns, opened_ns, timeout_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			reasons = excluded.reasons,
			keywords = excluded.keywords,
			timeout_ns = excluded.timeout_ns`,
		req.ID, string(reasons), req.Confidence, string(keywords), req.ScreenshotRef,
		req.CreatedAt.UnixNano(), openedAt.UnixNano(), timeoutAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save lock: %w", err)
	}
	return nil
}

// ResolveLock implements lock.Store.
func (s *Store) ResolveLock(id string, resolution lock.Resolution, approver string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE locks SET resolved_ns = ?, resolution = ?, approver = ?
		WHERE request_id = ? AND resolved_ns IS NULL`,
		at.UnixNano(), string(resolution), approver, id)
	if err != nil {
		return fmt.Errorf("resolve lock: %w", err)
	}
	return nil
}

// PendingLock implements lock.Store: it returns the unresolved lock, if
// any. At most one can exist because the coordinator coalesces.
func (s *Store) PendingLock() (*lock.ApprovalRequest, time.Time, time.Time, error) {
	row := s.db.QueryRow(`
		SELECT request_id, reasons, confidence, keywords, screenshot_ref,
			created_ns, opened_ns, timeout_ns
		FROM locks WHERE resolved_ns IS NULL
		ORDER BY opened_ns DESC LIMIT 1`)

	var (
		req       lock.ApprovalRequest
		reasons   string
		keywords  sql.NullString
		shot      sql.NullString
		createdNs int64
		openedNs  int64
		timeoutNs int64
	)
	err := row.Scan(&req.ID, &reasons, &req.Confidence, &keywords, &shot,
		&createdNs, &openedNs, &timeoutNs)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("query pending lock: %w", err)
	}

	if err := json.Unmarshal([]byte(reasons), &req.Reasons); err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("decode reasons: %w", err)
	}
	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &req.Keywords); err != nil {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("decode keywords: %w", err)
		}
	}
	if shot.Valid {
		req.ScreenshotRef = shot.String
	}
	req.CreatedAt = time.Unix(0, createdNs)
	return &req, time.Unix(0, openedNs), time.Unix(0, timeoutNs), nil
}

// PruneBefore deletes entries and resolved locks older than cutoff,
// plus sessions that ended before it. Returns rows removed.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	ns := cutoff.UnixNano()
	var total int64

	res, err := s.db.Exec(`DELETE FROM entries WHERE at_ns < ?`, ns)
	if err != nil {
		return total, fmt.Errorf("prune entries: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.Exec(`DELETE FROM locks WHERE resolved_ns IS NOT NULL AND resolved_ns < ?`, ns)
	if err != nil {
		return total, fmt.Errorf("prune locks: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	res, err = s.db.Exec(`
		DELETE FROM sessions WHERE ended_ns IS NOT NULL AND ended_ns < ?
		AND id NOT IN (SELECT DISTINCT session_id FROM entries)`, ns)
	if err != nil {
		return total, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
