// Package audit records a durable, hash-chained history of trust
// manifest updates: who changed which script's trusted hash, and when.
// It never persists policy decisions — that is an explicit non-goal of
// the decision engine itself.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Entry is one recorded trust manifest mutation.
type Entry struct {
	ID         string
	Timestamp  time.Time
	Actor      string // OS user or CI identity performing the update, if known
	Operation  string // "init", "put", "remove"
	Reference  string // the script reference the operation applies to
	OldHash    string // empty for "init" and "put" of a new reference
	NewHash    string // empty for "remove"
	PrevHash   string // chain link: hash of the previous Entry, or seed
	Hash       string
}

// computeHash hashes an entry's fields together with PrevHash, chaining
// it to the entry before it the same way a trace's hash chains to the
// trace before it.
func computeHash(e *Entry) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		e.ID, e.Actor, e.Operation, e.Reference, e.OldHash, e.NewHash, e.Timestamp.UTC().Format(time.RFC3339Nano), e.PrevHash)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// seedHash computes the root PrevHash for a brand-new audit log, derived
// from the manifest path so two independently-initialized logs for
// different manifests never collide.
func seedHash(manifestPath string) string {
	sum := sha256.Sum256([]byte("audit-seed:" + manifestPath))
	return hex.EncodeToString(sum[:])
}

// VerifyChain walks entries in ascending timestamp order and checks hash
// integrity and chain linkage. Returns (valid, brokenAtIndex); brokenAtIndex
// is -1 when valid is true.
func VerifyChain(entries []*Entry) (bool, int) {
	for i, e := range entries {
		if computeHash(e) != e.Hash {
			return false, i
		}
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return false, i
		}
	}
	return true, -1
}

// Log is a SQLite-backed, hash-chained, append-only audit trail keyed by
// the trust manifest it covers.
type Log struct {
	db           *sql.DB
	manifestPath string
}

// Open creates or opens the audit database at dbPath for the trust
// manifest at manifestPath, creating the schema if needed.
func Open(dbPath, manifestPath string) (*Log, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", dbPath, err)
	}
	l := &Log{db: db, manifestPath: manifestPath}
	if err := l.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) initialize() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS manifest_updates (
		id             TEXT PRIMARY KEY,
		manifest_path  TEXT NOT NULL,
		timestamp      DATETIME NOT NULL,
		actor          TEXT,
		operation      TEXT NOT NULL,
		reference      TEXT NOT NULL,
		old_hash       TEXT,
		new_hash       TEXT,
		prev_hash      TEXT NOT NULL,
		hash           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_manifest_updates_path ON manifest_updates(manifest_path);
	CREATE INDEX IF NOT EXISTS idx_manifest_updates_ts ON manifest_updates(timestamp);
	`)
	return err
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Record appends a new entry chained to the most recent entry for this
// manifest, stamping it with a ULID and the current time, and returns the
// entry as written.
func (l *Log) Record(actor, operation, reference, oldHash, newHash string) (*Entry, error) {
	prev, err := l.latestHash()
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ID:        ulid.Make().String(),
		Timestamp: time.Now(),
		Actor:     actor,
		Operation: operation,
		Reference: reference,
		OldHash:   oldHash,
		NewHash:   newHash,
		PrevHash:  prev,
	}
	e.Hash = computeHash(e)

	_, err = l.db.Exec(`INSERT INTO manifest_updates
		(id, manifest_path, timestamp, actor, operation, reference, old_hash, new_hash, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, l.manifestPath, e.Timestamp, e.Actor, e.Operation, e.Reference, e.OldHash, e.NewHash, e.PrevHash, e.Hash,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: inserting entry: %w", err)
	}
	return e, nil
}

func (l *Log) latestHash() (string, error) {
	var hash string
	err := l.db.QueryRow(`SELECT hash FROM manifest_updates WHERE manifest_path = ? ORDER BY timestamp DESC LIMIT 1`, l.manifestPath).Scan(&hash)
	if err == sql.ErrNoRows {
		return seedHash(l.manifestPath), nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: reading latest entry: %w", err)
	}
	return hash, nil
}

// History returns every entry for this log's manifest in ascending
// timestamp order.
func (l *Log) History() ([]*Entry, error) {
	rows, err := l.db.Query(`SELECT id, timestamp, actor, operation, reference, old_hash, new_hash, prev_hash, hash
		FROM manifest_updates WHERE manifest_path = ? ORDER BY timestamp ASC`, l.manifestPath)
	if err != nil {
		return nil, fmt.Errorf("audit: querying history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var actor, oldHash, newHash sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &actor, &e.Operation, &e.Reference, &oldHash, &newHash, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("audit: scanning entry: %w", err)
		}
		e.Actor = actor.String
		e.OldHash = oldHash.String
		e.NewHash = newHash.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Verify re-reads this log's full history and checks hash-chain integrity.
func (l *Log) Verify() (bool, int, error) {
	entries, err := l.History()
	if err != nil {
		return false, 0, err
	}
	valid, brokenAt := VerifyChain(entries)
	return valid, brokenAt, nil
}
