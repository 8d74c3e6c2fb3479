package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ascension/internal/ledger"

	_ "modernc.org/sqlite"
)

const (
	metaSchemaVersion = "schema_version"
	metaNextReset     = "next_reset"
)

// SQLiteStore holds one row per user with a version counter checked on every
// write. The pool is capped at one connection so in-process writers queue
// behind each other; the version check covers other processes.
type SQLiteStore struct {
	db   *sql.DB
	defs *ledger.Definitions
}

func OpenSQLite(ctx context.Context, path string, defs *ledger.Definitions) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: %w", os.ErrInvalid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, unavailable("create state dir", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping sqlite", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			record TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)
	`); err != nil {
		_ = db.Close()
		return nil, unavailable("create users table", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, unavailable("create meta table", err)
	}

	s := &SQLiteStore{db: db, defs: defs}
	if err := s.initMeta(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initMeta(ctx context.Context) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaSchemaVersion).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, metaSchemaVersion, strconv.Itoa(SchemaVersion))
		if err != nil {
			return unavailable("write schema version", err)
		}
		return nil
	case err != nil:
		return unavailable("read schema version", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return unavailable("parse schema version", err)
	}
	return checkSchema(version)
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (ledger.UserRecord, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM users WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.UserRecord{}, false, nil
	}
	if err != nil {
		return ledger.UserRecord{}, false, unavailable("read user", err)
	}
	rec, err := decodeRecord(s.defs, []byte(raw))
	if err != nil {
		return ledger.UserRecord{}, false, unavailable("decode user", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) Update(ctx context.Context, userID string, fn func(*ledger.UserRecord) error) (ledger.UserRecord, error) {
	var out ledger.UserRecord
	err := withRetry(ctx, func() error {
		rec, err := s.updateOnce(ctx, userID, fn)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, unwrapCallback(err)
}

func (s *SQLiteStore) updateOnce(ctx context.Context, userID string, fn func(*ledger.UserRecord) error) (ledger.UserRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.UserRecord{}, unavailable("begin", err)
	}
	defer tx.Rollback()

	var (
		raw     string
		version int64
		rec     ledger.UserRecord
	)
	err = tx.QueryRowContext(ctx, `SELECT record, version FROM users WHERE user_id = ?`, userID).Scan(&raw, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec = s.defs.NewUserRecord(time.Now())
	case err != nil:
		return ledger.UserRecord{}, unavailable("read user", err)
	default:
		if rec, err = decodeRecord(s.defs, []byte(raw)); err != nil {
			return ledger.UserRecord{}, unavailable("decode user", err)
		}
	}

	if err := fn(&rec); err != nil {
		return ledger.UserRecord{}, fnError{err}
	}
	encoded, err := encodeRecord(rec)
	if err != nil {
		return ledger.UserRecord{}, unavailable("encode user", err)
	}

	var res sql.Result
	if version == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO users (user_id, record, version) VALUES (?, ?, 1)
			ON CONFLICT(user_id) DO NOTHING
		`, userID, string(encoded))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE users SET record = ?, version = version + 1
			WHERE user_id = ? AND version = ?
		`, string(encoded), userID, version)
	}
	if err != nil {
		return ledger.UserRecord{}, unavailable("write user", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ledger.UserRecord{}, unavailable("write user", err)
	} else if n == 0 {
		return ledger.UserRecord{}, errConflict
	}
	if err := tx.Commit(); err != nil {
		return ledger.UserRecord{}, unavailable("commit", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Scan(ctx context.Context) (map[string]ledger.UserRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer tx.Rollback()
	users, _, err := s.loadAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ledger.UserRecord, len(users))
	for id, rec := range users {
		out[id] = *rec
	}
	return out, nil
}

func (s *SQLiteStore) loadAll(ctx context.Context, tx *sql.Tx) (map[string]*ledger.UserRecord, map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id, record, version FROM users`)
	if err != nil {
		return nil, nil, unavailable("scan users", err)
	}
	defer rows.Close()

	users := map[string]*ledger.UserRecord{}
	versions := map[string]int64{}
	for rows.Next() {
		var (
			id, raw string
			version int64
		)
		if err := rows.Scan(&id, &raw, &version); err != nil {
			return nil, nil, unavailable("scan users", err)
		}
		rec, err := decodeRecord(s.defs, []byte(raw))
		if err != nil {
			return nil, nil, unavailable("decode user", err)
		}
		users[id] = &rec
		versions[id] = version
	}
	if err := rows.Err(); err != nil {
		return nil, nil, unavailable("scan users", err)
	}
	return users, versions, nil
}

func (s *SQLiteStore) Exclusive(ctx context.Context, fn func(map[string]*ledger.UserRecord, *Meta) error) error {
	err := withRetry(ctx, func() error {
		return s.exclusiveOnce(ctx, fn)
	})
	return unwrapCallback(err)
}

func (s *SQLiteStore) exclusiveOnce(ctx context.Context, fn func(map[string]*ledger.UserRecord, *Meta) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback()

	users, versions, err := s.loadAll(ctx, tx)
	if err != nil {
		return err
	}
	meta, err := readMetaTx(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(users, &meta); err != nil {
		return fnError{err}
	}

	for id, rec := range users {
		encoded, err := encodeRecord(*rec)
		if err != nil {
			return unavailable("encode user", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET record = ?, version = version + 1
			WHERE user_id = ? AND version = ?
		`, string(encoded), id, versions[id])
		if err != nil {
			return unavailable("write user", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return unavailable("write user", err)
		} else if n == 0 {
			return errConflict
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaNextReset, meta.NextReset.UTC().Format(time.RFC3339)); err != nil {
		return unavailable("write meta", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func readMetaTx(ctx context.Context, tx *sql.Tx) (Meta, error) {
	meta := Meta{SchemaVersion: SchemaVersion}
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Meta{}, unavailable("read meta", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Meta{}, unavailable("read meta", err)
		}
		switch key {
		case metaSchemaVersion:
			if v, err := strconv.Atoi(value); err == nil {
				meta.SchemaVersion = v
			}
		case metaNextReset:
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				meta.NextReset = ts.UTC()
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Meta{}, unavailable("read meta", err)
	}
	return meta, nil
}

func (s *SQLiteStore) Meta(ctx context.Context) (Meta, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Meta{}, unavailable("begin", err)
	}
	defer tx.Rollback()
	return readMetaTx(ctx, tx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
