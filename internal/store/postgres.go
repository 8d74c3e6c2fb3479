package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ascension/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore locks the user row for every update inside a serializable
// transaction. The weekly reset takes an exclusive table lock instead.
type PostgresStore struct {
	db   *pgxpool.Pool
	defs *ledger.Definitions
}

func NewPostgres(ctx context.Context, pool *pgxpool.Pool, defs *ledger.Definitions) (*PostgresStore, error) {
	s := &PostgresStore{db: pool, defs: defs}
	var raw string
	err := pool.QueryRow(ctx, `SELECT value FROM ascension.meta WHERE key = $1`, metaSchemaVersion).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := pool.Exec(ctx, `
			INSERT INTO ascension.meta (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING
		`, metaSchemaVersion, strconv.Itoa(SchemaVersion)); err != nil {
			pool.Close()
			return nil, unavailable("write schema version", err)
		}
	case err != nil:
		pool.Close()
		return nil, unavailable("read schema version", err)
	default:
		version, err := strconv.Atoi(raw)
		if err != nil {
			pool.Close()
			return nil, unavailable("parse schema version", err)
		}
		if err := checkSchema(version); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (ledger.UserRecord, bool, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT record FROM ascension.users WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.UserRecord{}, false, nil
	}
	if err != nil {
		return ledger.UserRecord{}, false, unavailable("read user", err)
	}
	rec, err := decodeRecord(s.defs, raw)
	if err != nil {
		return ledger.UserRecord{}, false, unavailable("decode user", err)
	}
	return rec, true, nil
}

func (s *PostgresStore) Update(ctx context.Context, userID string, fn func(*ledger.UserRecord) error) (ledger.UserRecord, error) {
	var out ledger.UserRecord
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return unavailable("begin", err)
		}
		defer tx.Rollback(ctx)

		var (
			raw []byte
			rec ledger.UserRecord
		)
		err = tx.QueryRow(ctx, `SELECT record FROM ascension.users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&raw)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			rec = s.defs.NewUserRecord(time.Now())
		case err != nil:
			return unavailable("read user", err)
		default:
			if rec, err = decodeRecord(s.defs, raw); err != nil {
				return unavailable("decode user", err)
			}
		}

		if err := fn(&rec); err != nil {
			return fnError{err}
		}
		encoded, err := encodeRecord(rec)
		if err != nil {
			return unavailable("encode user", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ascension.users (user_id, record, version, updated_at)
			VALUES ($1, $2::jsonb, 1, now())
			ON CONFLICT (user_id) DO UPDATE
			SET record = EXCLUDED.record, version = ascension.users.version + 1, updated_at = now()
		`, userID, string(encoded)); err != nil {
			return unavailable("write user", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return unavailable("commit", err)
		}
		out = rec
		return nil
	})
	return out, unwrapCallback(err)
}

func (s *PostgresStore) Scan(ctx context.Context) (map[string]ledger.UserRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer tx.Rollback(ctx)
	users, err := s.loadAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ledger.UserRecord, len(users))
	for id, rec := range users {
		out[id] = *rec
	}
	return out, nil
}

func (s *PostgresStore) loadAll(ctx context.Context, tx pgx.Tx) (map[string]*ledger.UserRecord, error) {
	rows, err := tx.Query(ctx, `SELECT user_id, record FROM ascension.users`)
	if err != nil {
		return nil, unavailable("scan users", err)
	}
	defer rows.Close()

	users := map[string]*ledger.UserRecord{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, unavailable("scan users", err)
		}
		rec, err := decodeRecord(s.defs, raw)
		if err != nil {
			return nil, unavailable("decode user", err)
		}
		users[id] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan users", err)
	}
	return users, nil
}

func (s *PostgresStore) Exclusive(ctx context.Context, fn func(map[string]*ledger.UserRecord, *Meta) error) error {
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return unavailable("begin", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `LOCK TABLE ascension.users IN EXCLUSIVE MODE`); err != nil {
			return unavailable("lock users", err)
		}
		users, err := s.loadAll(ctx, tx)
		if err != nil {
			return err
		}
		meta, err := s.readMeta(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(users, &meta); err != nil {
			return fnError{err}
		}

		batch := &pgx.Batch{}
		for id, rec := range users {
			encoded, err := encodeRecord(*rec)
			if err != nil {
				return unavailable("encode user", err)
			}
			batch.Queue(`
				UPDATE ascension.users
				SET record = $2::jsonb, version = version + 1, updated_at = now()
				WHERE user_id = $1
			`, id, string(encoded))
		}
		batch.Queue(`
			INSERT INTO ascension.meta (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		`, metaNextReset, meta.NextReset.UTC().Format(time.RFC3339))
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return unavailable("write reset", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return unavailable("commit", err)
		}
		return nil
	})
	return unwrapCallback(err)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) readMeta(ctx context.Context, q queryRower) (Meta, error) {
	meta := Meta{SchemaVersion: SchemaVersion}
	var raw string
	err := q.QueryRow(ctx, `SELECT value FROM ascension.meta WHERE key = $1`, metaNextReset).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return meta, nil
	case err != nil:
		return Meta{}, unavailable("read meta", err)
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		meta.NextReset = ts.UTC()
	}
	return meta, nil
}

func (s *PostgresStore) Meta(ctx context.Context) (Meta, error) {
	return s.readMeta(ctx, s.db)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
