package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ascension/internal/db"
	"ascension/internal/ledger"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgconn"
)

const SchemaVersion = 1

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var (
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrUnsupportedSchema      = errors.New("unsupported schema version")

	errConflict = errors.New("write conflict")
)

// Store persists user records. Update is the only per-user read-modify-write
// path; Exclusive is the store-wide section no Update can interleave with.
// Callbacks may run more than once when a write conflicts, so they must only
// touch the values they are handed.
type Store interface {
	Get(ctx context.Context, userID string) (ledger.UserRecord, bool, error)
	Update(ctx context.Context, userID string, fn func(*ledger.UserRecord) error) (ledger.UserRecord, error)
	Scan(ctx context.Context) (map[string]ledger.UserRecord, error)
	Exclusive(ctx context.Context, fn func(users map[string]*ledger.UserRecord, meta *Meta) error) error
	Meta(ctx context.Context) (Meta, error)
	Close() error
}

type Meta struct {
	SchemaVersion int       `json:"schema_version"`
	NextReset     time.Time `json:"next_reset"`
}

type Options struct {
	Backend     string
	Path        string
	DatabaseURL string
}

func Open(ctx context.Context, opts Options, defs *ledger.Definitions) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return OpenFile(opts.Path, defs)
	case BackendSQLite:
		return OpenSQLite(ctx, opts.Path, defs)
	case BackendPostgres:
		pool, err := db.Connect(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, unavailable("connect", err)
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, unavailable("bootstrap schema", err)
		}
		return NewPostgres(ctx, pool, defs)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

var codec = sonic.ConfigDefault

func encodeRecord(rec ledger.UserRecord) ([]byte, error) {
	return codec.Marshal(rec)
}

func decodeRecord(defs *ledger.Definitions, raw []byte) (ledger.UserRecord, error) {
	var rec ledger.UserRecord
	if err := codec.Unmarshal(raw, &rec); err != nil {
		return ledger.UserRecord{}, err
	}
	defs.Normalize(&rec)
	return rec, nil
}

func checkSchema(version int) error {
	if version > SchemaVersion {
		return fmt.Errorf("%w: found %d, supported %d", ErrUnsupportedSchema, version, SchemaVersion)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

const (
	maxAttempts = 5
	retryStep   = 25 * time.Millisecond
)

// withRetry reruns op on write conflicts with linear backoff.
func withRetry(ctx context.Context, op func() error) error {
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !isConflict(err) {
			return err
		}
		if attempt == maxAttempts {
			return fmt.Errorf("%w: gave up after %d attempts", ErrConcurrentModification, attempt)
		}
		if err := sleepWithContext(ctx, time.Duration(attempt)*retryStep); err != nil {
			return err
		}
	}
}

func isConflict(err error) bool {
	return errors.Is(err, errConflict) || isSerializationError(err)
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fnError marks errors returned by caller callbacks so backends pass them
// through untouched instead of reporting the store as unavailable.
type fnError struct{ err error }

func (e fnError) Error() string { return e.err.Error() }
func (e fnError) Unwrap() error { return e.err }

func unwrapCallback(err error) error {
	var fe fnError
	if errors.As(err, &fe) {
		return fe.err
	}
	return err
}
