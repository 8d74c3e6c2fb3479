package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ascension/internal/ledger"

	"github.com/gofrs/flock"
)

type document struct {
	SchemaVersion int                          `json:"schema_version"`
	NextReset     time.Time                    `json:"next_reset"`
	Users         map[string]ledger.UserRecord `json:"users"`
}

// FileStore keeps every record in one JSON document. mu serialises this
// process; an OS lock on a sibling ".lock" file serialises the processes
// sharing the path. The decoded document is reused until the file on disk is
// replaced.
type FileStore struct {
	path string
	defs *ledger.Definitions
	lock *flock.Flock

	mu   sync.Mutex
	doc  *document
	seen os.FileInfo
}

func OpenFile(path string, defs *ledger.Definitions) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: %w", os.ErrInvalid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, unavailable("create state dir", err)
	}
	s := &FileStore{path: path, defs: defs, lock: flock.New(path + ".lock")}
	if err := s.read(context.Background(), func(*document) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// read runs fn on the current document under a shared lock. The OS lock
// blocks without watching ctx; holders only keep it for one encode and write.
func (s *FileStore) read(ctx context.Context, fn func(*document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return unavailable("lock state", err)
	}
	defer s.lock.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	return fn(s.doc)
}

// write runs fn on the current document under the exclusive lock. fn saves
// whatever it changes.
func (s *FileStore) write(ctx context.Context, fn func(*document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return unavailable("lock state", err)
	}
	defer s.lock.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	return fn(s.doc)
}

// load decodes the file unless the cached document is still the one on disk.
// Every save renames a new file into place, so a changed identity means
// another process wrote.
func (s *FileStore) load() error {
	fi, err := os.Stat(s.path)
	switch {
	case os.IsNotExist(err):
		fi = nil
	case err != nil:
		return unavailable("stat state", err)
	}
	if s.doc != nil && sameFile(s.seen, fi) {
		return nil
	}

	doc := &document{SchemaVersion: SchemaVersion, Users: map[string]ledger.UserRecord{}}
	raw, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return unavailable("read state", err)
	}
	if len(raw) > 0 {
		if err := codec.Unmarshal(raw, doc); err != nil {
			return unavailable("decode state", err)
		}
		if err := checkSchema(doc.SchemaVersion); err != nil {
			return err
		}
		if doc.Users == nil {
			doc.Users = map[string]ledger.UserRecord{}
		}
		for id, rec := range doc.Users {
			s.defs.Normalize(&rec)
			doc.Users[id] = rec
		}
		doc.SchemaVersion = SchemaVersion
	}
	s.doc = doc
	s.seen = fi
	return nil
}

func sameFile(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return os.SameFile(a, b) && a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

// save writes doc next to the target and renames it into place so a crash
// leaves either the old or the new document.
func (s *FileStore) save(doc *document) error {
	raw, err := codec.MarshalIndent(doc, "", "  ")
	if err != nil {
		return unavailable("encode state", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return unavailable("create temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(raw); err != nil {
		cleanup()
		return unavailable("write state", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return unavailable("sync state", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return unavailable("close state", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return unavailable("replace state", err)
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		// the write landed; the next load just decodes it again
		s.seen = nil
		return nil
	}
	s.seen = fi
	return nil
}

func (s *FileStore) Get(ctx context.Context, userID string) (ledger.UserRecord, bool, error) {
	var (
		rec ledger.UserRecord
		ok  bool
	)
	err := s.read(ctx, func(doc *document) error {
		var stored ledger.UserRecord
		stored, ok = doc.Users[userID]
		if ok {
			rec = stored.Clone()
		}
		return nil
	})
	if err != nil {
		return ledger.UserRecord{}, false, err
	}
	return rec, ok, nil
}

func (s *FileStore) Update(ctx context.Context, userID string, fn func(*ledger.UserRecord) error) (ledger.UserRecord, error) {
	var out ledger.UserRecord
	err := s.write(ctx, func(doc *document) error {
		prev, existed := doc.Users[userID]
		rec := s.defs.NewUserRecord(time.Now())
		if existed {
			rec = prev.Clone()
		}
		if err := fn(&rec); err != nil {
			return fnError{err}
		}

		doc.Users[userID] = rec
		if err := s.save(doc); err != nil {
			if existed {
				doc.Users[userID] = prev
			} else {
				delete(doc.Users, userID)
			}
			return err
		}
		out = rec.Clone()
		return nil
	})
	if err != nil {
		return ledger.UserRecord{}, unwrapCallback(err)
	}
	return out, nil
}

func (s *FileStore) Scan(ctx context.Context) (map[string]ledger.UserRecord, error) {
	var out map[string]ledger.UserRecord
	err := s.read(ctx, func(doc *document) error {
		out = make(map[string]ledger.UserRecord, len(doc.Users))
		for id, rec := range doc.Users {
			out[id] = rec.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) Exclusive(ctx context.Context, fn func(map[string]*ledger.UserRecord, *Meta) error) error {
	err := s.write(ctx, func(doc *document) error {
		users := make(map[string]*ledger.UserRecord, len(doc.Users))
		for id, rec := range doc.Users {
			c := rec.Clone()
			users[id] = &c
		}
		meta := Meta{SchemaVersion: doc.SchemaVersion, NextReset: doc.NextReset}
		if err := fn(users, &meta); err != nil {
			return fnError{err}
		}

		next := &document{
			SchemaVersion: SchemaVersion,
			NextReset:     meta.NextReset.UTC(),
			Users:         make(map[string]ledger.UserRecord, len(users)),
		}
		for id, rec := range users {
			next.Users[id] = *rec
		}
		if err := s.save(next); err != nil {
			return err
		}
		s.doc = next
		return nil
	})
	return unwrapCallback(err)
}

func (s *FileStore) Meta(ctx context.Context) (Meta, error) {
	var meta Meta
	err := s.read(ctx, func(doc *document) error {
		meta = Meta{SchemaVersion: doc.SchemaVersion, NextReset: doc.NextReset}
		return nil
	})
	return meta, err
}

func (s *FileStore) Close() error {
	return s.lock.Close()
}
