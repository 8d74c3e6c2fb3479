package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ascension/internal/ledger"
)

type opener func(t *testing.T, dir string) Store

func backends() map[string]opener {
	return map[string]opener{
		BackendFile: func(t *testing.T, dir string) Store {
			s, err := OpenFile(filepath.Join(dir, "state.json"), ledger.DefaultDefinitions())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return s
		},
		BackendSQLite: func(t *testing.T, dir string) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(dir, "state.db"), ledger.DefaultDefinitions())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return s
		},
	}
}

func TestUpdateCreatesAndPersists(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		dir := t.TempDir()
		s := open(t, dir)

		if _, ok, err := s.Get(ctx, "u1"); err != nil || ok {
			t.Fatalf("%s: get before create ok=%v err=%v", name, ok, err)
		}
		rec, err := s.Update(ctx, "u1", func(r *ledger.UserRecord) error {
			r.XP = 42
			r.Badges = append(r.Badges, "Initiate")
			return nil
		})
		if err != nil {
			t.Fatalf("%s: update: %v", name, err)
		}
		if rec.XP != 42 || rec.Rank != "Initiate" {
			t.Fatalf("%s: returned record %+v", name, rec)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("%s: close: %v", name, err)
		}

		reopened := open(t, dir)
		got, ok, err := reopened.Get(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("%s: get after reopen ok=%v err=%v", name, ok, err)
		}
		if got.XP != 42 || !got.HasBadge("Initiate") {
			t.Fatalf("%s: persisted record %+v", name, got)
		}
		if len(got.Challenges.Daily) == 0 {
			t.Fatalf("%s: challenge maps not restored", name)
		}
		_ = reopened.Close()
	}
}

func TestUpdateCallbackErrorPersistsNothing(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, open := range backends() {
		s := open(t, t.TempDir())
		_, err := s.Update(ctx, "u1", func(r *ledger.UserRecord) error {
			r.XP = 999
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("%s: got %v want callback error", name, err)
		}
		if errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("%s: callback error reported as store failure", name)
		}
		if _, ok, _ := s.Get(ctx, "u1"); ok {
			t.Fatalf("%s: record created despite callback error", name)
		}
		_ = s.Close()
	}
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	ctx := context.Background()
	const writers = 8
	const perWriter = 25
	for name, open := range backends() {
		s := open(t, t.TempDir())
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					if _, err := s.Update(ctx, "shared", func(r *ledger.UserRecord) error {
						r.XP++
						return nil
					}); err != nil {
						errs <- err
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("%s: update: %v", name, err)
		}
		rec, _, err := s.Get(ctx, "shared")
		if err != nil {
			t.Fatalf("%s: get: %v", name, err)
		}
		if rec.XP != writers*perWriter {
			t.Fatalf("%s: xp=%d want %d", name, rec.XP, writers*perWriter)
		}
		_ = s.Close()
	}
}

func TestExclusiveWritesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	next := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for name, open := range backends() {
		s := open(t, t.TempDir())
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("u%d", i)
			if _, err := s.Update(ctx, id, func(r *ledger.UserRecord) error {
				r.Weekly.XP = 100
				return nil
			}); err != nil {
				t.Fatalf("%s: seed: %v", name, err)
			}
		}

		abort := errors.New("abort")
		err := s.Exclusive(ctx, func(users map[string]*ledger.UserRecord, meta *Meta) error {
			for _, rec := range users {
				rec.Weekly.XP = 0
			}
			meta.NextReset = next
			return abort
		})
		if !errors.Is(err, abort) {
			t.Fatalf("%s: got %v want abort", name, err)
		}
		users, err := s.Scan(ctx)
		if err != nil {
			t.Fatalf("%s: scan: %v", name, err)
		}
		for id, rec := range users {
			if rec.Weekly.XP != 100 {
				t.Fatalf("%s: %s modified by aborted section", name, id)
			}
		}

		err = s.Exclusive(ctx, func(users map[string]*ledger.UserRecord, meta *Meta) error {
			if len(users) != 3 {
				return fmt.Errorf("saw %d users", len(users))
			}
			for _, rec := range users {
				rec.Weekly.XP = 0
			}
			meta.NextReset = next
			return nil
		})
		if err != nil {
			t.Fatalf("%s: exclusive: %v", name, err)
		}
		users, _ = s.Scan(ctx)
		for id, rec := range users {
			if rec.Weekly.XP != 0 {
				t.Fatalf("%s: %s not reset", name, id)
			}
		}
		meta, err := s.Meta(ctx)
		if err != nil {
			t.Fatalf("%s: meta: %v", name, err)
		}
		if !meta.NextReset.Equal(next) || meta.SchemaVersion != SchemaVersion {
			t.Fatalf("%s: meta=%+v", name, meta)
		}
		_ = s.Close()
	}
}

func TestScanReturnsCopies(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		s := open(t, t.TempDir())
		if _, err := s.Update(ctx, "u1", func(r *ledger.UserRecord) error {
			r.Badges = append(r.Badges, "Keeper")
			return nil
		}); err != nil {
			t.Fatalf("%s: update: %v", name, err)
		}
		users, _ := s.Scan(ctx)
		snap := users["u1"]
		snap.Badges[0] = "Tampered"
		again, _, _ := s.Get(ctx, "u1")
		if again.Badges[0] != "Keeper" {
			t.Fatalf("%s: scan snapshot aliases store state", name)
		}
		_ = s.Close()
	}
}

func TestFileStoreRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"schema_version": 9, "users": {}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenFile(path, ledger.DefaultDefinitions()); !errors.Is(err, ErrUnsupportedSchema) {
		t.Fatalf("got %v want ErrUnsupportedSchema", err)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenFile(path, ledger.DefaultDefinitions()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("got %v want ErrStoreUnavailable", err)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFile(filepath.Join(dir, "state.json"), ledger.DefaultDefinitions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Update(context.Background(), "u1", func(r *ledger.UserRecord) error {
			r.XP += 10
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreSharedBetweenOpeners(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	api, err := OpenFile(path, ledger.DefaultDefinitions())
	if err != nil {
		t.Fatalf("open api: %v", err)
	}
	defer api.Close()
	worker, err := OpenFile(path, ledger.DefaultDefinitions())
	if err != nil {
		t.Fatalf("open worker: %v", err)
	}
	defer worker.Close()

	if _, err := api.Update(ctx, "u1", func(r *ledger.UserRecord) error {
		r.XP = 500
		r.Weekly.XP = 500
		return nil
	}); err != nil {
		t.Fatalf("api update: %v", err)
	}

	next := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	err = worker.Exclusive(ctx, func(users map[string]*ledger.UserRecord, meta *Meta) error {
		rec, ok := users["u1"]
		if !ok {
			return fmt.Errorf("worker saw %d users", len(users))
		}
		rec.Weekly.XP = 0
		meta.NextReset = next
		return nil
	})
	if err != nil {
		t.Fatalf("worker exclusive: %v", err)
	}

	got, ok, err := api.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("api get ok=%v err=%v", ok, err)
	}
	if got.XP != 500 || got.Weekly.XP != 0 {
		t.Fatalf("api sees %+v", got)
	}
	if meta, _ := api.Meta(ctx); !meta.NextReset.Equal(next) {
		t.Fatalf("api meta=%+v", meta)
	}

	if _, err := worker.Update(ctx, "u2", func(r *ledger.UserRecord) error {
		r.XP = 7
		return nil
	}); err != nil {
		t.Fatalf("worker update: %v", err)
	}
	if _, err := api.Update(ctx, "u1", func(r *ledger.UserRecord) error {
		r.XP++
		return nil
	}); err != nil {
		t.Fatalf("api update: %v", err)
	}
	users, err := worker.Scan(ctx)
	if err != nil {
		t.Fatalf("worker scan: %v", err)
	}
	if len(users) != 2 || users["u1"].XP != 501 || users["u2"].XP != 7 {
		t.Fatalf("after interleaved writes: %+v", users)
	}
}

// raceReset toggles the weekly XP of every seeded user inside Exclusive while
// other goroutines write unrelated users and scan. No scan may see a mix of
// toggled and untoggled users, and no concurrent write may be lost.
func raceReset(t *testing.T, name string, resetter, other Store) {
	t.Helper()
	ctx := context.Background()
	const seeded = 12
	for i := 0; i < seeded; i++ {
		if _, err := resetter.Update(ctx, fmt.Sprintf("s%02d", i), func(r *ledger.UserRecord) error {
			r.Weekly.XP = 100
			return nil
		}); err != nil {
			t.Fatalf("%s: seed: %v", name, err)
		}
	}

	stop := make(chan struct{})
	errs := make(chan error, 16)
	var wg sync.WaitGroup
	writes := make([]int64, 2)
	for w := range writes {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("w%d", w)
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := other.Update(ctx, id, func(r *ledger.UserRecord) error {
					r.XP++
					return nil
				}); err != nil {
					errs <- err
					return
				}
				writes[w]++
				time.Sleep(time.Millisecond)
			}
		}(w)
	}
	for o := 0; o < 2; o++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				users, err := other.Scan(ctx)
				if err != nil {
					errs <- err
					return
				}
				full := 0
				for i := 0; i < seeded; i++ {
					if users[fmt.Sprintf("s%02d", i)].Weekly.XP == 100 {
						full++
					}
				}
				if full != 0 && full != seeded {
					errs <- fmt.Errorf("observed %d of %d users reset", seeded-full, seeded)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}

	for round := 0; round < 6; round++ {
		err := resetter.Exclusive(ctx, func(users map[string]*ledger.UserRecord, _ *Meta) error {
			for i := 0; i < seeded; i++ {
				rec := users[fmt.Sprintf("s%02d", i)]
				if rec.Weekly.XP == 100 {
					rec.Weekly.XP = 0
				} else {
					rec.Weekly.XP = 100
				}
			}
			return nil
		})
		if err != nil {
			close(stop)
			wg.Wait()
			t.Fatalf("%s: exclusive round %d: %v", name, round, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("%s: %v", name, err)
	}

	users, err := resetter.Scan(ctx)
	if err != nil {
		t.Fatalf("%s: scan: %v", name, err)
	}
	for w, n := range writes {
		if got := users[fmt.Sprintf("w%d", w)].XP; got != n {
			t.Fatalf("%s: w%d xp=%d want %d", name, w, got, n)
		}
	}
}

func TestExclusiveIsAtomicUnderLoad(t *testing.T) {
	for name, open := range backends() {
		s := open(t, t.TempDir())
		raceReset(t, name, s, s)
		_ = s.Close()
	}
}

func TestFileExclusiveIsAtomicAcrossOpeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	worker, err := OpenFile(path, ledger.DefaultDefinitions())
	if err != nil {
		t.Fatalf("open worker: %v", err)
	}
	defer worker.Close()
	api, err := OpenFile(path, ledger.DefaultDefinitions())
	if err != nil {
		t.Fatalf("open api: %v", err)
	}
	defer api.Close()
	raceReset(t, BackendFile, worker, api)
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return errConflict
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("got %v want ErrConcurrentModification", err)
	}
	if calls != maxAttempts {
		t.Fatalf("calls=%d want %d", calls, maxAttempts)
	}

	calls = 0
	err = withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "redis"}, ledger.DefaultDefinitions()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestSleepWithContext(t *testing.T) {
	done, cancel := context.WithCancel(context.Background())
	cancel()
	for _, d := range []time.Duration{0, -time.Second} {
		if err := sleepWithContext(done, d); err != nil {
			t.Fatalf("sleep(%v) on a cancelled context: %v", d, err)
		}
	}
	if err := sleepWithContext(done, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	if err := sleepWithContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("short sleep: %v", err)
	}
}
