package license

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Backend persists the complete key to record mapping. Save receives a
// snapshot whose records must be treated as read-only.
type Backend interface {
	Load(ctx context.Context) (map[string]*Record, error)
	Save(ctx context.Context, db map[string]*Record) error
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// Store keeps the license records in memory and writes every mutation
// through to its Backend before it becomes visible.
//
// Lock order is email lock, then key lock, then the save mutex.
type Store struct {
	backend Backend
	d       deps

	// saveMu serializes snapshot-and-write so each save sees all prior commits
	saveMu sync.Mutex

	mu      sync.RWMutex
	records map[string]*Record
	byEmail map[string]string

	locks *keyedMutex
}

// NewStore loads the backend contents and returns a ready store
func NewStore(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		d:       buildDeps("license_store", opts),
		locks:   newKeyedMutex(),
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory state with the backend contents and
// rebuilds the email index.
func (s *Store) Reload(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	db, err := s.backend.Load(ctx)
	if err != nil {
		s.d.metrics.RecordStorageFailure(ctx, "load")
		return &StorageError{Op: "load", Err: err}
	}

	records := make(map[string]*Record, len(db))
	for key, rec := range db {
		if rec == nil {
			continue
		}
		c := rec.Clone()
		if c.Key == "" {
			c.Key = key
		}
		c.Email = NormalizeEmail(c.Email)
		records[c.Key] = c
	}

	s.mu.Lock()
	s.records = records
	s.byEmail = indexByEmail(records)
	s.mu.Unlock()

	logAction(ctx, s.d.logger, slog.LevelInfo, "load", "License store loaded",
		slog.String("backend", s.backend.Name()),
		slog.Int("records", len(records)))

	return nil
}

// indexByEmail maps each email to its earliest record
func indexByEmail(records map[string]*Record) map[string]string {
	idx := make(map[string]string, len(records))
	for _, rec := range sortRecords(slices.Collect(maps.Values(records))) {
		if _, ok := idx[rec.Email]; !ok {
			idx[rec.Email] = rec.Key
		}
	}
	return idx
}

// sortRecords orders records by creation time, then key
func sortRecords(recs []*Record) []*Record {
	slices.SortFunc(recs, func(a, b *Record) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return recs
}

// Get returns a copy of the record for key
func (s *Store) Get(key string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec.Clone(), ok
}

// FindByEmail returns a copy of the record indexed under the normalized email
func (s *Store) FindByEmail(email string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, false
	}
	return s.records[key].Clone(), true
}

// Snapshot returns deep copies of all records in insertion order
func (s *Store) Snapshot() []*Record {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()
	return sortRecords(out)
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// BackendName names the configured backend
func (s *Store) BackendName() string {
	return s.backend.Name()
}

// Ping checks that the backend is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) lockEmail(email string) func() {
	return s.locks.Lock("email:" + NormalizeEmail(email))
}

// insert persists a new record. The caller holds the email lock.
func (s *Store) insert(ctx context.Context, rec *Record) error {
	s.mu.RLock()
	_, keyTaken := s.records[rec.Key]
	s.mu.RUnlock()
	if keyTaken {
		return fmt.Errorf("license key %s already exists", MaskKey(rec.Key))
	}
	return s.persist(ctx, rec.Clone())
}

// update runs fn on a copy of the record under the key lock. When fn reports
// a change the copy is persisted and then committed. The returned record is
// the post-fn copy, whether or not it changed.
func (s *Store) update(ctx context.Context, key string, fn func(rec *Record) (bool, error)) (*Record, bool, error) {
	unlock := s.locks.Lock("key:" + key)
	defer unlock()

	cur, ok := s.Get(key)
	if !ok {
		return nil, false, ErrNotFound
	}

	changed, err := fn(cur)
	if err != nil {
		return cur, false, err
	}
	if !changed {
		return cur, false, nil
	}

	if err := s.persist(ctx, cur.Clone()); err != nil {
		return nil, false, err
	}
	return cur, true, nil
}

// persist writes a snapshot containing rec and commits it to memory only
// after the backend accepted it.
func (s *Store) persist(ctx context.Context, rec *Record) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	next := maps.Clone(s.records)
	s.mu.RUnlock()
	next[rec.Key] = rec

	if err := s.backend.Save(ctx, next); err != nil {
		s.d.metrics.RecordStorageFailure(ctx, "save")
		logLicenseAction(ctx, s.d.logger, slog.LevelError, "save", "License store save failed",
			rec.Key, rec.Email, slog.String("error", err.Error()))
		var se *StorageError
		if errors.As(err, &se) {
			return se
		}
		return &StorageError{Op: "save", Err: err}
	}

	s.mu.Lock()
	s.records = next
	if _, ok := s.byEmail[rec.Email]; !ok {
		s.byEmail[rec.Email] = rec.Key
	}
	s.mu.Unlock()

	return nil
}
