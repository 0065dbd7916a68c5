package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"examshield/internal/license"
)

const (
	backupDirName    = "backups"
	backupTimeLayout = "20060102_150405"
	lockRetryDelay   = 50 * time.Millisecond
)

// FileBackend stores every license in a single JSON file
type FileBackend struct {
	path        string
	backupDir   string
	stem        string
	retention   int
	lockTimeout time.Duration
	lock        *flock.Flock
	clock       quartz.Clock
	logger      *slog.Logger
}

// FileOption configures a FileBackend
type FileOption func(*FileBackend)

// WithFileClock sets the clock used to name backups
func WithFileClock(clock quartz.Clock) FileOption {
	return func(b *FileBackend) {
		b.clock = clock
	}
}

// WithFileLogger sets the backend logger
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(b *FileBackend) {
		b.logger = logger
	}
}

// WithBackupRetention keeps at most n backups. Zero keeps every backup.
func WithBackupRetention(n int) FileOption {
	return func(b *FileBackend) {
		b.retention = n
	}
}

// WithLockTimeout bounds how long NewFileBackend waits for the data
// directory lock
func WithLockTimeout(d time.Duration) FileOption {
	return func(b *FileBackend) {
		b.lockTimeout = d
	}
}

// ErrStoreLocked is returned when another process owns the store file
var ErrStoreLocked = errors.New("store file is locked by another process")

var errBackendClosed = errors.New("file backend is closed")

// NewFileBackend creates the data and backup directories for path and takes
// the exclusive lock on the store file. The lock is held until Close, so a
// second server on the same data directory fails here.
func NewFileBackend(path string, opts ...FileOption) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	b := &FileBackend{
		path:        path,
		backupDir:   filepath.Join(dir, backupDirName),
		stem:        strings.TrimSuffix(base, filepath.Ext(base)),
		retention:   50,
		lockTimeout: 5 * time.Second,
		lock:        flock.New(path + ".lock"),
		clock:       quartz.NewReal(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("component", "file_store"))

	if err := os.MkdirAll(b.backupDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := b.acquire(); err != nil {
		return nil, err
	}
	return b, nil
}

// Name implements license.Backend
func (b *FileBackend) Name() string { return "file" }

// Path returns the store file location
func (b *FileBackend) Path() string { return b.path }

// Load reads the store file. A missing file is an empty store.
func (b *FileBackend) Load(ctx context.Context) (map[string]*license.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		b.logger.InfoContext(ctx, "store file not found, starting empty", slog.String("path", b.path))
		return map[string]*license.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	db := map[string]*license.Record{}
	if len(bytes.TrimSpace(data)) == 0 {
		return db, nil
	}
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("decode store file %s: %w", b.path, err)
	}
	for key, rec := range db {
		if rec == nil {
			delete(db, key)
			continue
		}
		if rec.Key == "" {
			rec.Key = key
		}
	}
	return db, nil
}

// Save backs up the current file and atomically replaces it with db.
// An error leaves the previous file in place.
func (b *FileBackend) Save(ctx context.Context, db map[string]*license.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.lock.Locked() {
		return errBackendClosed
	}

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	data = append(data, '\n')

	if err := b.backup(ctx); err != nil {
		return err
	}
	if err := atomic.WriteFile(b.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	b.prune(ctx)

	b.logger.DebugContext(ctx, "store saved",
		slog.Int("records", len(db)),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Ping checks that the store file, if present, is readable
func (b *FileBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(b.path)
	if errors.Is(err, os.ErrNotExist) {
		_, err = os.Stat(filepath.Dir(b.path))
		return err
	}
	if err != nil {
		return err
	}
	return f.Close()
}

// Close releases the store lock
func (b *FileBackend) Close() error {
	return b.lock.Close()
}

func (b *FileBackend) acquire() error {
	var (
		ok  bool
		err error
	)
	if b.lockTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), b.lockTimeout)
		defer cancel()
		ok, err = b.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = b.lock.TryLock()
	}
	if ok {
		return nil
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrStoreLocked, b.lock.Path())
	}
	return fmt.Errorf("could not acquire flock for %s: %w", b.lock.Path(), err)
}

// backup copies the current store file into the backup directory
func (b *FileBackend) backup(ctx context.Context) error {
	current, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store file for backup: %w", err)
	}

	name, err := b.nextBackupName()
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(name, bytes.NewReader(current)); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	b.logger.DebugContext(ctx, "store backup written", slog.String("backup", filepath.Base(name)))
	return nil
}

func (b *FileBackend) nextBackupName() (string, error) {
	ts := b.clock.Now().UTC().Format(backupTimeLayout)
	for seq := 0; seq < 1000; seq++ {
		name := b.stem + "_" + ts
		if seq > 0 {
			name += "." + strconv.Itoa(seq)
		}
		path := filepath.Join(b.backupDir, name+".json")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
	}
	return "", fmt.Errorf("too many backups for timestamp %s", ts)
}

// Backups lists the backup files oldest first
func (b *FileBackend) Backups() ([]string, error) {
	entries, err := os.ReadDir(b.backupDir)
	if err != nil {
		return nil, err
	}

	type backup struct {
		name string
		ts   string
		seq  int
	}
	var found []backup
	prefix := b.stem + "_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		ts, seqStr, _ := strings.Cut(rest, ".")
		seq := 0
		if seqStr != "" {
			n, err := strconv.Atoi(seqStr)
			if err != nil {
				continue
			}
			seq = n
		}
		found = append(found, backup{name: name, ts: ts, seq: seq})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].ts != found[j].ts {
			return found[i].ts < found[j].ts
		}
		return found[i].seq < found[j].seq
	})

	out := make([]string, len(found))
	for i, f := range found {
		out[i] = filepath.Join(b.backupDir, f.name)
	}
	return out, nil
}

// prune removes the oldest backups beyond the retention count. Zero
// retention keeps them all.
func (b *FileBackend) prune(ctx context.Context) {
	if b.retention <= 0 {
		return
	}
	backups, err := b.Backups()
	if err != nil {
		b.logger.WarnContext(ctx, "failed to list backups", slog.String("error", err.Error()))
		return
	}
	for len(backups) > b.retention {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.logger.WarnContext(ctx, "failed to prune backup",
				slog.String("backup", filepath.Base(backups[0])),
				slog.String("error", err.Error()),
			)
		}
		backups = backups[1:]
	}
}
