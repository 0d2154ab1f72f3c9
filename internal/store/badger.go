package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
)

const passageKeyPrefix = "p/"

// scanCheckInterval is how many items Scan visits between context checks.
const scanCheckInterval = 64

// ErrStopScan ends a Scan early without error.
var ErrStopScan = errors.New("stop scan")

// ErrNotFound is returned when a passage does not exist.
var ErrNotFound = errors.New("passage not found")

// PassageKV stores passages as JSON values in Badger, keyed by ID.
type PassageKV struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts slog to badger.Logger. Badger's info chatter is
// demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenPassageKV opens the Badger directory at path, creating it if needed.
// An empty path opens an in-memory database.
func OpenPassageKV(path string) (*PassageKV, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		opts = badger.DefaultOptions(path)
	}

	logger := slog.Default().With(slog.String("component", "badger"))
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, rerrors.StorageError(fmt.Sprintf("failed to open passage store: %v", err), err).
			WithDetail("path", path)
	}
	return &PassageKV{db: db, logger: logger}, nil
}

func passageKey(id string) []byte {
	return []byte(passageKeyPrefix + id)
}

// Put writes passages, replacing any with the same ID.
func (s *PassageKV) Put(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}
	if s.db.IsClosed() {
		return ErrClosed
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, p := range passages {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode passage %s: %w", p.ID, err)
		}
		if err := wb.Set(passageKey(p.ID), data); err != nil {
			return fmt.Errorf("failed to write passage %s: %w", p.ID, err)
		}
	}
	return wb.Flush()
}

// Get returns a single passage or ErrNotFound.
func (s *PassageKV) Get(ctx context.Context, id string) (*Passage, error) {
	if s.db.IsClosed() {
		return nil, ErrClosed
	}

	var p Passage
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(passageKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read passage %s: %w", id, err)
	}
	return &p, nil
}

// Scan visits every passage in key order. fn may return ErrStopScan to end
// early. The context is checked every scanCheckInterval items.
func (s *PassageKV) Scan(ctx context.Context, fn func(*Passage) error) error {
	if s.db.IsClosed() {
		return ErrClosed
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(passageKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if n%scanCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++

			var p Passage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				s.logger.Warn("skipping undecodable passage",
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()))
				continue
			}
			if err := fn(&p); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrStopScan) {
		return nil
	}
	return err
}

// Delete removes passages by ID.
func (s *PassageKV) Delete(ctx context.Context, ids []string) error {
	if s.db.IsClosed() {
		return ErrClosed
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := wb.Delete(passageKey(id)); err != nil {
			return fmt.Errorf("failed to delete passage %s: %w", id, err)
		}
	}
	return wb.Flush()
}

// Count returns the number of stored passages using a key-only iteration.
func (s *PassageKV) Count(ctx context.Context) (int, error) {
	if s.db.IsClosed() {
		return 0, ErrClosed
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(passageKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (s *PassageKV) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}
