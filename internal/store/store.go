package store

import (
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is an append-only log of encoded gossip events. Replay yields
// records in append order, which for a gossip graph log means parents
// always precede children.
type Store interface {
	// Append adds one encoded event to the log.
	Append(data []byte) error
	// Replay calls fn for every record in append order.
	Replay(fn func(data []byte) error) error
	// Close releases the underlying resources.
	Close() error
}

const eventPrefix = "event/"

// BadgerStore persists the event log in a Badger database.
type BadgerStore struct {
	mu   sync.Mutex
	db   *badger.DB
	next uint64
}

// OpenBadger opens (or creates) an event log under dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	s := &BadgerStore{db: db}
	if err := s.loadNext(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// loadNext finds the next append position by counting existing records.
func (s *BadgerStore) loadNext() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var n uint64
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		s.next = n
		return nil
	})
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", eventPrefix, seq))
}

// Append adds one encoded event to the log.
func (s *BadgerStore) Append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(s.next), data)
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	s.next++
	return nil
}

// Replay calls fn for every record in append order.
func (s *BadgerStore) Replay(fn func(data []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				return fn(val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// MemoryStore keeps the event log in memory. Used in tests and when no
// data directory is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records [][]byte
}

// NewMemory creates an empty in-memory event log.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Append adds one encoded event to the log.
func (s *MemoryStore) Append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, append([]byte(nil), data...))
	return nil
}

// Replay calls fn for every record in append order.
func (s *MemoryStore) Replay(fn func(data []byte) error) error {
	s.mu.Lock()
	records := make([][]byte, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
