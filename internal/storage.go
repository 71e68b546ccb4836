package internal

import (
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Entry is a stored counter value together with the time it was last written
type Entry struct {
	Value     string
	UpdatedAt time.Time
}

// CounterStore is the durable key/value store behind Accounting
type CounterStore interface {
	// Get returns the entry for key; ok is false when the key was never written
	Get(key string) (entry Entry, ok bool, err error)
	// Set writes value and stamps the key with at
	Set(key, value string, at time.Time) error
	Close() error
}

// SQLiteStore keeps counters in the sqlite "counters" table
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already opened database (see OpenDB)
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(key string) (Entry, bool, error) {
	var value sql.NullString
	var updatedAt int64

	err := s.db.QueryRow(
		"SELECT value, updated_at FROM counters WHERE key = ?",
		key,
	).Scan(&value, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	return Entry{Value: value.String, UpdatedAt: time.UnixMicro(updatedAt)}, true, nil
}

func (s *SQLiteStore) Set(key, value string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO counters (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, at.UnixMicro())
	return err
}

// Close is a no-op: the database is shared with the operator accounts and
// closed by its owner.
func (s *SQLiteStore) Close() error {
	return nil
}

// MemoryStore is the in-process fallback used when the database cannot be opened
type MemoryStore struct {
	mu   sync.RWMutex
	vals map[string]Entry
}

// NewMemoryStore creates an empty in-memory counter store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vals: make(map[string]Entry)}
}

func (s *MemoryStore) Get(key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vals[key]
	return e, ok, nil
}

func (s *MemoryStore) Set(key, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = Entry{Value: value, UpdatedAt: at}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// OpenCounterStore selects the backing store at startup: the sqlite store when
// the database opened, otherwise the in-memory fallback.
func OpenCounterStore(db *sql.DB, openErr error) CounterStore {
	if openErr != nil || db == nil {
		slog.Error("Error while initializing database storage, using in-memory counters", "error", openErr)
		return NewMemoryStore()
	}
	return NewSQLiteStore(db)
}
