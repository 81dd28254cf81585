// Package cache stores compiled units in a SQLite database keyed by
// source hash, so unchanged scripts skip compilation on the next run.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/perlite-lang/perlite/vm"
	"github.com/perlite-lang/perlite/vm/wire"
)

// ErrMiss indicates the requested unit is not in the cache.
var ErrMiss = errors.New("unit not cached")

var log = commonlog.GetLogger("perlite.cache")

// Cache is a SQLite-backed store of serialized units.
type Cache struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens (creating if needed) a unit cache at the given path.
func Open(dbPath string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS units (
		key TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating units table: %w", err)
	}

	return &Cache{db: db, dbPath: dbPath}, nil
}

// OpenDefault opens the cache at $PERLITE_CACHE, falling back to
// ~/.perlite/units.db.
func OpenDefault() (*Cache, error) {
	dbPath := os.Getenv("PERLITE_CACHE")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home dir: %w", err)
		}
		dbPath = filepath.Join(home, ".perlite", "units.db")
	}
	return Open(dbPath)
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put serializes a unit and stores it under the given key, replacing any
// previous entry.
func (c *Cache) Put(key string, u *vm.Unit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := wire.Marshal(u)
	if err != nil {
		return fmt.Errorf("serializing unit %s: %w", u.Name, err)
	}
	hash, err := wire.ContentHash(u)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO units (key, hash, data, created_at) VALUES (?, ?, ?, ?)",
		key, hash, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing unit %s: %w", u.Name, err)
	}

	log.Debugf("cached unit %s under %s", u.Name, key)
	return nil
}

// Get loads and deserializes the unit stored under key. Returns ErrMiss
// when no entry exists.
func (c *Cache) Get(key string) (*vm.Unit, error) {
	var data []byte
	err := c.db.QueryRow("SELECT data FROM units WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying unit: %w", err)
	}

	u, err := wire.Unmarshal(data)
	if err != nil {
		// A corrupt entry is dropped rather than returned.
		log.Errorf("dropping corrupt cache entry %s: %v", key, err)
		c.Delete(key)
		return nil, ErrMiss
	}

	log.Debugf("cache hit for %s: unit %s", key, u.Name)
	return u, nil
}

// Delete removes the entry stored under key, if any.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM units WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}
	return nil
}

// Prune removes entries older than the given age and returns how many
// were dropped.
func (c *Cache) Prune(maxAge time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := c.db.Exec("DELETE FROM units WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning units: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Len returns the number of cached units.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM units").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting units: %w", err)
	}
	return n, nil
}
