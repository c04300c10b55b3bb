package authclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// KeyPrefix namespaces every key written by the storages of this package.
const KeyPrefix = "wf_hybrid_"

var ErrNoItem = errors.New("no such item")

// Storage persists client state across restarts. Get returns ErrNoItem for
// absent or expired keys. A zero ttl never expires.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string, ttl time.Duration) error
	Remove(key string) error
}

// envelope is the on-disk form of a stored value. Times are unix
// milliseconds.
type envelope struct {
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
	Expiry    *int64 `json:"expiry,omitempty"`
}

func newEnvelope(value string, ttl time.Duration, now time.Time) envelope {
	e := envelope{Value: value, Timestamp: now.UnixMilli()}
	if ttl > 0 {
		expiry := now.Add(ttl).UnixMilli()
		e.Expiry = &expiry
	}

	return e
}

func (e envelope) expired(now time.Time) bool {
	return e.Expiry != nil && now.UnixMilli() > *e.Expiry
}

// MemoryStorage keeps values for the lifetime of the process.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string]envelope
	now   func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]envelope), now: time.Now}
}

func (s *MemoryStorage) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[KeyPrefix+key]
	if !ok {
		return "", ErrNoItem
	}

	if e.expired(s.now()) {
		delete(s.items, KeyPrefix+key)
		return "", ErrNoItem
	}

	return e.Value, nil
}

func (s *MemoryStorage) Set(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[KeyPrefix+key] = newEnvelope(value, ttl, s.now())

	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, KeyPrefix+key)

	return nil
}

// FileStorage keeps all values in a single JSON document. Keys from other
// writers sharing the file are left untouched.
type FileStorage struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path, now: time.Now}
}

func (s *FileStorage) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return "", err
	}

	e, ok := items[KeyPrefix+key]
	if !ok {
		return "", ErrNoItem
	}

	if e.expired(s.now()) {
		delete(items, KeyPrefix+key)
		if err := s.save(items); err != nil {
			return "", err
		}

		return "", ErrNoItem
	}

	return e.Value, nil
}

func (s *FileStorage) Set(key, value string, ttl time.Duration) error {
	return s.update(func(items map[string]envelope) {
		items[KeyPrefix+key] = newEnvelope(value, ttl, s.now())
	})
}

func (s *FileStorage) Remove(key string) error {
	return s.update(func(items map[string]envelope) {
		delete(items, KeyPrefix+key)
	})
}

// Clear removes every prefixed key.
func (s *FileStorage) Clear() error {
	return s.update(func(items map[string]envelope) {
		for k := range items {
			if strings.HasPrefix(k, KeyPrefix) {
				delete(items, k)
			}
		}
	})
}

// Keys lists the stored keys without their prefix.
func (s *FileStorage) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		if strings.HasPrefix(k, KeyPrefix) {
			keys = append(keys, strings.TrimPrefix(k, KeyPrefix))
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (s *FileStorage) update(fn func(map[string]envelope)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}

	fn(items)

	return s.save(items)
}

func (s *FileStorage) load() (map[string]envelope, error) {
	items := make(map[string]envelope)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading storage file: %w", err)
	}

	if len(data) == 0 {
		return items, nil
	}

	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding storage file: %w", err)
	}

	return items, nil
}

// save replaces the file atomically.
func (s *FileStorage) save(items map[string]envelope) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding storage file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary storage file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing storage file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing storage file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing storage file: %w", err)
	}

	return nil
}
