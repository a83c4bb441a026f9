package cachestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultDir = "./data/cache"

// Well-known cache keys.
const (
	KeyCoinList          = "cryptoData"
	KeyIndicatorSettings = "chart-indicator-settings"
)

// HistoryKey is the cache key of a coin's price history.
func HistoryKey(coinID string) string {
	return "historical-data-" + coinID
}

// DetailKey is the cache key of a coin's detail snapshot.
func DetailKey(coinID string) string {
	return "crypto-detail-" + coinID
}

// Store persists JSON documents, one file per key, so restarts keep the last
// good market data. Write failures never reach callers.
type Store struct {
	dir    string
	logger *zap.Logger
	mu     sync.RWMutex
}

// New creates the cache directory and returns a store rooted at it.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create cache dir")
	}

	return &Store{dir: dir, logger: logger.With(zap.String("component", "cachestore"))}, nil
}

// Read decodes the document stored under key into dst. It reports false
// when the key is absent or the document cannot be decoded.
func (s *Store) Read(key string, dst any) bool {
	if s == nil {
		return false
	}

	s.mu.RLock()
	payload, err := os.ReadFile(s.path(key))
	s.mu.RUnlock()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if len(payload) == 0 {
		return false
	}

	if err := json.Unmarshal(payload, dst); err != nil {
		s.logger.Warn("cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return false
	}

	return true
}

// Write stores value under key atomically via a temp file. Errors are logged
// and the previous document, if any, is left intact.
func (s *Store) Write(key string, value any) {
	if s == nil {
		return
	}
	if err := s.write(key, value); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) write(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "encode cache entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create cache temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write cache temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close cache temp file")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "persist cache entry")
	}

	return nil
}

// Age reports how long ago key was last written.
func (s *Store) Age(key string) (time.Duration, bool) {
	if s == nil {
		return 0, false
	}

	s.mu.RLock()
	info, err := os.Stat(s.path(key))
	s.mu.RUnlock()
	if err != nil {
		return 0, false
	}

	return time.Since(info.ModTime()), true
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", sanitizeKey(key)))
}

// sanitizeKey maps a key to a file name. Distinct well-formed keys (letters,
// digits, dash, underscore, dot) map to distinct names.
func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)

	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.':
			b.WriteString("%2e")
		default:
			fmt.Fprintf(&b, "%%%x", r)
		}
	}

	if b.Len() == 0 {
		return "_"
	}

	return b.String()
}
