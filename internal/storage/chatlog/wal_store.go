package chatlog

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
)

const (
	DefaultDir   = "./data/chat"
	DefaultLimit = 100
	segmentLimit = 1000
	// chat history is never dropped, so rotation is effectively disabled
	maxSegments = 1 << 20

	roomKeyPrefix = "chat_"
)

// WALStore persists chat messages in a WAL and keeps the most recent ones of
// every room in memory.
type WALStore struct {
	wal    *gowal.Wal
	mu     sync.RWMutex
	limit  int
	rooms  map[string][]domain.ChatMessage
	last   map[string]time.Time
	now    func() time.Time
	logger *zap.Logger
}

// NewWALStore opens the chat WAL in dir and rebuilds the per-room index.
func NewWALStore(dir string, limit int, logger *zap.Logger) (*WALStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = DefaultDir
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "chat_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init chat WAL")
	}

	s := &WALStore{
		wal:    wal,
		limit:  limit,
		rooms:  make(map[string][]domain.ChatMessage),
		last:   make(map[string]time.Time),
		now:    time.Now,
		logger: logger.With(zap.String("component", "chatlog")),
	}

	s.load()

	return s, nil
}

func (s *WALStore) load() {
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, roomKeyPrefix) {
			continue
		}
		room := strings.TrimPrefix(msg.Key, roomKeyPrefix)

		var m domain.ChatMessage
		if err := json.Unmarshal(msg.Value, &m); err != nil {
			s.logger.Error("failed to unmarshal chat message", zap.String("room", room), zap.Error(err))
			continue
		}
		s.index(room, m)
	}
}

func (s *WALStore) index(room string, m domain.ChatMessage) {
	msgs := append(s.rooms[room], m)
	if len(msgs) > s.limit {
		trimmed := make([]domain.ChatMessage, s.limit)
		copy(trimmed, msgs[len(msgs)-s.limit:])
		msgs = trimmed
	}
	s.rooms[room] = msgs

	if m.Timestamp != nil && m.Timestamp.After(s.last[room]) {
		s.last[room] = *m.Timestamp
	}
}

// Append assigns an id and a room-monotonic timestamp to msg and persists it.
func (s *WALStore) Append(room string, msg domain.ChatMessage) (domain.ChatMessage, error) {
	if s == nil || s.wal == nil {
		return domain.ChatMessage{}, errors.New("chat store is not initialized")
	}
	if room == "" {
		return domain.ChatMessage{}, errors.New("chat room is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if last, ok := s.last[room]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	msg.ID = uuid.NewString()
	msg.Timestamp = &ts

	payload, err := json.Marshal(msg)
	if err != nil {
		return domain.ChatMessage{}, errors.Wrap(err, "marshal chat message")
	}

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, roomKeyPrefix+room, payload); err != nil {
		return domain.ChatMessage{}, errors.Wrap(err, "write chat message")
	}

	s.index(room, msg)

	return msg, nil
}

// Recent returns up to n of the room's latest messages, oldest first.
func (s *WALStore) Recent(room string, n int) []domain.ChatMessage {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[room]
	if n <= 0 || n > len(msgs) {
		n = len(msgs)
	}

	out := make([]domain.ChatMessage, n)
	copy(out, msgs[len(msgs)-n:])
	return out
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("chat store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
