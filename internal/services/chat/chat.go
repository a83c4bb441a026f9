// Package chat implements coin-scoped chat rooms: live subscriptions that
// re-deliver the latest messages on every change, validated sends, and the
// optimistic composer used by clients.
package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/events"
	"github.com/vadiminshakov/coinverse/internal/metrics"
)

const (
	DefaultHistoryLimit  = 100
	DefaultMaxMessageLen = 2000
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrNoAuthor       = errors.New("sign in to chat")
	ErrClosed         = errors.New("chat service is closed")
)

// Store persists messages and serves the latest ones per room.
type Store interface {
	Append(room string, msg domain.ChatMessage) (domain.ChatMessage, error)
	Recent(room string, n int) []domain.ChatMessage
}

// Config configures a Service.
type Config struct {
	HistoryLimit  int
	MaxMessageLen int
}

// Service fans room changes out to subscribers.
type Service struct {
	store         Store
	historyLimit  int
	maxMessageLen int
	logger        *zap.Logger

	mu     sync.Mutex
	rooms  map[string]*events.Broadcaster[struct{}]
	closed bool
}

// NewService creates a chat service over store.
func NewService(cfg Config, store Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("chat store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = DefaultMaxMessageLen
	}

	return &Service{
		store:         store,
		historyLimit:  cfg.HistoryLimit,
		maxMessageLen: cfg.MaxMessageLen,
		logger:        logger.With(zap.String("component", "chat")),
		rooms:         make(map[string]*events.Broadcaster[struct{}]),
	}, nil
}

// join subscribes to roomID's change broadcaster, creating it on first use.
func (s *Service) join(roomID string) (*events.Broadcaster[struct{}], chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrClosed
	}
	b, ok := s.rooms[roomID]
	if !ok {
		// one slot per subscriber: pending notifications coalesce
		b = events.NewBroadcaster[struct{}](1)
		s.rooms[roomID] = b
	}
	return b, b.Subscribe(), nil
}

// leave drops the subscription and forgets the room once nobody listens.
func (s *Service) leave(roomID string, b *events.Broadcaster[struct{}], ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.Unsubscribe(ch)
	if b.Subscribers() == 0 && s.rooms[roomID] == b {
		delete(s.rooms, roomID)
	}
}

// notify wakes the room's subscribers, if it has any.
func (s *Service) notify(roomID string) {
	s.mu.Lock()
	b := s.rooms[roomID]
	s.mu.Unlock()

	if b != nil {
		b.Publish(struct{}{})
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe delivers the room's latest messages, oldest first, to onUpdate
// right away and again after every change. onError receives failures that
// end the subscription. Deliveries stop when ctx is done or the returned
// function is called; calling it more than once is safe.
func (s *Service) Subscribe(ctx context.Context, roomID string, onUpdate func([]domain.ChatMessage), onError func(error)) (unsubscribe func()) {
	if onError == nil {
		onError = func(error) {}
	}
	if err := domain.ValidateCoinID(roomID); err != nil {
		onError(err)
		return func() {}
	}

	b, changes, err := s.join(roomID)
	if err != nil {
		onError(err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	var stopped atomic.Bool
	var once sync.Once

	unsubscribe = func() {
		once.Do(func() {
			stopped.Store(true)
			cancel()
			s.leave(roomID, b, changes)
		})
	}

	deliver := func() {
		if stopped.Load() {
			return
		}
		onUpdate(s.store.Recent(roomID, s.historyLimit))
	}

	go func() {
		defer unsubscribe()

		deliver()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					if !stopped.Load() {
						onError(ErrClosed)
					}
					return
				}
				deliver()
			}
		}
	}()

	return unsubscribe
}

// Send validates and stores a message, then notifies the room.
func (s *Service) Send(ctx context.Context, roomID, text string, author domain.Author) (domain.ChatMessage, error) {
	if err := domain.ValidateCoinID(roomID); err != nil {
		return domain.ChatMessage{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return domain.ChatMessage{}, errors.Wrapf(ErrMessageTooLong, "limit is %d characters", s.maxMessageLen)
	}
	if !author.Resolved() {
		return domain.ChatMessage{}, ErrNoAuthor
	}
	if err := ctx.Err(); err != nil {
		return domain.ChatMessage{}, err
	}

	if s.isClosed() {
		return domain.ChatMessage{}, ErrClosed
	}

	msg, err := s.store.Append(roomID, domain.ChatMessage{
		Text:     text,
		UserID:   author.ID,
		UserName: author.DisplayName,
	})
	if err != nil {
		s.logger.Error("failed to store chat message", zap.String("room", roomID), zap.Error(err))
		return domain.ChatMessage{}, errors.Wrap(err, "store message")
	}

	metrics.ChatMessagesTotal.Inc()
	s.notify(roomID)

	return msg, nil
}

// Recent returns the room's latest messages, oldest first.
func (s *Service) Recent(roomID string) ([]domain.ChatMessage, error) {
	if err := domain.ValidateCoinID(roomID); err != nil {
		return nil, err
	}
	return s.store.Recent(roomID, s.historyLimit), nil
}

// Close ends every subscription.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, b := range s.rooms {
		b.Close()
		delete(s.rooms, id)
	}
}
