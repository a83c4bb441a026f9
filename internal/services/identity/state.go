package identity

import (
	"context"
	"sync"

	"github.com/vadiminshakov/coinverse/internal/domain"
)

// Lifecycle is the resolution phase of a State.
type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	Resolving
	Resolved
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Snapshot is the current user, or nil, and whether it is still being
// resolved. While Loading is true no access decision should be made.
type Snapshot struct {
	User    *domain.User `json:"user"`
	Loading bool         `json:"loading"`
}

// Source delivers auth-state changes: the signed-in user or nil. Watch
// returns a function that stops deliveries.
type Source interface {
	Watch(ctx context.Context, fn func(*domain.User)) (stop func())
}

// State is a single-writer, multi-reader reflection of a Source. It starts
// watching on first use.
type State struct {
	source Source

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	stop      func()

	mu      sync.RWMutex
	phase   Lifecycle
	snap    Snapshot
	version uint64
	subs    map[int]*subscriber
	nextID  int
}

// subscriber serializes calls to fn and never hands it an older snapshot
// than one it has already seen.
type subscriber struct {
	fn   func(Snapshot)
	mu   sync.Mutex
	sent bool
	seen uint64
}

func (sub *subscriber) send(version uint64, snap Snapshot) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.sent && version <= sub.seen {
		return
	}
	sub.sent = true
	sub.seen = version
	sub.fn(snap)
}

// NewState creates a state over source.
func NewState(source Source) *State {
	ctx, cancel := context.WithCancel(context.Background())
	return &State{
		source: source,
		ctx:    ctx,
		cancel: cancel,
		snap:   Snapshot{Loading: true},
		subs:   make(map[int]*subscriber),
	}
}

func (s *State) ensureStarted() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.phase = Resolving
		s.mu.Unlock()

		stop := s.source.Watch(s.ctx, s.deliver)

		s.mu.Lock()
		s.stop = stop
		s.mu.Unlock()
	})
}

// deliver applies one provider update. The first one ends loading; later
// ones only change the user.
func (s *State) deliver(u *domain.User) {
	var user *domain.User
	if u != nil {
		copied := *u
		user = &copied
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.phase = Resolved
	s.snap = Snapshot{User: user, Loading: false}
	s.version++
	snap, version := s.snap, s.version
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.send(version, snap)
	}
}

// Snapshot returns the current value.
func (s *State) Snapshot() Snapshot {
	s.ensureStarted()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Lifecycle reports the resolution phase without starting the state.
func (s *State) Lifecycle() Lifecycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Subscribe calls fn with the current value and after every change.
func (s *State) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	snap, version := s.snap, s.version
	s.mu.Unlock()

	sub.send(version, snap)
	s.ensureStarted()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Close stops watching the source.
func (s *State) Close() {
	s.cancel()

	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}
