package identity

import (
	"context"
	"sync"

	"github.com/vadiminshakov/coinverse/internal/domain"
)

// ResolveFunc maps a session token to its user.
type ResolveFunc func(ctx context.Context, token string) (domain.User, error)

// SessionSource is a Source driven by a session token: every token change is
// resolved and delivered to watchers. A token that does not resolve yields nil.
type SessionSource struct {
	resolve ResolveFunc

	mu       sync.Mutex
	token    string
	gen      uint64
	watchers map[int]func(*domain.User)
	nextID   int
}

// NewSessionSource creates a source starting from token, which may be empty.
func NewSessionSource(resolve ResolveFunc, token string) *SessionSource {
	return &SessionSource{
		resolve:  resolve,
		token:    token,
		watchers: make(map[int]func(*domain.User)),
	}
}

// Watch registers fn and resolves the current token in the background.
func (s *SessionSource) Watch(ctx context.Context, fn func(*domain.User)) (stop func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	token, gen := s.token, s.gen
	s.mu.Unlock()

	go func() {
		user := s.lookup(ctx, token)
		s.mu.Lock()
		current := s.gen == gen
		_, watching := s.watchers[id]
		s.mu.Unlock()
		// a newer token was already delivered
		if current && watching && ctx.Err() == nil {
			fn(user)
		}
	}()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// SetToken switches to token and delivers the resolved user to all watchers.
func (s *SessionSource) SetToken(ctx context.Context, token string) {
	s.mu.Lock()
	s.token = token
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	user := s.lookup(ctx, token)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	watchers := make([]func(*domain.User), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(user)
	}
}

// Token returns the current token.
func (s *SessionSource) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *SessionSource) lookup(ctx context.Context, token string) *domain.User {
	if token == "" {
		return nil
	}
	user, err := s.resolve(ctx, token)
	if err != nil {
		return nil
	}
	return &user
}

// ProviderResolver adapts a Provider to a ResolveFunc for in-process use.
func ProviderResolver(p *Provider) ResolveFunc {
	return func(_ context.Context, token string) (domain.User, error) {
		return p.Resolve(token)
	}
}
