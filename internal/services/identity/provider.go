// Package identity provides email/password accounts with bearer sessions and
// an observable "current user" state for clients.
package identity

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/storage/users"
)

const (
	DefaultSessionTTL = 30 * 24 * time.Hour
	minUsernameLen    = 3
	maxUsernameLen    = 20
	minPasswordLen    = 6
	// bcrypt ignores input past 72 bytes
	maxPasswordBytes = 72
	purgeInterval    = time.Minute
)

var (
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid session")
)

// UserMessage returns the text shown to a user for an authentication failure.
func UserMessage(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, ErrEmailInUse):
		return "The email address is already in use by another account."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrInvalidSession):
		return "Please sign in again."
	default:
		return "Something went wrong. Please try again."
	}
}

// ValidationError reports a rejected registration field with a user-facing message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AccountStore persists accounts.
type AccountStore interface {
	Create(acc users.Account) error
	ByEmail(email string) (users.Account, bool)
	ByID(id string) (users.Account, bool)
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	SessionTTL time.Duration
	BcryptCost int
}

// Provider registers accounts and issues bearer sessions. Sessions live in
// memory and end with the process.
type Provider struct {
	accounts AccountStore
	ttl      time.Duration
	cost     int
	now      func() time.Time
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewProvider creates a provider over accounts.
func NewProvider(cfg ProviderConfig, accounts AccountStore, logger *zap.Logger) (*Provider, error) {
	if accounts == nil {
		return nil, errors.New("account store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	return &Provider{
		accounts: accounts,
		ttl:      cfg.SessionTTL,
		cost:     cfg.BcryptCost,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "identity")),
		sessions: make(map[string]domain.Session),
	}, nil
}

// ValidateRegistration checks the registration form fields.
func ValidateRegistration(username, email, password string) error {
	username = strings.TrimSpace(username)
	switch n := utf8.RuneCountInString(username); {
	case n < minUsernameLen:
		return &ValidationError{Field: "username", Message: "Username must be at least 3 characters."}
	case n > maxUsernameLen:
		return &ValidationError{Field: "username", Message: "Username cannot be longer than 20 characters."}
	}

	if !validEmail(email) {
		return &ValidationError{Field: "email", Message: "Please enter a valid email address."}
	}

	if utf8.RuneCountInString(password) < minPasswordLen {
		return &ValidationError{Field: "password", Message: "Password must be at least 6 characters."}
	}
	if len(password) > maxPasswordBytes {
		return &ValidationError{Field: "password", Message: "Password cannot be longer than 72 bytes."}
	}

	return nil
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// Register creates an account and signs it in.
func (p *Provider) Register(ctx context.Context, username, email, password string) (domain.Session, error) {
	if err := ValidateRegistration(username, email, password); err != nil {
		return domain.Session{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return domain.Session{}, errors.Wrap(err, "hash password")
	}

	acc := users.Account{
		ID:           uuid.NewString(),
		DisplayName:  strings.TrimSpace(username),
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC(),
	}
	if err := p.accounts.Create(acc); err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			return domain.Session{}, ErrEmailInUse
		}
		return domain.Session{}, errors.Wrap(err, "create account")
	}

	p.logger.Info("account registered", zap.String("user_id", acc.ID))

	return p.startSession(acc), nil
}

// SignIn checks credentials and starts a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	acc, ok := p.accounts.ByEmail(email)
	if !ok {
		return domain.Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return domain.Session{}, ErrInvalidCredentials
	}

	return p.startSession(acc), nil
}

func (p *Provider) startSession(acc users.Account) domain.Session {
	s := domain.Session{
		Token:     uuid.NewString(),
		User:      domain.User{ID: acc.ID, DisplayName: acc.DisplayName, Email: acc.Email},
		ExpiresAt: p.now().Add(p.ttl),
	}

	p.mu.Lock()
	p.sessions[s.Token] = s
	p.mu.Unlock()

	return s
}

// SignOut ends the session. Unknown tokens are ignored.
func (p *Provider) SignOut(token string) {
	p.mu.Lock()
	delete(p.sessions, token)
	p.mu.Unlock()
}

// Resolve returns the user of a live session.
func (p *Provider) Resolve(token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, ErrInvalidSession
	}

	p.mu.RLock()
	s, ok := p.sessions[token]
	p.mu.RUnlock()
	if !ok {
		return domain.User{}, ErrInvalidSession
	}
	if s.Expired(p.now()) {
		p.SignOut(token)
		return domain.User{}, ErrInvalidSession
	}

	return s.User, nil
}

// PurgeExpired drops expired sessions and returns how many were removed.
func (p *Provider) PurgeExpired() int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for token, s := range p.sessions {
		if s.Expired(now) {
			delete(p.sessions, token)
			removed++
		}
	}
	return removed
}

// Run purges expired sessions periodically until ctx is done.
func (p *Provider) Run(ctx context.Context) error {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.PurgeExpired(); n > 0 {
				p.logger.Debug("expired sessions purged", zap.Int("count", n))
			}
		}
	}
}
