package users

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const DefaultPath = "./data/users.json"

// ErrEmailTaken is returned when an account with the same email exists.
var ErrEmailTaken = errors.New("email already registered")

// Account is a stored user with credentials.
type Account struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type state struct {
	Accounts []Account `json:"accounts"`
}

// FileStore keeps accounts in a JSON file rewritten atomically on every change.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	byEmail map[string]Account
	byID    map[string]Account
	order   []string
}

// NewFileStore loads accounts from path, creating its directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create users dir")
	}

	s := &FileStore{
		path:    path,
		byEmail: make(map[string]Account),
		byID:    make(map[string]Account),
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, errors.Wrap(err, "read users file")
	}
	if len(payload) == 0 {
		return s, nil
	}

	var st state
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, errors.Wrap(err, "decode users file")
	}
	for _, acc := range st.Accounts {
		s.put(acc)
	}

	return s, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *FileStore) put(acc Account) {
	s.byEmail[normalizeEmail(acc.Email)] = acc
	s.byID[acc.ID] = acc
	s.order = append(s.order, acc.ID)
}

// Create adds a new account and persists the file.
func (s *FileStore) Create(acc Account) error {
	if acc.ID == "" || acc.Email == "" {
		return errors.New("account id and email are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[normalizeEmail(acc.Email)]; exists {
		return ErrEmailTaken
	}

	s.put(acc)
	if err := s.save(); err != nil {
		delete(s.byEmail, normalizeEmail(acc.Email))
		delete(s.byID, acc.ID)
		s.order = s.order[:len(s.order)-1]
		return err
	}

	return nil
}

// ByEmail finds an account by email, ignoring case.
func (s *FileStore) ByEmail(email string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byEmail[normalizeEmail(email)]
	return acc, ok
}

// ByID finds an account by id.
func (s *FileStore) ByID(id string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byID[id]
	return acc, ok
}

// save writes all accounts atomically via temp file. Caller holds mu.
func (s *FileStore) save() error {
	st := state{Accounts: make([]Account, 0, len(s.order))}
	for _, id := range s.order {
		st.Accounts = append(st.Accounts, s.byID[id])
	}

	payload, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode users")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return errors.Wrap(err, "write users temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist users")
	}

	return nil
}
