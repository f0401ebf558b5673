// Package auth is the session store: it owns the user set (logins with
// bcrypt password hashes) and the opaque tokens that bind a connection to a
// user. One live token per login; connecting again invalidates the old one.
package auth

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"pollchat/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

type Store struct {
	mu      sync.Mutex
	users   map[string]*models.User
	tokens  map[string]string // token -> login
	byLogin map[string]string // login -> live token
}

func NewStore() *Store {
	return &Store{
		users:   make(map[string]*models.User),
		tokens:  make(map[string]string),
		byLogin: make(map[string]string),
	}
}

// Connect registers the login on first sight, or verifies the password on a
// repeat visit, and issues a fresh token either way. Any prior token for the
// same login stops resolving.
func (s *Store) Connect(login, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[login]
	if !ok {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		user = &models.User{Login: login, PasswordHash: string(hashed)}
		s.users[login] = user
	} else {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return "", ErrInvalidCredentials
		}
	}

	token := uuid.NewString()
	if old, ok := s.byLogin[login]; ok {
		delete(s.tokens, old)
	}
	s.tokens[token] = login
	s.byLogin[login] = token

	return token, nil
}

func (s *Store) Resolve(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	login, ok := s.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return login, nil
}

func (s *Store) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	login, ok := s.tokens[token]
	if !ok {
		return
	}
	delete(s.tokens, token)
	if s.byLogin[login] == token {
		delete(s.byLogin, login)
	}
}

// UserExists reports whether the login has ever connected.
func (s *Store) UserExists(login string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.users[login]
	return ok
}

// Export returns the user set for the snapshot store. Tokens are never
// exported; sessions do not survive a restart.
func (s *Store) Export() []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Login < users[j].Login })
	return users
}

// Restore loads a previously exported user set. Existing hashes are kept
// as-is so passwords keep verifying after a restart.
func (s *Store) Restore(users []models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range users {
		user := users[i]
		s.users[user.Login] = &user
	}
}
