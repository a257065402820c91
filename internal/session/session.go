// Package session keeps the signed-in application user and implements sign-in and
// sign-up against the users collection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"eventhub/internal/models"
	"eventhub/internal/provider"
	"eventhub/internal/records"
)

// PasswordScheme selects how credentials are stored and compared.
type PasswordScheme string

const (
	// SchemeBcrypt stores a bcrypt hash in passwordHash.
	SchemeBcrypt PasswordScheme = "bcrypt"
	// SchemePlain stores and compares the password field verbatim, as the legacy
	// web client did. Only meant for reading data created by that client.
	SchemePlain PasswordScheme = "plain"
)

// ParsePasswordScheme accepts "bcrypt" or "plain"; empty selects bcrypt.
func ParsePasswordScheme(s string) (PasswordScheme, error) {
	switch PasswordScheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeBcrypt:
		return SchemeBcrypt, nil
	case SchemePlain:
		return SchemePlain, nil
	}
	return "", fmt.Errorf("unknown password scheme %q", s)
}

// Store holds at most one signed-in user.
type Store struct {
	logger    *slog.Logger
	provider  provider.Provider
	usersPath string
	scheme    PasswordScheme
	now       func() time.Time

	mu      sync.RWMutex
	current *models.User
}

// NewStore creates a session store over the users collection at usersPath. Any scheme
// other than SchemePlain selects bcrypt.
func NewStore(logger *slog.Logger, p provider.Provider, usersPath string, scheme PasswordScheme) *Store {
	if scheme != SchemePlain {
		scheme = SchemeBcrypt
	} else {
		logger.Warn("Passwords are stored and compared in plain text.", "scheme", scheme)
	}
	return &Store{
		logger:    logger,
		provider:  p,
		usersPath: usersPath,
		scheme:    scheme,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Current returns a copy of the signed-in user.
func (s *Store) Current() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.User{}, false
	}
	return *s.current, true
}

// SignOut clears the application session. Transport-level credentials are untouched.
func (s *Store) SignOut() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Store) set(u models.User) {
	s.mu.Lock()
	s.current = &u
	s.mu.Unlock()
}

// SignIn looks up a user matching email, password and role. Any mismatch yields
// models.ErrInvalidCredentials without saying which field was wrong. A successful
// sign-in replaces the current session.
func (s *Store) SignIn(ctx context.Context, role models.Role, email, password string) (models.User, error) {
	email = models.NormalizeEmail(email)
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return models.User{}, models.ErrInvalidCredentials
	}

	filters := []provider.Filter{
		provider.Eq(records.FieldEmail, email),
		provider.Eq(records.FieldType, string(role)),
	}
	if s.scheme == SchemePlain {
		filters = append(filters, provider.Eq(records.FieldPassword, password))
	}
	docs, err := s.provider.Query(ctx, s.usersPath, filters...)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to query users: %w", err)
	}

	var matches []models.User
	for _, doc := range docs {
		u, err := records.DecodeUser(doc)
		if err != nil {
			s.logger.Warn("Skipping malformed user record", "id", doc.ID, "error", err)
			continue
		}
		if s.scheme == SchemeBcrypt {
			if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
				continue
			}
		}
		matches = append(matches, u)
	}
	if len(matches) == 0 {
		return models.User{}, models.ErrInvalidCredentials
	}
	if len(matches) > 1 {
		s.logger.Warn("Multiple user records match one sign-in, using the first.", "email", email, "count", len(matches))
	}

	s.set(matches[0])
	s.logger.Info("Signed in", "email", email, "role", role)
	return matches[0], nil
}

// SignUp validates form, checks that the email is unused and stores a new user, which
// becomes the current session.
func (s *Store) SignUp(ctx context.Context, form models.SignUpForm) (models.User, error) {
	form = form.Normalized()
	if err := models.Validate(form); err != nil {
		return models.User{}, err
	}

	existing, err := s.provider.Query(ctx, s.usersPath, provider.Eq(records.FieldEmail, form.Email))
	if err != nil {
		return models.User{}, fmt.Errorf("failed to check email: %w", err)
	}
	if len(existing) > 0 {
		return models.User{}, models.ErrEmailTaken
	}

	user := models.User{
		Role:      form.Role,
		Email:     form.Email,
		Phone:     form.Phone,
		CreatedAt: s.now().Format(time.RFC3339Nano),
	}
	switch form.Role {
	case models.RoleStudent:
		user.Name, user.Age, user.Gender, user.College = form.Name, form.Age, form.Gender, form.College
	case models.RoleOrganizer:
		user.Organization = form.Organization
	}
	if s.scheme == SchemeBcrypt {
		hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
		if err != nil {
			return models.User{}, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	} else {
		user.Password = form.Password
	}

	fields := records.EncodeUser(user)
	var id string
	if unique, ok := s.provider.(provider.UniqueInserter); ok {
		id, err = unique.InsertUnique(ctx, s.usersPath, records.FieldEmail, user.Email, fields)
		if errors.Is(err, provider.ErrConflict) {
			return models.User{}, models.ErrEmailTaken
		}
	} else {
		// Without a conditional insert two concurrent sign-ups can both pass the check.
		id, err = s.provider.Insert(ctx, s.usersPath, fields)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	user.ID = id

	s.set(user)
	s.logger.Info("Account created", "email", user.Email, "role", user.Role)
	return user, nil
}
