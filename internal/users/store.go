// Package users reads the flat XML user list that backs authentication.
//
// The service never writes user records after the first-run seed; operators
// edit the file by hand, using the hash-password command for new hashes.
package users

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
	DefaultAdminRole     = "admin"
)

// ErrNotFound is returned when no record matches the username.
var ErrNotFound = errors.New("user not found")

// User is a single record of the user list.
type User struct {
	Username     string
	PasswordHash string
	Role         string
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func (u *User) CheckPassword(password string) bool {
	if u == nil || u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// HashPassword returns a bcrypt hash suitable for the password element.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type userFile struct {
	XMLName xml.Name     `xml:"users"`
	Users   []userRecord `xml:"user"`
}

type userRecord struct {
	Username string `xml:"username"`
	Password string `xml:"password"`
	Role     string `xml:"role"`
}

// Store looks users up in an XML file guarded by an advisory file lock.
// Each operation opens its own lock handle so concurrent requests get
// independent flock descriptions.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore returns a store for the file at path. The file is not touched
// until EnsureSeeded or Lookup is called.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.Named("user_store"),
	}
}

// Path returns the location of the user list.
func (s *Store) Path() string {
	return s.path
}

// EnsureSeeded creates the user list with the default admin entry when the
// file does not exist yet. An existing file is left untouched.
func (s *Store) EnsureSeeded() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create user store dir: %w", err)
	}
	lock := s.newLock()
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock user store: %w", err)
	}
	defer s.unlock(lock)

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat user store: %w", err)
	}

	hash, err := HashPassword(DefaultAdminPassword)
	if err != nil {
		return err
	}
	doc := userFile{Users: []userRecord{{
		Username: DefaultAdminUsername,
		Password: hash,
		Role:     DefaultAdminRole,
	}}}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write user store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("install user store: %w", err)
	}
	s.logger.Info("seeded user store with default admin", zap.String("path", s.path))
	return nil
}

// Lookup returns the record for username. A missing file is seeded first.
func (s *Store) Lookup(ctx context.Context, username string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := s.load()
	if errors.Is(err, fs.ErrNotExist) {
		if seedErr := s.EnsureSeeded(); seedErr != nil {
			return nil, seedErr
		}
		records, err = s.load()
	}
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if rec.Username == username {
			return &User{Username: rec.Username, PasswordHash: rec.Password, Role: rec.Role}, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Store) load() ([]userRecord, error) {
	lock := s.newLock()
	if err := lock.RLock(); err != nil {
		// The lock file lives next to the store; a missing directory means a missing store.
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("lock user store: %w", err)
	}
	defer s.unlock(lock)

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var doc userFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse user store %s: %w", s.path, err)
	}
	return doc.Users, nil
}

func (s *Store) newLock() *flock.Flock {
	return flock.New(s.path + ".lock")
}

func (s *Store) unlock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		s.logger.Warn("failed to release user store lock", zap.Error(err))
	}
}
