// Package authstore implements the Postgres-backed identity adapter:
// a dedicated auth_user table, separate from the document store's "users"
// collection, so that the two can diverge and be reconciled by the
// password-reset UID repair flow.
package authstore

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotFound means no auth_user row matched the lookup.
	ErrNotFound = errors.New("authstore: user not found")
	// ErrEmailExists means a registration attempted to reuse a taken email.
	ErrEmailExists = errors.New("authstore: email already registered")
	// ErrInvalidCredentials means the supplied password did not match.
	ErrInvalidCredentials = errors.New("authstore: invalid credentials")
)

// User is one auth_user row: the credential and claims record, independent
// of the document-store profile record with the same uid.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store wraps the auth_user table.
type Store struct {
	db *pgxpool.Pool
}

// New builds a Store over db.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ValidEmail reports whether email parses as an RFC 5322 address.
func ValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPasswordHash reports whether plaintext matches the given bcrypt
// hash. Exported so the identity heuristics package's caller can compute
// the password-match signal without this package depending on identity.
func VerifyPasswordHash(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// CreateUser inserts a new credential row with a freshly hashed password.
func (s *Store) CreateUser(ctx context.Context, email, plaintextPassword, role string) (*User, error) {
	hash, err := HashPassword(plaintextPassword)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err = s.db.Exec(ctx, `
		INSERT INTO auth_user (id, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id, email, hash, role, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		log.Error().Err(err).Str("email", email).Msg("authstore create user failed")
		return nil, err
	}

	return &User{ID: id, Email: email, PasswordHash: hash, Role: role, CreatedAt: now, UpdatedAt: now}, nil
}

// GetUserByEmail looks up a credential row by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM auth_user WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUser looks up a credential row by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM auth_user WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// VerifyPassword checks plaintext against the stored hash for the user
// identified by email, returning ErrInvalidCredentials on mismatch.
func (s *Store) VerifyPassword(ctx context.Context, email, plaintext string) (*User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !VerifyPasswordHash(u.PasswordHash, plaintext) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// SetPassword overwrites the stored hash for id, used by the password
// reset flow once an OTP has been verified.
func (s *Store) SetPassword(ctx context.Context, id, newPlaintext string) error {
	hash, err := HashPassword(newPlaintext)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		UPDATE auth_user SET password_hash = $1, updated_at = $2 WHERE id = $3
	`, hash, time.Now().UTC(), id)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
