package authstore

import (
	"context"
	"os"
	"testing"

	"github.com/fieldsync/syncserver/internal/db"
)

func getTestStore(t *testing.T) *Store {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(context.Background(), "DELETE FROM auth_user"); err != nil {
		t.Fatalf("failed to clean auth_user table: %v", err)
	}

	return New(pool)
}

func TestValidEmail(t *testing.T) {
	if !ValidEmail("ana@example.org") {
		t.Errorf("expected valid email to pass")
	}
	if ValidEmail("not-an-email") {
		t.Errorf("expected invalid email to fail")
	}
}

func TestHashAndVerifyPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !VerifyPasswordHash(hash, "correct horse battery staple") {
		t.Errorf("expected matching password to verify")
	}
	if VerifyPasswordHash(hash, "wrong password") {
		t.Errorf("expected mismatched password to fail")
	}
}

func TestCreateAndVerifyUser_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	store := getTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "ana@example.org", "s3cretpass!", "fieldworker")
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	if _, err := store.VerifyPassword(ctx, "ana@example.org", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	verified, err := store.VerifyPassword(ctx, "ana@example.org", "s3cretpass!")
	if err != nil {
		t.Fatalf("expected verify to succeed: %v", err)
	}
	if verified.ID != u.ID {
		t.Errorf("expected verified user id to match created user")
	}
}

func TestCreateUser_DuplicateEmailRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	store := getTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, "dup@example.org", "password1", "admin"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := store.CreateUser(ctx, "dup@example.org", "password2", "admin"); err != ErrEmailExists {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}
