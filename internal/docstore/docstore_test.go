package docstore

import (
	"context"
	"os"
	"testing"

	"github.com/fieldsync/syncserver/internal/db"
)

func getTestDB(t *testing.T) *Collection {
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

	if _, err := pool.Exec(context.Background(), "DELETE FROM supply"); err != nil {
		t.Fatalf("failed to clean supply table: %v", err)
	}

	return NewCollection(pool, "supply", "supply_id")
}

func TestPutGetRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	col := getTestDB(t)
	ctx := context.Background()

	rec := Record{
		"supply_id":  "s1",
		"item_name":  "Gauze",
		"quantity":   10.0,
		"updated_at": "2024-06-01T00:00:00Z",
	}
	if err := col.Put(ctx, "owner-1", "s1", rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := col.Get(ctx, "owner-1", "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got["item_name"] != "Gauze" {
		t.Errorf("expected item_name Gauze, got %v", got["item_name"])
	}
}

func TestGetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	col := getTestDB(t)
	ctx := context.Background()

	if _, err := col.Get(ctx, "owner-1", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWhereEquals(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	col := getTestDB(t)
	ctx := context.Background()

	rec := Record{
		"supply_id":  "s2",
		"barcode":    "ABC123",
		"item_name":  "Bandages",
		"updated_at": "2024-06-01T00:00:00Z",
	}
	if err := col.Put(ctx, "owner-1", "s2", rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	matches, err := col.WhereEquals(ctx, "owner-1", "barcode", "ABC123")
	if err != nil {
		t.Fatalf("whereEquals failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	col := getTestDB(t)
	ctx := context.Background()

	rec := Record{
		"supply_id":  "s3",
		"item_name":  "Splint",
		"updated_at": "2024-06-01T00:00:00Z",
	}
	if err := col.Put(ctx, "owner-1", "s3", rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if err := col.Delete(ctx, "owner-1", "s3"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := col.Get(ctx, "owner-1", "s3"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
