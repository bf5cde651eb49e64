package device

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestStore creates a store over an in-memory database.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	store, err := NewSQLiteStore(context.Background(), db)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return store
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	devices := []KnownDevice{
		{ID: "valve-02", Endpoint: Endpoint{Scheme: "http", Host: "10.0.0.12", Port: 9000}, ManifestPath: "/custom/manifest"},
		{ID: "lamp-01", Endpoint: Endpoint{Scheme: "https", Host: "10.0.0.9", Port: 8443}, ManifestPath: "/.well-known/ascot"},
	}
	for _, k := range devices {
		if err := store.SaveDevice(ctx, k); err != nil {
			t.Fatalf("SaveDevice(%s) error = %v", k.ID, err)
		}
	}

	loaded, err := store.LoadKnownDevices(ctx)
	if err != nil {
		t.Fatalf("LoadKnownDevices() error = %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("len(loaded) = %d, want 2", len(loaded))
	}

	// Ordered by ID.
	if loaded[0].ID != "lamp-01" || loaded[1].ID != "valve-02" {
		t.Errorf("load order = [%s %s], want [lamp-01 valve-02]", loaded[0].ID, loaded[1].ID)
	}

	if loaded[0].Endpoint.Scheme != "https" || loaded[0].Endpoint.Port != 8443 {
		t.Errorf("lamp-01 endpoint = %+v, want persisted values", loaded[0].Endpoint)
	}
	if loaded[1].ManifestPath != "/custom/manifest" {
		t.Errorf("valve-02 ManifestPath = %q, want persisted path", loaded[1].ManifestPath)
	}
}

func TestSQLiteStore_SaveUpdatesExisting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := KnownDevice{ID: "lamp-01", Endpoint: Endpoint{Scheme: "http", Host: "10.0.0.9", Port: 8080}, ManifestPath: "/.well-known/ascot"}
	if err := store.SaveDevice(ctx, first); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	// Device moved; same ID must update in place.
	moved := first
	moved.Endpoint.Host = "10.0.0.50"
	if err := store.SaveDevice(ctx, moved); err != nil {
		t.Fatalf("SaveDevice() update error = %v", err)
	}

	loaded, err := store.LoadKnownDevices(ctx)
	if err != nil {
		t.Fatalf("LoadKnownDevices() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1 (upsert, not insert)", len(loaded))
	}
	if loaded[0].Endpoint.Host != "10.0.0.50" {
		t.Errorf("Host = %q, want updated host", loaded[0].Endpoint.Host)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	k := KnownDevice{ID: "lamp-01", Endpoint: Endpoint{Scheme: "http", Host: "10.0.0.9", Port: 8080}, ManifestPath: "/.well-known/ascot"}
	if err := store.SaveDevice(ctx, k); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	if err := store.DeleteDevice(ctx, "lamp-01"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	loaded, err := store.LoadKnownDevices(ctx)
	if err != nil {
		t.Fatalf("LoadKnownDevices() error = %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("len(loaded) = %d after delete, want 0", len(loaded))
	}

	// Deleting an absent ID is not an error.
	if err := store.DeleteDevice(ctx, "ghost"); err != nil {
		t.Errorf("DeleteDevice(ghost) error = %v, want nil", err)
	}
}

func TestSQLiteStore_LoadEmpty(t *testing.T) {
	store := setupTestStore(t)

	loaded, err := store.LoadKnownDevices(context.Background())
	if err != nil {
		t.Fatalf("LoadKnownDevices() error = %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("len(loaded) = %d on empty store, want 0", len(loaded))
	}
}
