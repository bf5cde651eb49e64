package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ascotlab/ascot-gateway/internal/manifest"
)

// fakeStore records persistence calls for assertions. Set failAll to make
// every operation return an error.
type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]KnownDevice
	deleted []string
	loaded  []KnownDevice
	failAll bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]KnownDevice)}
}

func (s *fakeStore) LoadKnownDevices(ctx context.Context) ([]KnownDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errors.New("store broken")
	}
	return s.loaded, nil
}

func (s *fakeStore) SaveDevice(ctx context.Context, known KnownDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store broken")
	}
	s.saved[known.ID] = known
	return nil
}

func (s *fakeStore) DeleteDevice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store broken")
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) savedDevice(id string) (KnownDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.saved[id]
	return k, ok
}

func (s *fakeStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.deleted))
	copy(out, s.deleted)
	return out
}

func testEndpoint(host string) Endpoint {
	return Endpoint{Scheme: "http", Host: host, Port: 8080}
}

func testManifest(t *testing.T, id string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse(id, []byte(`{"kind": "light", "actions": [{"name": "on"}]}`))
	if err != nil {
		t.Fatalf("building test manifest: %v", err)
	}
	return m
}

func TestRegistry_UpsertInsertAndUpdate(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	created := r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", map[string]string{"scheme": "http"})
	if !created {
		t.Error("first Upsert should report created")
	}

	dev, ok := r.Get("lamp-01")
	if !ok {
		t.Fatal("Get should find the device")
	}
	if dev.Health != HealthUnreachable {
		t.Errorf("new device Health = %q, want %q until resolved", dev.Health, HealthUnreachable)
	}
	if dev.Manifest != nil {
		t.Error("new device should have no manifest")
	}
	if dev.FirstSeen.IsZero() || dev.LastSeen.IsZero() {
		t.Error("timestamps should be set")
	}

	// Same identity announced again with a new endpoint: update, not duplicate.
	created = r.Upsert("lamp-01", testEndpoint("10.0.0.50"), "/.well-known/ascot", nil)
	if created {
		t.Error("second Upsert should report updated, not created")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (no duplication)", r.Len())
	}

	dev, _ = r.Get("lamp-01")
	if dev.Endpoint.Host != "10.0.0.50" {
		t.Errorf("Endpoint.Host = %q, want updated host", dev.Endpoint.Host)
	}
}

func TestRegistry_RepeatedAnnouncementsSingleRecord(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	for i := 0; i < 10; i++ {
		r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)
	}

	if r.Len() != 1 {
		t.Errorf("Len() = %d after 10 announcements, want 1", r.Len())
	}
}

func TestRegistry_EndpointUpdateKeepsManifest(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)
	m := testManifest(t, "lamp-01")
	if !r.AttachManifest("lamp-01", m) {
		t.Fatal("AttachManifest should succeed")
	}

	// Endpoint moves; capabilities stay until a newer manifest lands.
	r.Upsert("lamp-01", testEndpoint("10.0.0.50"), "/.well-known/ascot", nil)

	dev, _ := r.Get("lamp-01")
	if dev.Manifest == nil {
		t.Fatal("manifest should survive an endpoint update")
	}
	if dev.Manifest != m {
		t.Error("manifest pointer should be unchanged")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)

	if !r.Remove("lamp-01") {
		t.Error("Remove should report true for a known device")
	}
	if r.Remove("lamp-01") {
		t.Error("Remove should be idempotent and report false the second time")
	}
	if _, ok := r.Get("lamp-01"); ok {
		t.Error("removed device should be gone")
	}
}

func TestRegistry_AttachManifestAfterRemoveIsDiscarded(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)
	r.Remove("lamp-01")

	// A resolve that was in flight when the device vanished completes late.
	if r.AttachManifest("lamp-01", testManifest(t, "lamp-01")) {
		t.Error("AttachManifest after removal should report false")
	}
	if _, ok := r.Get("lamp-01"); ok {
		t.Error("late manifest must not resurrect a removed device")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_AttachManifestSetsFresh(t *testing.T) {
	r := NewRegistry(Options{MaxFailures: 3})
	defer r.Close()

	r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)
	r.MarkHealth("lamp-01", false)
	r.MarkHealth("lamp-01", false)

	if !r.AttachManifest("lamp-01", testManifest(t, "lamp-01")) {
		t.Fatal("AttachManifest should succeed")
	}

	dev, _ := r.Get("lamp-01")
	if dev.Health != HealthFresh {
		t.Errorf("Health = %q after attach, want %q", dev.Health, HealthFresh)
	}
	if dev.Failures != 0 {
		t.Errorf("Failures = %d after attach, want 0", dev.Failures)
	}
}

func TestRegistry_MarkHealthFailureThreshold(t *testing.T) {
	r := NewRegistry(Options{MaxFailures: 3})
	defer r.Close()

	r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)
	r.AttachManifest("lamp-01", testManifest(t, "lamp-01"))

	// Two failures: counted, still fresh.
	for i := 1; i <= 2; i++ {
		state, ok := r.MarkHealth("lamp-01", false)
		if !ok {
			t.Fatal("MarkHealth should find the device")
		}
		if state != HealthFresh {
			t.Errorf("after %d failures state = %q, want %q", i, state, HealthFresh)
		}
	}

	// Third failure crosses the threshold.
	state, _ := r.MarkHealth("lamp-01", false)
	if state != HealthUnreachable {
		t.Errorf("after 3 failures state = %q, want %q", state, HealthUnreachable)
	}

	// One success restores fresh and clears the count.
	state, _ = r.MarkHealth("lamp-01", true)
	if state != HealthFresh {
		t.Errorf("after success state = %q, want %q", state, HealthFresh)
	}
	dev, _ := r.Get("lamp-01")
	if dev.Failures != 0 {
		t.Errorf("Failures = %d after success, want 0", dev.Failures)
	}
}

func TestRegistry_MarkHealthUnknownDevice(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	if _, ok := r.MarkHealth("ghost", true); ok {
		t.Error("MarkHealth should report false for unknown identity")
	}
}

func TestRegistry_MarkStale(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	r.Upsert("old-lamp", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)
	r.AttachManifest("old-lamp", testManifest(t, "old-lamp"))
	r.Upsert("loud-lamp", testEndpoint("10.0.0.10"), "/.well-known/ascot", nil)
	r.AttachManifest("loud-lamp", testManifest(t, "loud-lamp"))

	// Devices have just been seen; a sweep with any cutoff in the past
	// should not touch them.
	if changed := r.MarkStale(time.Hour); len(changed) != 0 {
		t.Errorf("MarkStale(1h) = %v, want none", changed)
	}

	// Zero interval makes everything fresh immediately eligible.
	time.Sleep(5 * time.Millisecond)
	changed := r.MarkStale(time.Millisecond)
	if len(changed) != 2 {
		t.Fatalf("MarkStale() = %v, want both devices", changed)
	}
	if changed[0] != "loud-lamp" || changed[1] != "old-lamp" {
		t.Errorf("MarkStale() = %v, want sorted IDs", changed)
	}

	dev, _ := r.Get("old-lamp")
	if dev.Health != HealthStale {
		t.Errorf("Health = %q, want %q", dev.Health, HealthStale)
	}

	// Already-stale devices are not reported again.
	if changed := r.MarkStale(time.Millisecond); len(changed) != 0 {
		t.Errorf("second MarkStale() = %v, want none", changed)
	}
}

func TestRegistry_SnapshotSortedAndIsolated(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	r.Upsert("zebra", testEndpoint("10.0.0.3"), "/.well-known/ascot", map[string]string{"kind": "lamp"})
	r.Upsert("alpha", testEndpoint("10.0.0.1"), "/.well-known/ascot", nil)
	r.Upsert("mango", testEndpoint("10.0.0.2"), "/.well-known/ascot", nil)

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(Snapshot()) = %d, want 3", len(snap))
	}
	for i, want := range []string{"alpha", "mango", "zebra"} {
		if snap[i].ID != want {
			t.Errorf("Snapshot()[%d].ID = %q, want %q", i, snap[i].ID, want)
		}
	}

	// Mutating the snapshot must not leak into the registry.
	snap[2].Metadata["kind"] = "tampered"
	snap[2].Health = HealthStale

	dev, _ := r.Get("zebra")
	if dev.Metadata["kind"] != "lamp" {
		t.Error("snapshot mutation leaked into registry metadata")
	}
	if dev.Health != HealthUnreachable {
		t.Error("snapshot mutation leaked into registry health")
	}
}

func TestRegistry_LoadKnown(t *testing.T) {
	store := newFakeStore()
	store.loaded = []KnownDevice{
		{ID: "lamp-01", Endpoint: testEndpoint("10.0.0.9"), ManifestPath: "/.well-known/ascot"},
		{ID: "valve-02", Endpoint: testEndpoint("10.0.0.12"), ManifestPath: "/custom/manifest"},
	}

	r := NewRegistry(Options{Store: store})
	defer r.Close()

	seeded, err := r.LoadKnown(context.Background())
	if err != nil {
		t.Fatalf("LoadKnown() error = %v", err)
	}
	if seeded != 2 {
		t.Errorf("seeded = %d, want 2", seeded)
	}

	dev, ok := r.Get("valve-02")
	if !ok {
		t.Fatal("seeded device should be present")
	}
	if dev.Health != HealthUnreachable {
		t.Errorf("seeded Health = %q, want %q until resolved", dev.Health, HealthUnreachable)
	}
	if dev.ManifestPath != "/custom/manifest" {
		t.Errorf("ManifestPath = %q, want persisted path", dev.ManifestPath)
	}
}

func TestRegistry_LoadKnownDoesNotOverwriteLive(t *testing.T) {
	store := newFakeStore()
	store.loaded = []KnownDevice{
		{ID: "lamp-01", Endpoint: testEndpoint("10.0.0.200"), ManifestPath: "/.well-known/ascot"},
	}

	r := NewRegistry(Options{Store: store})
	defer r.Close()

	// A live announcement arrives before the seed completes.
	r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)

	if _, err := r.LoadKnown(context.Background()); err != nil {
		t.Fatalf("LoadKnown() error = %v", err)
	}

	dev, _ := r.Get("lamp-01")
	if dev.Endpoint.Host != "10.0.0.9" {
		t.Errorf("Endpoint.Host = %q, live sighting must win over seed", dev.Endpoint.Host)
	}
}

func TestRegistry_PersistenceWrites(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(Options{Store: store})

	r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/custom/manifest", nil)
	r.Upsert("valve-02", testEndpoint("10.0.0.12"), "/.well-known/ascot", nil)
	r.Remove("valve-02")

	// Close drains the queue, making writes observable deterministically.
	r.Close()

	saved, ok := store.savedDevice("lamp-01")
	if !ok {
		t.Fatal("lamp-01 should have been saved")
	}
	if saved.ManifestPath != "/custom/manifest" {
		t.Errorf("saved ManifestPath = %q, want %q", saved.ManifestPath, "/custom/manifest")
	}

	deleted := store.deletedIDs()
	if len(deleted) != 1 || deleted[0] != "valve-02" {
		t.Errorf("deleted = %v, want [valve-02]", deleted)
	}
}

func TestRegistry_FailingStoreNeverFailsOperations(t *testing.T) {
	store := newFakeStore()
	store.failAll = true

	r := NewRegistry(Options{Store: store})

	if created := r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil); !created {
		t.Error("Upsert should succeed regardless of store health")
	}
	if !r.Remove("lamp-01") {
		t.Error("Remove should succeed regardless of store health")
	}

	r.Close()
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(Options{Store: newFakeStore()})
	defer r.Close()

	const workers = 8
	const iterations = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("device-%d", w)
			for i := 0; i < iterations; i++ {
				r.Upsert(id, testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)
				r.MarkHealth(id, i%2 == 0)
				r.Snapshot()
				r.Get(id)
			}
		}(w)
	}

	// A sweeper runs alongside, as it does in production.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			r.MarkStale(time.Hour)
		}
	}()

	wg.Wait()

	if r.Len() != workers {
		t.Errorf("Len() = %d, want %d", r.Len(), workers)
	}
}

func TestRegistry_GetStats(t *testing.T) {
	r := NewRegistry(Options{MaxFailures: 1})
	defer r.Close()

	r.Upsert("lamp-01", testEndpoint("10.0.0.9"), "/.well-known/ascot", nil)
	r.AttachManifest("lamp-01", testManifest(t, "lamp-01"))
	r.Upsert("valve-02", testEndpoint("10.0.0.12"), "/.well-known/ascot", nil)
	r.MarkHealth("valve-02", false)

	stats := r.GetStats()
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Resolved != 1 {
		t.Errorf("Resolved = %d, want 1", stats.Resolved)
	}
	if stats.ByHealth[HealthFresh] != 1 {
		t.Errorf("ByHealth[fresh] = %d, want 1", stats.ByHealth[HealthFresh])
	}
	if stats.ByHealth[HealthUnreachable] != 1 {
		t.Errorf("ByHealth[unreachable] = %d, want 1", stats.ByHealth[HealthUnreachable])
	}
}

func TestParseHealthState(t *testing.T) {
	for _, state := range AllHealthStates() {
		parsed, err := ParseHealthState(string(state))
		if err != nil {
			t.Errorf("ParseHealthState(%q) error = %v", state, err)
		}
		if parsed != state {
			t.Errorf("ParseHealthState(%q) = %q", state, parsed)
		}
	}

	_, err := ParseHealthState("online")
	if !errors.Is(err, ErrInvalidHealthState) {
		t.Errorf("expected ErrInvalidHealthState, got %v", err)
	}
}

func TestDevice_Clone(t *testing.T) {
	m := testManifest(t, "lamp-01")
	original := &Device{
		ID:       "lamp-01",
		Endpoint: testEndpoint("10.0.0.9"),
		Metadata: map[string]string{"scheme": "http"},
		Manifest: m,
		Health:   HealthFresh,
	}

	clone := original.Clone()
	clone.Metadata["scheme"] = "https"
	clone.Health = HealthStale

	if original.Metadata["scheme"] != "http" {
		t.Error("Clone should deep copy metadata")
	}
	if original.Health != HealthFresh {
		t.Error("Clone should not share health")
	}
	if clone.Manifest != m {
		t.Error("Clone should share the immutable manifest pointer")
	}

	var nilDevice *Device
	if nilDevice.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestEndpoint_BaseURL(t *testing.T) {
	e := Endpoint{Scheme: "http", Host: "192.168.1.40", Port: 8080}
	if got := e.BaseURL(); got != "http://192.168.1.40:8080" {
		t.Errorf("BaseURL() = %q", got)
	}

	if !e.Equal(Endpoint{Scheme: "http", Host: "192.168.1.40", Port: 8080}) {
		t.Error("Equal should match identical endpoints")
	}
	if e.Equal(Endpoint{Scheme: "http", Host: "192.168.1.40", Port: 9090}) {
		t.Error("Equal should detect port difference")
	}
}
