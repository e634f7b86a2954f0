package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sitesense/fieldsync/internal/api"
	"github.com/sitesense/fieldsync/internal/netmon"
	"github.com/sitesense/fieldsync/internal/reconcile"
	"github.com/sitesense/fieldsync/internal/record"
)

// fakeReconciler records what the daemon hands it.
type fakeReconciler struct {
	mu        sync.Mutex
	submitted []string // local ids in submit order
	syncs     int
	online    []bool
	reject    bool
	offline   bool
}

func (f *fakeReconciler) Submit(ctx context.Context, rec *record.PendingRecord) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return "", false, &api.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "bad payload"}
	}
	f.submitted = append(f.submitted, rec.LocalID)
	return rec.LocalID, f.offline, nil
}

func (f *fakeReconciler) Sync(ctx context.Context) (*reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return &reconcile.Result{}, nil
}

func (f *fakeReconciler) NoteConnectivity(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, online)
}

func (f *fakeReconciler) NoteCleared() {}

func (f *fakeReconciler) Phase() reconcile.Phase { return reconcile.PhaseOnlineEmpty }

func (f *fakeReconciler) LastSync() (time.Time, bool) { return time.Time{}, false }

func (f *fakeReconciler) submittedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func (f *fakeReconciler) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

// reachableProber always reports the server as up.
type reachableProber struct{}

func (reachableProber) Health(ctx context.Context) error { return nil }

func testMonitor(t *testing.T) *netmon.Monitor {
	t.Helper()
	cfg := netmon.DefaultConfig()
	cfg.ProbeInterval = 50 * time.Millisecond
	cfg.Logger = log.New(os.Stderr, "[test] ", 0)
	return netmon.New(reachableProber{}, cfg)
}

func testConfig() *Config {
	return &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[test] ", 0),
	}
}

func spoolRecord(t *testing.T, dir, localID string) {
	t.Helper()
	err := record.WriteSpoolFile(dir, &record.PendingRecord{
		LocalID:   localID,
		Kind:      record.KindObservation,
		Payload:   json.RawMessage(`{"site":"bldg-4"}`),
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to write spool file: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	rec := &fakeReconciler{}
	monitor := testMonitor(t)

	if _, err := New(nil, monitor, t.TempDir()); err == nil {
		t.Error("expected error for nil reconciler")
	}
	if _, err := New(rec, nil, t.TempDir()); err == nil {
		t.Error("expected error for nil monitor")
	}
	if _, err := New(rec, monitor, ""); err == nil {
		t.Error("expected error for empty spool directory")
	}
	d, err := New(rec, monitor, t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.cancel()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DebounceInterval <= 0 {
		t.Error("debounce interval must be positive")
	}
	if cfg.Logger == nil {
		t.Error("logger must not be nil")
	}
}

func TestSweepSpoolIngestsLeftovers(t *testing.T) {
	spoolDir := t.TempDir()
	spoolRecord(t, spoolDir, "left-1")
	spoolRecord(t, spoolDir, "left-2")

	rec := &fakeReconciler{}
	d, err := NewWithConfig(rec, testMonitor(t), spoolDir, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.cancel()

	if err := os.MkdirAll(filepath.Join(spoolDir, rejectedDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := d.SweepSpool(); err != nil {
		t.Fatalf("SweepSpool failed: %v", err)
	}

	got := rec.submittedIDs()
	if len(got) != 2 {
		t.Fatalf("submitted %d records, want 2: %v", len(got), got)
	}

	// Ingested files are removed from the spool.
	entries, _ := os.ReadDir(spoolDir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			t.Errorf("spool file %s should have been removed", e.Name())
		}
	}
}

func TestSweepSpoolEmptyDirectory(t *testing.T) {
	rec := &fakeReconciler{}
	d, err := NewWithConfig(rec, testMonitor(t), t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.cancel()

	if err := d.SweepSpool(); err != nil {
		t.Fatalf("SweepSpool on empty directory failed: %v", err)
	}
	if len(rec.submittedIDs()) != 0 {
		t.Error("nothing should have been submitted")
	}
}

func TestIngestQuarantinesRejectedRecords(t *testing.T) {
	spoolDir := t.TempDir()
	spoolRecord(t, spoolDir, "bad-1")

	rec := &fakeReconciler{reject: true}
	d, err := NewWithConfig(rec, testMonitor(t), spoolDir, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.cancel()

	if err := os.MkdirAll(filepath.Join(spoolDir, rejectedDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := d.ingest(filepath.Join(spoolDir, "bad-1.json")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	quarantined := filepath.Join(spoolDir, rejectedDirName, "bad-1.json")
	if _, err := os.Stat(quarantined); err != nil {
		t.Errorf("rejected record not quarantined: %v", err)
	}
}

func TestIngestQuarantinesUnparsableFiles(t *testing.T) {
	spoolDir := t.TempDir()
	badPath := filepath.Join(spoolDir, "garbage.json")
	if err := os.WriteFile(badPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &fakeReconciler{}
	d, err := NewWithConfig(rec, testMonitor(t), spoolDir, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.cancel()

	if err := os.MkdirAll(filepath.Join(spoolDir, rejectedDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := d.ingest(badPath); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if _, err := os.Stat(badPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("unparsable file should have been moved out of the spool")
	}
	if len(rec.submittedIDs()) != 0 {
		t.Error("unparsable file must not reach the reconciler")
	}
}

func TestIngestMissingFileIsNoOp(t *testing.T) {
	spoolDir := t.TempDir()
	rec := &fakeReconciler{}
	d, err := NewWithConfig(rec, testMonitor(t), spoolDir, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.cancel()

	if err := d.ingest(filepath.Join(spoolDir, "gone.json")); err != nil {
		t.Errorf("ingest of missing file should be a no-op, got %v", err)
	}
}

func TestStartIngestsNewSpoolFiles(t *testing.T) {
	spoolDir := t.TempDir()
	rec := &fakeReconciler{}
	d, err := NewWithConfig(rec, testMonitor(t), spoolDir, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Give the watcher a moment to come up, then drop a record.
	waitFor(t, 2*time.Second, d.watcher.IsRunning)
	spoolRecord(t, spoolDir, "live-1")

	waitFor(t, 3*time.Second, func() bool {
		for _, id := range rec.submittedIDs() {
			if id == "live-1" {
				return true
			}
		}
		return false
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
}

func TestStartDrainsOnHealthyStart(t *testing.T) {
	rec := &fakeReconciler{}
	d, err := NewWithConfig(rec, testMonitor(t), t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return rec.syncCount() > 0 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
