package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCredStore_LoadBeforePairing(t *testing.T) {
	store, err := NewCredStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCredStore failed: %v", err)
	}

	creds, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds != nil {
		t.Errorf("expected nil credentials before pairing, got %s", creds)
	}
}

func TestCredStore_RoundTrip(t *testing.T) {
	store, err := NewCredStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCredStore failed: %v", err)
	}

	blob := json.RawMessage(`{"noise_key":"abc","registered":true}`)
	if err := store.Save(blob); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(loaded) != string(blob) {
		t.Errorf("loaded %s, want %s", loaded, blob)
	}
}

func TestCredStore_SaveReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCredStore(dir)
	if err != nil {
		t.Fatalf("NewCredStore failed: %v", err)
	}

	if err := store.Save(json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := store.Save(json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(loaded) != `{"v":2}` {
		t.Errorf("loaded %s, want latest blob", loaded)
	}

	// The temp file from the atomic replace must not linger.
	if _, err := os.Stat(filepath.Join(dir, credsFile+".tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestCredStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth", "nested")
	if _, err := NewCredStore(dir); err != nil {
		t.Fatalf("NewCredStore failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("auth directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("auth path is not a directory")
	}
}
