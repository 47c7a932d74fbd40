package kv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSetAndGet(t *testing.T) {
	s := testStore(t)
	if err := s.Set("db_groups", []byte(`[{"id":"g1"}]`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get("db_groups")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `[{"id":"g1"}]` {
		t.Errorf("Get() = %s", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.Get("db_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSetOverwrites(t *testing.T) {
	s := testStore(t)
	if err := s.Set("db_prompts", []byte(`[1]`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("db_prompts", []byte(`[1,2]`)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("db_prompts")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `[1,2]` {
		t.Errorf("Get() = %s, want [1,2]", got)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.Set("db_groups", []byte(`[]`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("db_groups"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete("db_groups"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
}

func TestKeysListsOnlyStoredKeys(t *testing.T) {
	s := testStore(t)
	for _, k := range []string{"db_groups", "db_messages_g1", "db_offline_actions"} {
		if err := s.Set(k, []byte(`[]`)); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Errorf("Keys() returned %d keys, want 3: %v", len(keys), keys)
	}
}

func TestClear(t *testing.T) {
	s := testStore(t)
	if err := s.Set("db_groups", []byte(`[]`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() after Clear() = %v, want empty", keys)
	}
}

func TestNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("db_groups", []byte(`[]`)); err != nil {
		t.Fatal(err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
	if _, err := os.Stat(filepath.Join(dir, "db_groups.json")); err != nil {
		t.Errorf("expected db_groups.json on disk: %v", err)
	}
}
