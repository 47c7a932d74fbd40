package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tarpai/connect-sync/internal/record"
	"go.uber.org/zap"
)

// backends returns a constructor per backend so every contract test runs
// against both. Behavioral equivalence between the two is the key design
// contract: callers must be able to swap backends transparently.
func backends() []struct {
	name string
	open func(t *testing.T) Store
} {
	return []struct {
		name string
		open func(t *testing.T) Store
	}{
		{BackendSQLite, func(t *testing.T) Store {
			t.Helper()
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "connect.db"), 3, zap.NewNop())
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{BackendKV, func(t *testing.T) Store {
			t.Helper()
			s, err := OpenFallback(t.TempDir(), 3, zap.NewNop())
			if err != nil {
				t.Fatal(err)
			}
			return s
		}},
	}
}

func seedGroups() []record.Group {
	return []record.Group{
		{ID: "g1", ServerID: "srv-1", Name: "Dorm 4 East", LastMessageAt: 3000, CreatedAt: 100, UpdatedAt: 100, IsSynced: true},
		{ID: "g2", ServerID: "srv-2", Name: "Intro CS Study", LastMessageAt: 2000, CreatedAt: 200, UpdatedAt: 200, IsSynced: true},
		{ID: "g3", Name: "New Match", CreatedAt: 1000, UpdatedAt: 1000},
	}
}

func TestGroupOrdering(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			if err := s.SaveGroups(seedGroups()); err != nil {
				t.Fatal(err)
			}
			groups, err := s.ListGroups()
			if err != nil {
				t.Fatal(err)
			}
			if len(groups) != 3 {
				t.Fatalf("got %d groups, want 3", len(groups))
			}
			// g1 (3000) > g2 (2000) > g3 (created_at 1000 fallback).
			want := []string{"g1", "g2", "g3"}
			for i, id := range want {
				if groups[i].ID != id {
					t.Errorf("groups[%d].ID = %q, want %q", i, groups[i].ID, id)
				}
			}
		})
	}
}

func TestListGroupsEmptyStore(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			groups, err := s.ListGroups()
			if err != nil {
				t.Fatalf("ListGroups() on empty store: %v", err)
			}
			if len(groups) != 0 {
				t.Errorf("got %d groups, want 0", len(groups))
			}
		})
	}
}

// TestUpdateGroupByServerID covers the diagnostic scenario: update the
// second group through its server id and verify the merge leaves order
// untouched.
func TestUpdateGroupByServerID(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			if err := s.SaveGroups(seedGroups()); err != nil {
				t.Fatal(err)
			}
			unread := 5
			if err := s.UpdateGroup("srv-2", record.GroupPatch{UnreadCount: &unread}); err != nil {
				t.Fatal(err)
			}
			groups, err := s.ListGroups()
			if err != nil {
				t.Fatal(err)
			}
			if groups[1].ID != "g2" {
				t.Fatalf("order changed: groups[1].ID = %q, want g2", groups[1].ID)
			}
			if groups[1].UnreadCount != 5 {
				t.Errorf("UnreadCount = %d, want 5", groups[1].UnreadCount)
			}
			if groups[1].Name != "Intro CS Study" {
				t.Errorf("unpatched field changed: Name = %q", groups[1].Name)
			}
			if groups[1].UpdatedAt == 200 {
				t.Error("UpdatedAt was not bumped")
			}
		})
	}
}

func TestUpdateGroupMissingIsNoop(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			if err := s.SaveGroups(seedGroups()); err != nil {
				t.Fatal(err)
			}
			unread := 9
			if err := s.UpdateGroup("srv-nope", record.GroupPatch{UnreadCount: &unread}); err != nil {
				t.Errorf("UpdateGroup(absent) error = %v, want nil", err)
			}
			groups, _ := s.ListGroups()
			for _, g := range groups {
				if g.UnreadCount == 9 {
					t.Errorf("no-op update mutated group %s", g.ID)
				}
			}
		})
	}
}

func TestMessageOrderingAscending(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			msgs := []record.Message{
				{ID: "m2", Body: "second", CreatedAt: 2000},
				{ID: "m1", Body: "first", CreatedAt: 1000},
				{ID: "m3", Body: "third", CreatedAt: 3000},
			}
			if err := s.SaveMessages("g1", msgs); err != nil {
				t.Fatal(err)
			}
			got, err := s.ListMessages("g1")
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"m1", "m2", "m3"}
			if len(got) != 3 {
				t.Fatalf("got %d messages, want 3", len(got))
			}
			for i, id := range want {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestAddMessageAssignsTempID(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			m1, err := s.AddMessage("g1", record.Message{Body: "hello", SenderID: "u1", IsPending: true})
			if err != nil {
				t.Fatal(err)
			}
			m2, err := s.AddMessage("g1", record.Message{Body: "world", SenderID: "u1", IsPending: true})
			if err != nil {
				t.Fatal(err)
			}
			if m1.ID == "" || m2.ID == "" {
				t.Fatal("AddMessage did not assign ids")
			}
			if m1.ID == m2.ID {
				t.Errorf("generated ids collide: %q", m1.ID)
			}
			got, err := s.ListMessages("g1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 {
				t.Errorf("got %d messages, want 2", len(got))
			}
		})
	}
}

// TestAddMessageNoLostUpdate issues overlapping AddMessage calls for the
// same group and verifies every append survives.
func TestAddMessageNoLostUpdate(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			const n = 20
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, err := s.AddMessage("g1", record.Message{Body: fmt.Sprintf("msg %d", i)}); err != nil {
						t.Errorf("AddMessage: %v", err)
					}
				}(i)
			}
			wg.Wait()
			got, err := s.ListMessages("g1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != n {
				t.Errorf("got %d messages, want %d (lost update)", len(got), n)
			}
		})
	}
}

func TestPromptsOrderDescending(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			prompts := []record.Prompt{
				{ID: "p1", Title: "old", CreatedAt: 1000},
				{ID: "p2", Title: "new", CreatedAt: 2000},
			}
			if err := s.SavePrompts(prompts); err != nil {
				t.Fatal(err)
			}
			got, err := s.ListPrompts()
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0].ID != "p2" || got[1].ID != "p1" {
				t.Errorf("prompt order = %v, want [p2 p1]", got)
			}
		})
	}
}

func TestQueueActionDefaults(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			a, err := s.QueueAction(record.ActionMessageSend, []byte(`{"groupId":"g1","body":"hi"}`))
			if err != nil {
				t.Fatal(err)
			}
			if a.RetryCount != 0 {
				t.Errorf("RetryCount = %d, want 0", a.RetryCount)
			}
			if a.MaxRetries != 3 {
				t.Errorf("MaxRetries = %d, want 3", a.MaxRetries)
			}
			if a.ClientKey == "" {
				t.Error("ClientKey is empty")
			}
			if a.IsSynced {
				t.Error("new action must be unsynced")
			}
			pending, err := s.PendingActions()
			if err != nil {
				t.Fatal(err)
			}
			if len(pending) != 1 || pending[0].ID != a.ID {
				t.Errorf("PendingActions() = %v, want [%s]", pending, a.ID)
			}
		})
	}
}

func TestPendingExcludesSyncedAndFailed(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			synced, _ := s.QueueAction(record.ActionReadReceipt, nil)
			failed, _ := s.QueueAction(record.ActionFriendToggle, nil)
			fresh, _ := s.QueueAction(record.ActionFollowToggle, nil)

			if err := s.MarkActionSynced(synced.ID); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 3; i++ {
				if _, err := s.BumpActionRetry(failed.ID, "network error"); err != nil {
					t.Fatal(err)
				}
			}

			pending, err := s.PendingActions()
			if err != nil {
				t.Fatal(err)
			}
			if len(pending) != 1 || pending[0].ID != fresh.ID {
				t.Fatalf("PendingActions() = %v, want only %s", pending, fresh.ID)
			}

			failedList, err := s.FailedActions()
			if err != nil {
				t.Fatal(err)
			}
			if len(failedList) != 1 || failedList[0].ID != failed.ID {
				t.Fatalf("FailedActions() = %v, want only %s", failedList, failed.ID)
			}
			if failedList[0].LastError != "network error" {
				t.Errorf("LastError = %q, want recorded error", failedList[0].LastError)
			}
		})
	}
}

func TestBumpActionRetryCapsAtCeiling(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			a, _ := s.QueueAction(record.ActionMessageSend, nil)
			var last record.Action
			for i := 0; i < 5; i++ {
				var err error
				last, err = s.BumpActionRetry(a.ID, "timeout")
				if err != nil {
					t.Fatal(err)
				}
			}
			if last.RetryCount != last.MaxRetries {
				t.Errorf("RetryCount = %d, want capped at %d", last.RetryCount, last.MaxRetries)
			}
		})
	}
}

func TestActionOpsIdempotentOnAbsentID(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			if err := s.MarkActionSynced("action_0_deadbeef"); err != nil {
				t.Errorf("MarkActionSynced(absent) = %v, want nil", err)
			}
			if err := s.RemoveAction("action_0_deadbeef"); err != nil {
				t.Errorf("RemoveAction(absent) = %v, want nil", err)
			}
		})
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			got, err := s.GetCheckpoint("last_reconcile")
			if err != nil || got != "" {
				t.Errorf("GetCheckpoint(absent) = (%q, %v), want (\"\", nil)", got, err)
			}
			if err := s.SetCheckpoint("last_reconcile", "1700000000000"); err != nil {
				t.Fatal(err)
			}
			got, err = s.GetCheckpoint("last_reconcile")
			if err != nil {
				t.Fatal(err)
			}
			if got != "1700000000000" {
				t.Errorf("GetCheckpoint() = %q", got)
			}
		})
	}
}

func TestCleanupScope(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			if err := s.SaveGroups(seedGroups()); err != nil {
				t.Fatal(err)
			}
			syncedOld, _ := s.QueueAction(record.ActionReadReceipt, nil)
			unsynced, _ := s.QueueAction(record.ActionMessageSend, nil)
			if err := s.MarkActionSynced(syncedOld.ID); err != nil {
				t.Fatal(err)
			}

			// Zero retention makes every synced action "old"; unsynced
			// actions must survive regardless of age.
			time.Sleep(5 * time.Millisecond)
			removed, err := s.Cleanup(0)
			if err != nil {
				t.Fatal(err)
			}
			if removed != 1 {
				t.Errorf("Cleanup removed %d, want 1", removed)
			}
			pending, _ := s.PendingActions()
			if len(pending) != 1 || pending[0].ID != unsynced.ID {
				t.Errorf("unsynced action must survive cleanup, got %v", pending)
			}
			groups, _ := s.ListGroups()
			if len(groups) != 3 {
				t.Errorf("cleanup touched domain records: %d groups left", len(groups))
			}

			// A generous retention keeps recent synced actions.
			recent, _ := s.QueueAction(record.ActionFollowToggle, nil)
			_ = s.MarkActionSynced(recent.ID)
			removed, err = s.Cleanup(time.Hour)
			if err != nil {
				t.Fatal(err)
			}
			if removed != 0 {
				t.Errorf("Cleanup removed %d recent synced actions, want 0", removed)
			}
		})
	}
}

func TestClearAllScope(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			if err := s.SaveGroups(seedGroups()); err != nil {
				t.Fatal(err)
			}
			if _, err := s.AddMessage("g1", record.Message{Body: "hi"}); err != nil {
				t.Fatal(err)
			}
			if _, err := s.QueueAction(record.ActionMessageSend, nil); err != nil {
				t.Fatal(err)
			}

			if err := s.ClearAll(); err != nil {
				t.Fatal(err)
			}
			st, err := s.Stats()
			if err != nil {
				t.Fatal(err)
			}
			if st.Total != 0 {
				t.Errorf("Stats().Total = %d after ClearAll, want 0", st.Total)
			}
			groups, _ := s.ListGroups()
			msgs, _ := s.ListMessages("g1")
			prompts, _ := s.ListPrompts()
			actions, _ := s.PendingActions()
			if len(groups)+len(msgs)+len(prompts)+len(actions) != 0 {
				t.Error("collections not empty after ClearAll")
			}
		})
	}
}

// TestBackendEquivalence replays an identical operation sequence against
// both backends and verifies stats, unsynced counts and orderings agree.
func TestBackendEquivalence(t *testing.T) {
	bs := backends()
	stores := make([]Store, len(bs))
	for i, b := range bs {
		stores[i] = b.open(t)
	}

	for _, s := range stores {
		if err := s.SaveGroups(seedGroups()); err != nil {
			t.Fatal(err)
		}
		if err := s.SaveMessages("g1", []record.Message{
			{ID: "m1", Body: "a", CreatedAt: 100, IsSynced: true},
			{ID: "m2", Body: "b", CreatedAt: 200},
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AddMessage("g2", record.Message{Body: "c", CreatedAt: 300}); err != nil {
			t.Fatal(err)
		}
		if err := s.SavePrompts([]record.Prompt{{ID: "p1", Title: "t", CreatedAt: 10, IsSynced: true}}); err != nil {
			t.Fatal(err)
		}
		a, err := s.QueueAction(record.ActionMessageSend, []byte(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.BumpActionRetry(a.ID, "boom"); err != nil {
			t.Fatal(err)
		}
	}

	stats0, err := stores[0].Stats()
	if err != nil {
		t.Fatal(err)
	}
	stats1, err := stores[1].Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats0 != stats1 {
		t.Errorf("Stats() diverge: %s=%+v %s=%+v", bs[0].name, stats0, bs[1].name, stats1)
	}

	un0, _ := stores[0].UnsyncedCounts()
	un1, _ := stores[1].UnsyncedCounts()
	if un0 != un1 {
		t.Errorf("UnsyncedCounts() diverge: %+v vs %+v", un0, un1)
	}

	g0, _ := stores[0].ListGroups()
	g1, _ := stores[1].ListGroups()
	if len(g0) != len(g1) {
		t.Fatalf("group counts diverge: %d vs %d", len(g0), len(g1))
	}
	for i := range g0 {
		if g0[i].ID != g1[i].ID {
			t.Errorf("group order diverges at %d: %q vs %q", i, g0[i].ID, g1[i].ID)
		}
	}
}

func TestUnsyncedCountsFilter(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			if err := s.SaveGroups(seedGroups()); err != nil { // g3 unsynced
				t.Fatal(err)
			}
			if err := s.SaveMessages("g1", []record.Message{
				{ID: "m1", CreatedAt: 1, IsSynced: true},
				{ID: "m2", CreatedAt: 2},
			}); err != nil {
				t.Fatal(err)
			}
			un, err := s.UnsyncedCounts()
			if err != nil {
				t.Fatal(err)
			}
			if un.Groups != 1 {
				t.Errorf("unsynced groups = %d, want 1", un.Groups)
			}
			if un.Messages != 1 {
				t.Errorf("unsynced messages = %d, want 1", un.Messages)
			}
		})
	}
}

// TestCorruptKeySkippedOnLoad verifies a corrupt durable value downgrades
// to an empty collection with a warning instead of failing initialization.
func TestCorruptKeySkippedOnLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "db_groups.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "db_prompts.json"), []byte(`[{"ID":"p1","CreatedAt":5}]`), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := OpenFallback(dir, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenFallback() error = %v, want corrupt key skipped", err)
	}
	groups, err := s.ListGroups()
	if err != nil || len(groups) != 0 {
		t.Errorf("corrupt collection should start empty, got %v, %v", groups, err)
	}
	prompts, err := s.ListPrompts()
	if err != nil || len(prompts) != 1 {
		t.Errorf("healthy key should still load, got %v, %v", prompts, err)
	}
}

// TestAutoFallsBack covers the capability probe: a SQLite init failure must
// silently downgrade to the key-value backend and keep the store usable.
func TestAutoFallsBack(t *testing.T) {
	tmp := t.TempDir()
	s, err := Open(Options{
		Backend: BackendAuto,
		DBPath:  filepath.Join(tmp, "no", "such", "dir", "connect.db"),
		KVDir:   filepath.Join(tmp, "kv"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v, want fallback", err)
	}
	if s.Backend() != BackendKV {
		t.Errorf("Backend() = %q, want %q", s.Backend(), BackendKV)
	}
	if err := s.SaveGroups(seedGroups()); err != nil {
		t.Fatalf("SaveGroups() on fallback: %v", err)
	}
	groups, err := s.ListGroups()
	if err != nil || len(groups) != 3 {
		t.Errorf("ListGroups() on fallback = %v, %v", groups, err)
	}
}

// TestFallbackSurvivesReopen verifies write-through durability: records
// saved before a process restart are visible after reopening.
func TestFallbackSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := OpenFallback(dir, 3, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.SaveGroups(seedGroups()); err != nil {
		t.Fatal(err)
	}
	if _, err := s1.QueueAction(record.ActionMessageSend, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenFallback(dir, 3, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	groups, _ := s2.ListGroups()
	if len(groups) != 3 {
		t.Errorf("got %d groups after reopen, want 3", len(groups))
	}
	pending, _ := s2.PendingActions()
	if len(pending) != 1 {
		t.Errorf("got %d pending actions after reopen, want 1", len(pending))
	}
}
