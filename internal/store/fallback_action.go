package store

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tarpai/connect-sync/internal/record"
)

// QueueAction persists a new offline action with retry count zero.
func (s *FallbackStore) QueueAction(kind record.ActionKind, payload []byte) (record.Action, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(payload) == 0 {
		payload = []byte("{}")
	}
	now := time.Now().UnixMilli()
	a := record.Action{
		ID:         record.ActionID(),
		ClientKey:  uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	next := s.copyActions()
	next = append(next, a)
	if err := s.persist(keyActions, next); err != nil {
		return record.Action{}, err
	}
	s.mu.Lock()
	s.actions = next
	s.mu.Unlock()
	return a, nil
}

// PendingActions returns unsynced actions below their retry ceiling, in
// enqueue order.
func (s *FallbackStore) PendingActions() ([]record.Action, error) {
	return s.filterActions(record.Action.Pending), nil
}

// FailedActions returns terminal actions that exhausted their retries.
func (s *FallbackStore) FailedActions() ([]record.Action, error) {
	return s.filterActions(record.Action.Failed), nil
}

func (s *FallbackStore) filterActions(keep func(record.Action) bool) []record.Action {
	s.mu.RLock()
	var out []record.Action
	for _, a := range s.actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

// MarkActionSynced flips the action to synced. Absent ids are a no-op.
func (s *FallbackStore) MarkActionSynced(id string) error {
	return s.mutateAction(id, func(a *record.Action) {
		a.IsSynced = true
	})
}

// BumpActionRetry increments the retry counter, capped at max_retries, and
// returns the updated action.
func (s *FallbackStore) BumpActionRetry(id, errMsg string) (record.Action, error) {
	var updated record.Action
	err := s.mutateAction(id, func(a *record.Action) {
		if a.RetryCount < a.MaxRetries {
			a.RetryCount++
		}
		a.LastError = errMsg
		updated = *a
	})
	return updated, err
}

func (s *FallbackStore) mutateAction(id string, fn func(*record.Action)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.copyActions()
	found := false
	for i := range next {
		if next[i].ID == id {
			fn(&next[i])
			next[i].UpdatedAt = time.Now().UnixMilli()
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	if err := s.persist(keyActions, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.actions = next
	s.mu.Unlock()
	return nil
}

// RemoveAction deletes the action. Absent ids are a no-op.
func (s *FallbackStore) RemoveAction(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.copyActions()
	out := next[:0]
	for _, a := range next {
		if a.ID != id {
			out = append(out, a)
		}
	}
	if len(out) == len(next) {
		return nil
	}
	if err := s.persist(keyActions, out); err != nil {
		return err
	}
	s.mu.Lock()
	s.actions = out
	s.mu.Unlock()
	return nil
}

// ClearActions empties the action queue unconditionally.
func (s *FallbackStore) ClearActions() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persist(keyActions, []record.Action{}); err != nil {
		return err
	}
	s.mu.Lock()
	s.actions = nil
	s.mu.Unlock()
	return nil
}

// Cleanup deletes synced actions older than the retention window.
func (s *FallbackStore) Cleanup(retention time.Duration) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cutoff := time.Now().Add(-retention).UnixMilli()
	next := s.copyActions()
	out := next[:0]
	removed := 0
	for _, a := range next {
		if a.IsSynced && a.CreatedAt < cutoff {
			removed++
			continue
		}
		out = append(out, a)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(keyActions, out); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.actions = out
	s.mu.Unlock()
	return removed, nil
}

// SetCheckpoint upserts a reconciliation cursor.
func (s *FallbackStore) SetCheckpoint(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := make(map[string]string, len(s.checkpoints)+1)
	for k, v := range s.checkpoints {
		next[k] = v
	}
	s.mu.RUnlock()
	next[key] = value

	if err := s.persist(keyCheckpoints, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.checkpoints = next
	s.mu.Unlock()
	return nil
}

// GetCheckpoint returns the cursor value, or "" when the key is absent.
func (s *FallbackStore) GetCheckpoint(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[key], nil
}

// Stats returns aggregate record counts computed from a stable snapshot.
func (s *FallbackStore) Stats() (record.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := record.Stats{
		Groups:     len(s.groups),
		Prompts:    len(s.prompts),
		Categories: len(s.categories),
		Users:      len(s.users),
		Actions:    len(s.actions),
	}
	for _, msgs := range s.messages {
		st.Messages += len(msgs)
	}
	st.Total = st.Groups + st.Messages + st.Prompts + st.Categories + st.Users + st.Actions
	return st, nil
}

// UnsyncedCounts returns the same aggregation filtered to unsynced records.
func (s *FallbackStore) UnsyncedCounts() (record.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st record.Stats
	for _, g := range s.groups {
		if !g.IsSynced {
			st.Groups++
		}
	}
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if !m.IsSynced {
				st.Messages++
			}
		}
	}
	for _, p := range s.prompts {
		if !p.IsSynced {
			st.Prompts++
		}
	}
	for _, c := range s.categories {
		if !c.IsSynced {
			st.Categories++
		}
	}
	for _, u := range s.users {
		if !u.IsSynced {
			st.Users++
		}
	}
	for _, a := range s.actions {
		if !a.IsSynced {
			st.Actions++
		}
	}
	st.Total = st.Groups + st.Messages + st.Prompts + st.Categories + st.Users + st.Actions
	return st, nil
}

// ClearAll drops every record in every collection, durably first.
func (s *FallbackStore) ClearAll() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.kv.Clear(); err != nil {
		return err
	}
	s.mu.Lock()
	s.groups = nil
	s.messages = make(map[string][]record.Message)
	s.prompts = nil
	s.categories = nil
	s.users = nil
	s.actions = nil
	s.checkpoints = make(map[string]string)
	s.mu.Unlock()
	return nil
}

// copyActions snapshots the action list. Callers hold writeMu.
func (s *FallbackStore) copyActions() []record.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next := make([]record.Action, len(s.actions))
	copy(next, s.actions)
	return next
}
