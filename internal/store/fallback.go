package store

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tarpai/connect-sync/internal/kv"
	"github.com/tarpai/connect-sync/internal/record"
	"go.uber.org/zap"
)

// Durable key layout for the fallback backend. Each value is a JSON array
// (or map, for checkpoints) of plain records.
const (
	keyGroups      = "db_groups"
	keyPrompts     = "db_prompts"
	keyCategories  = "db_categories"
	keyUsers       = "db_users"
	keyActions     = "db_offline_actions"
	keyCheckpoints = "db_sync_state"
	msgKeyPrefix   = "db_messages_"
)

// FallbackStore is the key-value backend used when SQLite is unavailable.
// A memory cache mirrors the durable store so reads never re-parse JSON.
// Writes go through to disk first and update the cache only on success, so
// cache and disk cannot diverge and a crash after a save loses nothing.
type FallbackStore struct {
	kv         *kv.Store
	logger     *zap.Logger
	maxRetries int

	// writeMu serializes every read-modify-write cycle so two overlapping
	// mutations of the same collection cannot lose an update. mu guards
	// the cache maps for readers.
	writeMu sync.Mutex
	mu      sync.RWMutex

	groups      []record.Group
	messages    map[string][]record.Message
	prompts     []record.Prompt
	categories  []record.Category
	users       []record.User
	actions     []record.Action
	checkpoints map[string]string
}

// OpenFallback opens the key-value backend and eagerly loads every durable
// key into the memory cache. A corrupt key is skipped with a warning and
// its collection starts empty; it never aborts initialization.
func OpenFallback(dir string, maxRetries int, logger *zap.Logger) (*FallbackStore, error) {
	store, err := kv.Open(dir)
	if err != nil {
		return nil, err
	}
	s := &FallbackStore{
		kv:          store,
		logger:      logger,
		maxRetries:  maxRetries,
		messages:    make(map[string][]record.Message),
		checkpoints: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FallbackStore) load() error {
	keys, err := s.kv.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		data, err := s.kv.Get(key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return err
		}
		if err := s.loadKey(key, data); err != nil {
			s.logger.Warn("skipping corrupt cache key", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func (s *FallbackStore) loadKey(key string, data []byte) error {
	switch {
	case key == keyGroups:
		return json.Unmarshal(data, &s.groups)
	case key == keyPrompts:
		return json.Unmarshal(data, &s.prompts)
	case key == keyCategories:
		return json.Unmarshal(data, &s.categories)
	case key == keyUsers:
		return json.Unmarshal(data, &s.users)
	case key == keyActions:
		return json.Unmarshal(data, &s.actions)
	case key == keyCheckpoints:
		return json.Unmarshal(data, &s.checkpoints)
	case strings.HasPrefix(key, msgKeyPrefix):
		var msgs []record.Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return err
		}
		s.messages[strings.TrimPrefix(key, msgKeyPrefix)] = msgs
		return nil
	default:
		// Unknown keys are left alone; another component may own them.
		return nil
	}
}

// Backend reports the active backend for diagnostics display.
func (s *FallbackStore) Backend() string { return BackendKV }

// Close is a no-op; the key-value store holds no open handles.
func (s *FallbackStore) Close() error { return nil }

// persist writes the value durably, then returns it for cache assignment.
// Callers must only update the cache when persist succeeds.
func (s *FallbackStore) persist(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.kv.Set(key, data)
}

// ListGroups returns groups sorted by last message time descending,
// falling back to creation time.
func (s *FallbackStore) ListGroups() ([]record.Group, error) {
	s.mu.RLock()
	groups := make([]record.Group, len(s.groups))
	copy(groups, s.groups)
	s.mu.RUnlock()

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].SortKey() > groups[j].SortKey()
	})
	return groups, nil
}

// SaveGroups replaces the whole group set, write-through.
func (s *FallbackStore) SaveGroups(groups []record.Group) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UnixMilli()
	next := make([]record.Group, len(groups))
	for i, g := range groups {
		if g.ID == "" {
			g.ID = record.TempID()
		}
		if g.CreatedAt == 0 {
			g.CreatedAt = now
		}
		if g.UpdatedAt == 0 {
			g.UpdatedAt = now
		}
		next[i] = g
	}
	if err := s.persist(keyGroups, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.groups = next
	s.mu.Unlock()
	return nil
}

// UpdateGroup merges patch into the group matching id by local or server
// id. Absent groups are a no-op.
func (s *FallbackStore) UpdateGroup(id string, patch record.GroupPatch) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := make([]record.Group, len(s.groups))
	copy(next, s.groups)
	s.mu.RUnlock()

	found := false
	for i := range next {
		if next[i].ID == id || (next[i].ServerID != "" && next[i].ServerID == id) {
			patch.Apply(&next[i])
			next[i].UpdatedAt = time.Now().UnixMilli()
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	if err := s.persist(keyGroups, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.groups = next
	s.mu.Unlock()
	return nil
}

// ListMessages returns a group's messages sorted by creation time ascending.
func (s *FallbackStore) ListMessages(groupID string) ([]record.Message, error) {
	s.mu.RLock()
	msgs := make([]record.Message, len(s.messages[groupID]))
	copy(msgs, s.messages[groupID])
	s.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
	return msgs, nil
}

// SaveMessages replaces the group's message list, write-through.
func (s *FallbackStore) SaveMessages(groupID string, msgs []record.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UnixMilli()
	next := make([]record.Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = record.TempID()
		}
		m.GroupID = groupID
		if m.CreatedAt == 0 {
			m.CreatedAt = now
		}
		if m.UpdatedAt == 0 {
			m.UpdatedAt = now
		}
		next[i] = m
	}
	if err := s.persist(msgKeyPrefix+groupID, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.messages[groupID] = next
	s.mu.Unlock()
	return nil
}

// AddMessage appends one message to the group, assigning a temporary local
// id when the message has none.
func (s *FallbackStore) AddMessage(groupID string, m record.Message) (record.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UnixMilli()
	if m.ID == "" {
		m.ID = record.TempID()
	}
	m.GroupID = groupID
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	s.mu.RLock()
	next := make([]record.Message, len(s.messages[groupID]), len(s.messages[groupID])+1)
	copy(next, s.messages[groupID])
	s.mu.RUnlock()
	next = append(next, m)

	if err := s.persist(msgKeyPrefix+groupID, next); err != nil {
		return record.Message{}, err
	}
	s.mu.Lock()
	s.messages[groupID] = next
	s.mu.Unlock()
	return m, nil
}

// ListPrompts returns prompts sorted by creation time descending.
func (s *FallbackStore) ListPrompts() ([]record.Prompt, error) {
	s.mu.RLock()
	prompts := make([]record.Prompt, len(s.prompts))
	copy(prompts, s.prompts)
	s.mu.RUnlock()

	sort.SliceStable(prompts, func(i, j int) bool {
		return prompts[i].CreatedAt > prompts[j].CreatedAt
	})
	return prompts, nil
}

// SavePrompts replaces the prompt set, write-through.
func (s *FallbackStore) SavePrompts(prompts []record.Prompt) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := stampPrompts(prompts)
	if err := s.persist(keyPrompts, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.prompts = next
	s.mu.Unlock()
	return nil
}

func stampPrompts(prompts []record.Prompt) []record.Prompt {
	now := time.Now().UnixMilli()
	next := make([]record.Prompt, len(prompts))
	for i, p := range prompts {
		if p.ID == "" {
			p.ID = record.TempID()
		}
		if p.CreatedAt == 0 {
			p.CreatedAt = now
		}
		if p.UpdatedAt == 0 {
			p.UpdatedAt = now
		}
		next[i] = p
	}
	return next
}

// ListCategories returns cached categories sorted by creation time descending.
func (s *FallbackStore) ListCategories() ([]record.Category, error) {
	s.mu.RLock()
	categories := make([]record.Category, len(s.categories))
	copy(categories, s.categories)
	s.mu.RUnlock()

	sort.SliceStable(categories, func(i, j int) bool {
		return categories[i].CreatedAt > categories[j].CreatedAt
	})
	return categories, nil
}

// SaveCategories replaces the category set, write-through.
func (s *FallbackStore) SaveCategories(categories []record.Category) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UnixMilli()
	next := make([]record.Category, len(categories))
	for i, c := range categories {
		if c.ID == "" {
			c.ID = record.TempID()
		}
		if c.CreatedAt == 0 {
			c.CreatedAt = now
		}
		if c.UpdatedAt == 0 {
			c.UpdatedAt = now
		}
		next[i] = c
	}
	if err := s.persist(keyCategories, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.categories = next
	s.mu.Unlock()
	return nil
}

// ListUsers returns cached user profiles sorted by creation time descending.
func (s *FallbackStore) ListUsers() ([]record.User, error) {
	s.mu.RLock()
	users := make([]record.User, len(s.users))
	copy(users, s.users)
	s.mu.RUnlock()

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt > users[j].CreatedAt
	})
	return users, nil
}

// SaveUsers replaces the cached user set, write-through.
func (s *FallbackStore) SaveUsers(users []record.User) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UnixMilli()
	next := make([]record.User, len(users))
	for i, u := range users {
		if u.ID == "" {
			u.ID = record.TempID()
		}
		if u.CreatedAt == 0 {
			u.CreatedAt = now
		}
		if u.UpdatedAt == 0 {
			u.UpdatedAt = now
		}
		next[i] = u
	}
	if err := s.persist(keyUsers, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.users = next
	s.mu.Unlock()
	return nil
}
