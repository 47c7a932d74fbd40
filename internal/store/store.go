// Package store persists typed local records with per-record sync flags.
// Two interchangeable backends satisfy the same Store contract: a SQLite
// backend used when the platform supports it, and a key-value fallback
// layered over a flat durable store with a write-through memory cache.
package store

import (
	"time"

	"github.com/tarpai/connect-sync/internal/record"
	"go.uber.org/zap"
)

// Backend identifiers exposed through Store.Backend for diagnostics.
const (
	BackendSQLite = "sqlite"
	BackendKV     = "kv"
	BackendAuto   = "auto"
)

// DefaultMaxRetries is the retry ceiling assigned to queued actions.
const DefaultMaxRetries = 3

// DefaultRetention is how long synced offline actions are kept before
// Cleanup removes them.
const DefaultRetention = 30 * 24 * time.Hour

// Store is the contract both backends implement. Implementations must
// produce identical query results (sort order, filtering) so callers can
// swap backends transparently; the only backend-visible difference is the
// Backend() capability flag.
type Store interface {
	// Groups are ordered by last message time, falling back to creation
	// time, descending. SaveGroups atomically replaces the whole set.
	// UpdateGroup matches by local or server id and is a no-op when the
	// group is absent.
	ListGroups() ([]record.Group, error)
	SaveGroups(groups []record.Group) error
	UpdateGroup(id string, patch record.GroupPatch) error

	// Messages within a group are ordered by creation time ascending.
	// AddMessage assigns a temp_<ts>_<rand> id when the message has none.
	ListMessages(groupID string) ([]record.Message, error)
	SaveMessages(groupID string, msgs []record.Message) error
	AddMessage(groupID string, m record.Message) (record.Message, error)

	// Prompts are ordered by creation time descending.
	ListPrompts() ([]record.Prompt, error)
	SavePrompts(prompts []record.Prompt) error

	ListCategories() ([]record.Category, error)
	SaveCategories(categories []record.Category) error

	ListUsers() ([]record.User, error)
	SaveUsers(users []record.User) error

	// QueueAction assigns an action_<ts>_<rand> id, a uuid client key and
	// retryCount 0. PendingActions returns unsynced actions below their
	// retry ceiling in enqueue order; FailedActions returns the terminal
	// ones. MarkActionSynced and RemoveAction are idempotent no-ops for
	// absent ids. BumpActionRetry never raises retryCount past maxRetries.
	QueueAction(kind record.ActionKind, payload []byte) (record.Action, error)
	PendingActions() ([]record.Action, error)
	FailedActions() ([]record.Action, error)
	MarkActionSynced(id string) error
	BumpActionRetry(id, errMsg string) (record.Action, error)
	RemoveAction(id string) error
	ClearActions() error

	// Checkpoints hold reconciliation cursors. GetCheckpoint returns ""
	// without error when the key is absent.
	SetCheckpoint(key, value string) error
	GetCheckpoint(key string) (string, error)

	// Stats and UnsyncedCounts aggregate from stable snapshots and are
	// safe to call concurrently with writes.
	Stats() (record.Stats, error)
	UnsyncedCounts() (record.Stats, error)

	// ClearAll drops every record in every collection. Cleanup deletes
	// only synced actions older than the retention window and reports how
	// many were removed; domain records are never auto-deleted.
	ClearAll() error
	Cleanup(retention time.Duration) (int, error)

	Backend() string
	Close() error
}

// Options configure Open.
type Options struct {
	Backend    string // BackendAuto, BackendSQLite or BackendKV
	DBPath     string // SQLite database file
	KVDir      string // fallback key-value directory
	MaxRetries int    // per-action retry ceiling; 0 means DefaultMaxRetries
}

// Open selects a backend. With BackendAuto it probes SQLite first and
// falls back to the key-value store when initialization fails; the
// downgrade is logged, never fatal.
func Open(opts Options, logger *zap.Logger) (Store, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	switch opts.Backend {
	case BackendSQLite:
		return OpenSQLite(opts.DBPath, opts.MaxRetries, logger)
	case BackendKV:
		return OpenFallback(opts.KVDir, opts.MaxRetries, logger)
	default:
		s, err := OpenSQLite(opts.DBPath, opts.MaxRetries, logger)
		if err != nil {
			logger.Warn("structured store unavailable, falling back to key-value store",
				zap.String("db_path", opts.DBPath),
				zap.Error(err))
			return OpenFallback(opts.KVDir, opts.MaxRetries, logger)
		}
		return s, nil
	}
}
