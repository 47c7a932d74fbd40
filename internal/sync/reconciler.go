package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tarpai/connect-sync/internal/record"
	"github.com/tarpai/connect-sync/internal/remote"
	"github.com/tarpai/connect-sync/internal/store"
)

// checkpointReconcile records when the last reconcile finished.
const checkpointReconcile = "last_reconcile"

// Reconciler pulls server state and merges it into the local store. The
// server wins for synced records; local-only records that have not been
// transmitted yet survive the merge.
type Reconciler struct {
	store  store.Store
	remote remote.Client
	logger *zap.Logger
}

func NewReconciler(st store.Store, rc remote.Client, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: st, remote: rc, logger: logger}
}

// Reconcile replaces local group state with the server's view, keeping
// local ids stable for known groups and preserving unsynced local-only
// groups awaiting transmission.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	serverGroups, err := r.remote.FetchGroups(ctx)
	if err != nil {
		return fmt.Errorf("fetch groups: %w", err)
	}
	local, err := r.store.ListGroups()
	if err != nil {
		return fmt.Errorf("list local groups: %w", err)
	}

	byServerID := make(map[string]record.Group, len(local))
	for _, g := range local {
		if g.ServerID != "" {
			byServerID[g.ServerID] = g
		}
	}

	merged := make([]record.Group, 0, len(serverGroups))
	for _, sg := range serverGroups {
		if lg, ok := byServerID[sg.ServerID]; ok {
			// Keep the local id stable so references (messages, UI
			// selections) survive the merge.
			sg.ID = lg.ID
			sg.CreatedAt = lg.CreatedAt
		}
		merged = append(merged, sg)
	}
	for _, lg := range local {
		if !lg.IsSynced && lg.ServerID == "" {
			merged = append(merged, lg)
		}
	}

	if err := r.store.SaveGroups(merged); err != nil {
		return fmt.Errorf("save merged groups: %w", err)
	}
	r.logger.Info("reconciled groups",
		zap.Int("server", len(serverGroups)),
		zap.Int("merged", len(merged)))

	cursor := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return r.store.SetCheckpoint(checkpointReconcile, cursor)
}
