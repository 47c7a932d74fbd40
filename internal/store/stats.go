package store

import (
	"fmt"

	"github.com/tarpai/connect-sync/internal/record"
)

// Stats returns aggregate record counts across all collections.
func (s *SQLiteStore) Stats() (record.Stats, error) {
	return s.countAll("")
}

// UnsyncedCounts returns the same aggregation filtered to unsynced records.
func (s *SQLiteStore) UnsyncedCounts() (record.Stats, error) {
	return s.countAll(" WHERE is_synced = 0")
}

func (s *SQLiteStore) countAll(where string) (record.Stats, error) {
	var st record.Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"groups", &st.Groups},
		{"messages", &st.Messages},
		{"prompts", &st.Prompts},
		{"categories", &st.Categories},
		{"users", &st.Users},
		{"offline_actions", &st.Actions},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table + where).Scan(c.dst); err != nil {
			return record.Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	st.Total = st.Groups + st.Messages + st.Prompts + st.Categories + st.Users + st.Actions
	return st, nil
}
