package model

import "time"

// RankEntry is one line of a rank snapshot.
type RankEntry struct {
	EntityID string  `json:"entityId"`
	Name     string  `json:"name,omitempty"`
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	Scored   bool    `json:"scored"`
}

// RankSnapshot is the daily rank ordering. Immutable once stored.
type RankSnapshot struct {
	Date Date `json:"date"`
	// SourceDate is the day whose records were ranked; it is Date-1 when
	// Date had no data.
	SourceDate Date        `json:"sourceDate"`
	Entries    []RankEntry `json:"entries"`
	// Complete is true when every provider checkpoint for SourceDate
	// had reached COMPLETED at ranking time.
	Complete bool `json:"complete"`
	// Synthesized snapshots are built on read when no snapshot exists;
	// they are never stored.
	Synthesized bool      `json:"synthesized,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Entry returns the entry of an entity.
func (s *RankSnapshot) Entry(entityID string) (RankEntry, bool) {
	for _, e := range s.Entries {
		if e.EntityID == entityID {
			return e, true
		}
	}
	return RankEntry{}, false
}

// Top returns at most limit entries from the head of the ordering.
// A non-positive limit returns every entry.
func (s *RankSnapshot) Top(limit int) []RankEntry {
	if limit <= 0 || limit >= len(s.Entries) {
		return s.Entries
	}
	return s.Entries[:limit]
}
