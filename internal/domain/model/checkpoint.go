package model

import (
	"time"

	"github.com/okian/popscore/internal/domain/sortedset"
)

// CheckpointStatus tracks collection progress for a (date, provider) pair.
type CheckpointStatus string

const (
	CheckpointNotStarted CheckpointStatus = "NOT_STARTED"
	CheckpointInProgress CheckpointStatus = "IN_PROGRESS"
	CheckpointCompleted  CheckpointStatus = "COMPLETED"
)

// Code is the numeric form used by gauges.
func (s CheckpointStatus) Code() int {
	switch s {
	case CheckpointInProgress:
		return 1
	case CheckpointCompleted:
		return 2
	}
	return 0
}

// CheckpointRecord is the durable progress marker shared by every collector
// invocation working on the same logical day and provider.
type CheckpointRecord struct {
	Date      Date             `json:"date"`
	Provider  ProviderID       `json:"provider"`
	Merged    sortedset.Set    `json:"merged"`
	Status    CheckpointStatus `json:"status"`
	Version   uint64           `json:"version"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Completed reports whether the pair is finished for the day.
func (c *CheckpointRecord) Completed() bool {
	return c != nil && c.Status == CheckpointCompleted
}
