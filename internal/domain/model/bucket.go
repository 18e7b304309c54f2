package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/popscore/internal/domain/sortedset"
)

// Resolution of an aggregate bucket.
type Resolution string

const (
	Weekly  Resolution = "weekly"
	Monthly Resolution = "monthly"
	Yearly  Resolution = "yearly"
)

// Resolutions returns every resolution, finest first.
func Resolutions() []Resolution {
	return []Resolution{Weekly, Monthly, Yearly}
}

// PeriodKey returns the bucket key of d at resolution r.
func (r Resolution) PeriodKey(d Date) string {
	switch r {
	case Weekly:
		return d.WeekKey()
	case Monthly:
		return d.MonthKey()
	case Yearly:
		return d.YearKey()
	}
	return ""
}

// ParsePeriodKey splits weekly#2024-W05 into its resolution and period.
func ParsePeriodKey(key string) (Resolution, string, error) {
	res, period, ok := strings.Cut(key, "#")
	if !ok || period == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownPeriod, key)
	}
	for _, r := range Resolutions() {
		if Resolution(res) == r {
			return r, period, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownPeriod, key)
}

// FieldCounts mirrors a popularity object with the number of records that
// contributed to each field. Keys are PopularityFields names.
type FieldCounts map[string]int

// AggregateBucket is a weekly, monthly or yearly summary of one entity.
// Buckets are only ever merged into, never replaced.
type AggregateBucket struct {
	EntityID   string     `json:"entityId"`
	PeriodKey  string     `json:"periodKey"`
	Resolution Resolution `json:"resolution"`
	Period     string     `json:"period"`
	Kind       EntityKind `json:"kind"`
	Name       string     `json:"name"`
	Count      int        `json:"count"`

	PopularitySum     Popularity  `json:"popularitySum"`
	PopularityAvg     Popularity  `json:"popularityAvg"`
	PopularityCount   FieldCounts `json:"popularityCount"`
	UIPopularitySum   Popularity  `json:"uiPopularitySum"`
	UIPopularityAvg   Popularity  `json:"uiPopularityAvg"`
	UIPopularityCount FieldCounts `json:"uiPopularityCount"`

	// Months holds the distinct YYYY-MM tags seen; yearly buckets only.
	Months sortedset.Set `json:"months"`
	// Folded holds the entityId#date ids of every record already merged.
	Folded sortedset.Set `json:"folded"`

	LastDate  Date      `json:"lastDate"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Divisor returns the denominator of the bucket averages: 7 for weekly,
// the folded day count for monthly and the distinct month count for yearly.
func (b *AggregateBucket) Divisor() int {
	switch b.Resolution {
	case Weekly:
		return 7
	case Monthly:
		return b.Count
	case Yearly:
		return b.Months.Len()
	}
	return 0
}

// Score returns the average used for period ranking: UI total, falling
// back to the raw total.
func (b *AggregateBucket) Score() (float64, bool) {
	if v, ok := b.UIPopularityAvg.Score(); ok {
		return v, true
	}
	return b.PopularityAvg.Score()
}
