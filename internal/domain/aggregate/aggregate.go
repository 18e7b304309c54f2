// Package aggregate folds daily metric records into weekly, monthly and
// yearly buckets.
//
// Folding happens in two steps. Fold groups a window of records into
// in-memory partials, one per (entity, period key). Absorb then merges a
// partial into the stored bucket additively. Each bucket remembers the ids
// of the records it has absorbed, so replaying an overlapping window never
// counts a record twice.
package aggregate

import (
	"sort"
	"time"

	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/internal/domain/sortedset"
)

// Contribution is the share of one daily record in one bucket.
type Contribution struct {
	RecordID     string
	Date         model.Date
	Popularity   model.Popularity
	UIPopularity model.Popularity
}

// Partial collects the contributions for one (entity, period key).
type Partial struct {
	EntityID   string
	PeriodKey  string
	Resolution model.Resolution
	Period     string
	Kind       model.EntityKind
	Name       string
	LastDate   model.Date

	Contributions []Contribution
	seen          map[string]struct{}
}

// Add appends a record to the partial. A record id already present is
// ignored.
func (p *Partial) Add(r *model.DailyMetricRecord) {
	id := r.ID()
	if _, dup := p.seen[id]; dup {
		return
	}
	p.seen[id] = struct{}{}
	p.Contributions = append(p.Contributions, Contribution{
		RecordID:     id,
		Date:         r.Date,
		Popularity:   r.Popularity.Clone(),
		UIPopularity: r.UIPopularity.Clone(),
	})
	if r.Date.Before(p.LastDate) {
		return
	}
	// latest non-numeric fields win
	p.LastDate = r.Date
	if r.Name != "" {
		p.Name = r.Name
	}
	if r.Kind != "" {
		p.Kind = r.Kind
	}
}

// Count returns the number of contributions.
func (p *Partial) Count() int { return len(p.Contributions) }

// Fold groups records into partials for every resolution. Records are
// applied in date order so the latest name wins. The result is sorted by
// entity id, then resolution (weekly, monthly, yearly), then period key.
func Fold(records []model.DailyMetricRecord) []*Partial {
	ordered := make([]*model.DailyMetricRecord, 0, len(records))
	for i := range records {
		ordered = append(ordered, &records[i])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	type key struct{ entity, period string }
	byKey := make(map[key]*Partial)
	var out []*Partial

	for _, r := range ordered {
		for _, res := range model.Resolutions() {
			pk := res.PeriodKey(r.Date)
			k := key{entity: r.EntityID, period: pk}
			p, ok := byKey[k]
			if !ok {
				_, period, _ := model.ParsePeriodKey(pk)
				p = &Partial{
					EntityID:   r.EntityID,
					PeriodKey:  pk,
					Resolution: res,
					Period:     period,
					seen:       make(map[string]struct{}),
				}
				byKey[k] = p
				out = append(out, p)
			}
			p.Add(r)
		}
	}

	rank := map[model.Resolution]int{model.Weekly: 0, model.Monthly: 1, model.Yearly: 2}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Resolution != b.Resolution {
			return rank[a.Resolution] < rank[b.Resolution]
		}
		return a.PeriodKey < b.PeriodKey
	})
	return out
}

// NewBucket returns an empty bucket for a partial's key.
func NewBucket(p *Partial) model.AggregateBucket {
	return model.AggregateBucket{
		EntityID:          p.EntityID,
		PeriodKey:         p.PeriodKey,
		Resolution:        p.Resolution,
		Period:            p.Period,
		Kind:              p.Kind,
		Name:              p.Name,
		PopularityCount:   model.FieldCounts{},
		UIPopularityCount: model.FieldCounts{},
		Months:            sortedset.New(),
		Folded:            sortedset.New(),
	}
}

// Absorb merges the contributions of p that b has not folded yet, then
// recomputes the averages. It returns how many contributions were applied
// and how many were skipped as already folded.
func Absorb(b *model.AggregateBucket, p *Partial, now time.Time) (applied, skipped int) {
	if b.PopularityCount == nil {
		b.PopularityCount = model.FieldCounts{}
	}
	if b.UIPopularityCount == nil {
		b.UIPopularityCount = model.FieldCounts{}
	}

	prevLast := b.LastDate
	for i := range p.Contributions {
		c := &p.Contributions[i]
		if b.Folded.Contains(c.RecordID) {
			skipped++
			continue
		}
		b.Folded.Add(c.RecordID)
		b.Count++
		addInto(&b.PopularitySum, b.PopularityCount, &c.Popularity)
		addInto(&b.UIPopularitySum, b.UIPopularityCount, &c.UIPopularity)
		if b.Resolution == model.Yearly {
			b.Months.Add(c.Date.MonthTag())
		}
		if !c.Date.Before(b.LastDate) {
			b.LastDate = c.Date
		}
		applied++
	}

	if applied > 0 && !p.LastDate.Before(prevLast) {
		if p.Name != "" {
			b.Name = p.Name
		}
		if p.Kind != "" {
			b.Kind = p.Kind
		}
	}
	if applied > 0 {
		b.UpdatedAt = now
	}
	Recompute(b)
	return applied, skipped
}

// Recompute derives the averages from the sums using the resolution
// divisor. Fields with no sum, or a bucket with a zero divisor, have no
// average.
func Recompute(b *model.AggregateBucket) {
	div := b.Divisor()
	b.PopularityAvg = average(&b.PopularitySum, div)
	b.UIPopularityAvg = average(&b.UIPopularitySum, div)
}

func addInto(sum *model.Popularity, counts model.FieldCounts, v *model.Popularity) {
	for _, f := range model.PopularityFields {
		x := f.Get(v)
		if x == nil {
			continue
		}
		cur := 0.0
		if s := f.Get(sum); s != nil {
			cur = *s
		}
		f.Set(sum, model.Float(cur+*x))
		counts[f.Name]++
	}
}

func average(sum *model.Popularity, div int) model.Popularity {
	var avg model.Popularity
	if div <= 0 {
		return avg
	}
	for _, f := range model.PopularityFields {
		if s := f.Get(sum); s != nil {
			f.Set(&avg, model.Float(*s/float64(div)))
		}
	}
	return avg
}
