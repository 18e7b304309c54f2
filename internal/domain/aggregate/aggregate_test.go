package aggregate

import (
	"testing"
	"time"

	"github.com/okian/popscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func record(entity, date string, total float64) model.DailyMetricRecord {
	r := model.DailyMetricRecord{
		EntityID:  entity,
		Date:      model.MustParseDate(date),
		Kind:      model.KindDatabase,
		Name:      entity,
		IncludeMe: true,
	}
	r.Popularity.SetSub(model.GitHub, total)
	r.Popularity.Total = model.Float(total)
	r.UIPopularity.Total = model.Float(total)
	return r
}

func partialFor(parts []*Partial, entity, key string) *Partial {
	for _, p := range parts {
		if p.EntityID == entity && p.PeriodKey == key {
			return p
		}
	}
	return nil
}

func absorbAll(parts []*Partial, key string, buckets map[string]*model.AggregateBucket, now time.Time) (applied, skipped int) {
	for _, p := range parts {
		if p.PeriodKey != key {
			continue
		}
		b, ok := buckets[p.EntityID]
		if !ok {
			nb := NewBucket(p)
			b = &nb
			buckets[p.EntityID] = b
		}
		a, s := Absorb(b, p, now)
		applied += a
		skipped += s
	}
	return applied, skipped
}

func TestFold(t *testing.T) {
	Convey("Given records of one entity across a month boundary", t, func() {
		records := []model.DailyMetricRecord{
			record("pg", "2024-02-01", 3),
			record("pg", "2024-01-31", 2),
		}
		records[0].Name = "PostgreSQL 16"

		parts := Fold(records)

		Convey("Then every record lands in a weekly, monthly and yearly partial", func() {
			So(len(parts), ShouldEqual, 4)
			So(partialFor(parts, "pg", "weekly#2024-W05").Count(), ShouldEqual, 2)
			So(partialFor(parts, "pg", "monthly#2024-01").Count(), ShouldEqual, 1)
			So(partialFor(parts, "pg", "monthly#2024-02").Count(), ShouldEqual, 1)
			So(partialFor(parts, "pg", "yearly#2024").Count(), ShouldEqual, 2)
		})

		Convey("And partials are ordered by resolution then period", func() {
			keys := make([]string, 0, len(parts))
			for _, p := range parts {
				keys = append(keys, p.PeriodKey)
			}
			So(keys, ShouldResemble, []string{"weekly#2024-W05", "monthly#2024-01", "monthly#2024-02", "yearly#2024"})
		})

		Convey("And the name of the latest record wins", func() {
			So(partialFor(parts, "pg", "yearly#2024").Name, ShouldEqual, "PostgreSQL 16")
		})
	})

	Convey("Given the same record twice in one window", t, func() {
		parts := Fold([]model.DailyMetricRecord{record("a", "2024-01-01", 1), record("a", "2024-01-01", 1)})

		Convey("Then it contributes once", func() {
			So(partialFor(parts, "a", "monthly#2024-01").Count(), ShouldEqual, 1)
		})
	})
}

func TestWeeklyScenario(t *testing.T) {
	Convey("Given A scoring 10,20,30 and B scoring 5,5,5 on three days of one week", t, func() {
		records := []model.DailyMetricRecord{
			record("A", "2024-01-01", 10), record("A", "2024-01-02", 20), record("A", "2024-01-03", 30),
			record("B", "2024-01-01", 5), record("B", "2024-01-02", 5), record("B", "2024-01-03", 5),
		}
		buckets := map[string]*model.AggregateBucket{}
		absorbAll(Fold(records), "weekly#2024-W01", buckets, time.Now())

		Convey("Then the weekly averages divide by seven", func() {
			a, b := buckets["A"], buckets["B"]
			So(a.Count, ShouldEqual, 3)
			So(*a.PopularitySum.Total, ShouldEqual, 60)
			So(*a.PopularityAvg.Total, ShouldAlmostEqual, 60.0/7, 1e-9)
			So(*b.PopularityAvg.Total, ShouldAlmostEqual, 15.0/7, 1e-9)
			So(*a.UIPopularityAvg.Total, ShouldBeGreaterThan, *b.UIPopularityAvg.Total)
		})

		Convey("And the per-field count mirror tracks contributions", func() {
			So(buckets["A"].PopularityCount["total"], ShouldEqual, 3)
			So(buckets["A"].PopularityCount["github"], ShouldEqual, 3)
			So(buckets["A"].PopularityCount["google"], ShouldEqual, 0)
		})
	})
}

func TestDivisors(t *testing.T) {
	Convey("Given daily records spanning exactly three months of one year", t, func() {
		var records []model.DailyMetricRecord
		for _, d := range []string{"2024-01-05", "2024-01-06", "2024-02-10", "2024-03-01", "2024-03-02", "2024-03-03"} {
			records = append(records, record("pg", d, 6))
		}
		parts := Fold(records)
		yearly := NewBucket(partialFor(parts, "pg", "yearly#2024"))
		Absorb(&yearly, partialFor(parts, "pg", "yearly#2024"), time.Now())

		Convey("Then the yearly average divides by the month count, not the day count", func() {
			So(yearly.Count, ShouldEqual, 6)
			So(yearly.Months.Items(), ShouldResemble, []string{"2024-01", "2024-02", "2024-03"})
			So(*yearly.PopularitySum.Total, ShouldEqual, 36)
			So(*yearly.PopularityAvg.Total, ShouldEqual, 12)
		})

		Convey("And the monthly average divides by the folded day count", func() {
			p := partialFor(parts, "pg", "monthly#2024-03")
			monthly := NewBucket(p)
			Absorb(&monthly, p, time.Now())
			So(monthly.Count, ShouldEqual, 3)
			So(*monthly.PopularityAvg.Total, ShouldEqual, 6)
			So(monthly.Months.Len(), ShouldEqual, 0)
		})
	})
}

func TestAdditiveMerge(t *testing.T) {
	Convey("Given one weekly bucket", t, func() {
		buckets := map[string]*model.AggregateBucket{}
		now := time.Now()

		Convey("When two disjoint record sets are aggregated in turn", func() {
			absorbAll(Fold([]model.DailyMetricRecord{record("A", "2024-01-01", 1), record("A", "2024-01-02", 2)}), "weekly#2024-W01", buckets, now)
			applied, skipped := absorbAll(Fold([]model.DailyMetricRecord{record("A", "2024-01-03", 4)}), "weekly#2024-W01", buckets, now)

			Convey("Then count and sum equal the union's totals", func() {
				So(applied, ShouldEqual, 1)
				So(skipped, ShouldEqual, 0)
				So(buckets["A"].Count, ShouldEqual, 3)
				So(*buckets["A"].PopularitySum.Total, ShouldEqual, 7)
				So(*buckets["A"].PopularityAvg.Total, ShouldEqual, 1)
			})
		})

		Convey("When an overlapping record set is aggregated", func() {
			absorbAll(Fold([]model.DailyMetricRecord{record("A", "2024-01-01", 1), record("A", "2024-01-02", 2)}), "weekly#2024-W01", buckets, now)
			applied, skipped := absorbAll(Fold([]model.DailyMetricRecord{record("A", "2024-01-02", 2), record("A", "2024-01-03", 4)}), "weekly#2024-W01", buckets, now)

			Convey("Then the overlapping record is not double counted", func() {
				So(applied, ShouldEqual, 1)
				So(skipped, ShouldEqual, 1)
				So(buckets["A"].Count, ShouldEqual, 3)
				So(*buckets["A"].PopularitySum.Total, ShouldEqual, 7)
			})
		})

		Convey("When the exact same range is replayed", func() {
			records := []model.DailyMetricRecord{record("A", "2024-01-01", 1), record("A", "2024-01-02", 2)}
			absorbAll(Fold(records), "weekly#2024-W01", buckets, now)
			before := *buckets["A"]
			applied, skipped := absorbAll(Fold(records), "weekly#2024-W01", buckets, now)

			Convey("Then nothing changes", func() {
				So(applied, ShouldEqual, 0)
				So(skipped, ShouldEqual, 2)
				So(buckets["A"].Count, ShouldEqual, before.Count)
				So(*buckets["A"].PopularitySum.Total, ShouldEqual, 3)
			})
		})

		Convey("When an older window is replayed after a newer one", func() {
			newer := record("A", "2024-01-05", 1)
			newer.Name = "new name"
			older := record("A", "2024-01-02", 1)
			older.Name = "old name"
			absorbAll(Fold([]model.DailyMetricRecord{newer}), "weekly#2024-W01", buckets, now)
			absorbAll(Fold([]model.DailyMetricRecord{older}), "weekly#2024-W01", buckets, now)

			Convey("Then the newest name and last date are kept", func() {
				So(buckets["A"].Name, ShouldEqual, "new name")
				So(buckets["A"].LastDate.String(), ShouldEqual, "2024-01-05")
				So(buckets["A"].Count, ShouldEqual, 2)
			})
		})
	})
}

func TestPlaceholderContribution(t *testing.T) {
	Convey("Given a record whose only value is a zero placeholder", t, func() {
		r := model.DailyMetricRecord{EntityID: "x", Date: model.MustParseDate("2024-04-01"), IncludeMe: true}
		r.Popularity.SetSub(model.Bing, 0)
		parts := Fold([]model.DailyMetricRecord{r})
		p := partialFor(parts, "x", "monthly#2024-04")
		b := NewBucket(p)
		Absorb(&b, p, time.Now())

		Convey("Then the bucket holds well-formed numbers", func() {
			So(b.PopularitySum.Bing, ShouldNotBeNil)
			So(*b.PopularityAvg.Bing, ShouldEqual, 0)
			So(b.PopularityAvg.Total, ShouldBeNil)
		})
	})
}

func TestRecomputeWithoutData(t *testing.T) {
	Convey("Given an empty yearly bucket", t, func() {
		b := model.AggregateBucket{Resolution: model.Yearly}
		b.PopularitySum.Total = model.Float(10)
		Recompute(&b)

		Convey("Then there is no average rather than a division by zero", func() {
			So(b.PopularityAvg.Total, ShouldBeNil)
		})
	})
}
