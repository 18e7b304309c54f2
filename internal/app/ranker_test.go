package service_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/domain/model"
)

func TestRanker_Rank(t *testing.T) {
	Convey("Given three entities scored on the day before", t, func() {
		ctx := context.Background()
		p := newPipeline(1)
		defer p.Close()
		es := p.seed(ctx, "c", "b", "a", "unscored")
		date := model.MustParseDate("2024-03-10")
		prev := date.AddDays(-1)
		p.putScore(ctx, es[0], prev, 5)
		p.putScore(ctx, es[1], prev, 9)
		p.putScore(ctx, es[2], prev, 5)

		Convey("When ranking a date without records", func() {
			res, err := p.ranker.Rank(ctx, date)
			So(err, ShouldBeNil)
			snap := res.Snapshot

			Convey("Then the day before is ranked", func() {
				So(res.Created, ShouldBeTrue)
				So(snap.Date, ShouldEqual, date)
				So(snap.SourceDate, ShouldEqual, prev)
				So(snap.Complete, ShouldBeFalse)
			})

			Convey("Then scores order descending with ties by id", func() {
				ids := make([]string, 0, len(snap.Entries))
				for _, e := range snap.Entries {
					ids = append(ids, e.EntityID)
				}
				So(ids, ShouldResemble, []string{"b", "a", "c", "unscored"})
				So(snap.Entries[0].Rank, ShouldEqual, 1)
				So(snap.Entries[2].Rank, ShouldEqual, 3)
			})

			Convey("Then the unscored entity gets the terminal rank", func() {
				e, ok := snap.Entry("unscored")
				So(ok, ShouldBeTrue)
				So(e.Rank, ShouldEqual, 4)
				So(e.Scored, ShouldBeFalse)
			})

			Convey("And ranking again after new data", func() {
				p.putScore(ctx, es[3], date, 100)
				again, err := p.ranker.Rank(ctx, date)
				So(err, ShouldBeNil)

				Convey("Then the stored snapshot is returned unchanged", func() {
					So(again.Created, ShouldBeFalse)
					So(again.Snapshot.SourceDate, ShouldEqual, prev)
					So(again.Snapshot.Entries, ShouldResemble, snap.Entries)
				})
			})
		})

		Convey("When nothing was recorded for either day", func() {
			_, err := p.ranker.Rank(ctx, date.AddDays(10))

			Convey("Then it reports missing data", func() {
				So(errors.Is(err, service.ErrNoData), ShouldBeTrue)
			})
		})
	})
}

func TestRanker_Lookup(t *testing.T) {
	Convey("Given one stored snapshot", t, func() {
		ctx := context.Background()
		p := newPipeline(1)
		defer p.Close()
		es := p.seed(ctx, "a", "b")
		date := model.MustParseDate("2024-03-10")
		p.putScore(ctx, es[1], date, 1)
		_, err := p.ranker.Rank(ctx, date)
		So(err, ShouldBeNil)

		Convey("Then the next day falls back to it", func() {
			snap, err := p.ranker.Lookup(ctx, date.AddDays(1))
			So(err, ShouldBeNil)
			So(snap.Date, ShouldEqual, date)
			So(snap.Synthesized, ShouldBeFalse)
			So(snap.Entries[0].EntityID, ShouldEqual, "b")
		})

		Convey("Then a day with no snapshot nearby gets terminal ranks", func() {
			snap, err := p.ranker.Lookup(ctx, date.AddDays(5))
			So(err, ShouldBeNil)
			So(snap.Synthesized, ShouldBeTrue)
			So(len(snap.Entries), ShouldEqual, 2)
			for _, e := range snap.Entries {
				So(e.Rank, ShouldEqual, 2)
			}
		})

		Convey("Then a malformed period key is rejected", func() {
			_, err := p.ranker.RankPeriod(ctx, "fortnightly#2024-01", "")
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})
	})
}
