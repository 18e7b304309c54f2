package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popscore/internal/adapters/http/api"
	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/domain/model"
)

// Mock implementations for testing
type mockDeps struct {
	started bool

	snap      model.RankSnapshot
	lookupErr error
	lookedUp  model.Date

	collectRes  service.CollectResult
	collectErr  error
	collectedID model.ProviderID
	collectedOn model.Date

	aggErr error
	aggReq service.AggregateRequest

	rankRes  service.RankResult
	rankErr  error
	rankedOn model.Date

	periodKey  string
	periodKind model.EntityKind
	period     service.PeriodRanking

	history                []model.DailyMetricRecord
	historyErr             error
	historyFrom, historyTo model.Date

	snapshots []model.RankSnapshot
}

func (m *mockDeps) GetStats(context.Context) map[string]any {
	return map[string]any{"started": m.started}
}

func (m *mockDeps) Collect(_ context.Context, id model.ProviderID, date model.Date) (service.CollectResult, error) {
	m.collectedID, m.collectedOn = id, date
	return m.collectRes, m.collectErr
}

func (m *mockDeps) Aggregate(_ context.Context, req service.AggregateRequest) (service.AggregateResult, error) {
	m.aggReq = req
	if m.aggErr != nil {
		return service.AggregateResult{}, m.aggErr
	}
	return service.AggregateResult{RecordsRead: 3, BucketsWritten: 9}, nil
}

func (m *mockDeps) Rank(_ context.Context, date model.Date) (service.RankResult, error) {
	m.rankedOn = date
	return m.rankRes, m.rankErr
}

func (m *mockDeps) Lookup(_ context.Context, date model.Date) (model.RankSnapshot, error) {
	m.lookedUp = date
	return m.snap, m.lookupErr
}

func (m *mockDeps) RankPeriod(_ context.Context, key string, kind model.EntityKind) (service.PeriodRanking, error) {
	m.periodKey, m.periodKind = key, kind
	if _, _, err := model.ParsePeriodKey(key); err != nil {
		return service.PeriodRanking{}, fmt.Errorf("%w: %w", service.ErrInvalidRequest, err)
	}
	return m.period, nil
}

func (m *mockDeps) History(_ context.Context, _ string, start, end model.Date) ([]model.DailyMetricRecord, error) {
	m.historyFrom, m.historyTo = start, end
	return m.history, m.historyErr
}

func (m *mockDeps) Snapshots(_ context.Context, start, end model.Date) ([]model.RankSnapshot, error) {
	if end.Before(start) {
		return nil, service.ErrInvalidRange
	}
	return m.snapshots, nil
}

func snapshotOf(n int) model.RankSnapshot {
	snap := model.RankSnapshot{Date: model.MustParseDate("2024-03-10"), SourceDate: model.MustParseDate("2024-03-10")}
	for i := 0; i < n; i++ {
		snap.Entries = append(snap.Entries, model.RankEntry{
			EntityID: fmt.Sprintf("e%02d", i),
			Rank:     i + 1,
			Score:    float64(100 - i),
			Scored:   true,
		})
	}
	return snap
}

func newMux(deps *mockDeps) *http.ServeMux {
	now := func() time.Time { return time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC) }
	server := api.NewServer(deps, api.WithMaxLimit(20), api.WithClock(now))
	mux := http.NewServeMux()
	server.Register(mux)
	return mux
}

func serve(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestServer_Health(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("Then health reports 503 until the service starts", func() {
			So(serve(mux, "GET", "/healthz", "").Code, ShouldEqual, http.StatusServiceUnavailable)
			deps.started = true
			So(serve(mux, "GET", "/healthz", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then metrics are served", func() {
			w := serve(mux, "GET", "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then stats are served as JSON", func() {
			w := serve(mux, "GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
		})

		Convey("Then unknown routes are not found", func() {
			So(serve(mux, "GET", "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServer_Leaderboard(t *testing.T) {
	Convey("Given a snapshot of thirty entries", t, func() {
		deps := &mockDeps{snap: snapshotOf(30)}
		mux := newMux(deps)

		Convey("When the leaderboard is requested without parameters", func() {
			w := serve(mux, "GET", "/leaderboard", "")

			Convey("Then yesterday's board is returned with the default limit", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lookedUp.String(), ShouldEqual, "2024-03-10")
				var body struct {
					Total   int               `json:"total"`
					Entries []model.RankEntry `json:"entries"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body.Total, ShouldEqual, 30)
				So(len(body.Entries), ShouldEqual, 10)
				So(body.Entries[0].EntityID, ShouldEqual, "e00")
			})
		})

		Convey("Then an explicit date and limit are honoured", func() {
			w := serve(mux, "GET", "/leaderboard?date=2024-01-02&limit=3", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lookedUp.String(), ShouldEqual, "2024-01-02")
		})

		Convey("Then invalid parameters are rejected", func() {
			So(serve(mux, "GET", "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(mux, "GET", "/leaderboard?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(mux, "GET", "/leaderboard?date=03-10-2024", "").Code, ShouldEqual, http.StatusBadRequest)

			w := serve(mux, "GET", "/leaderboard?limit=21", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "limit_exceeded")
		})

		Convey("Then an unavailable service maps to 503", func() {
			deps.lookupErr = service.ErrNotStarted
			So(serve(mux, "GET", "/leaderboard", "").Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Then other methods are not allowed", func() {
			So(serve(mux, "POST", "/leaderboard", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestServer_Rank(t *testing.T) {
	Convey("Given a snapshot", t, func() {
		deps := &mockDeps{snap: snapshotOf(3)}
		mux := newMux(deps)

		Convey("When a ranked entity is requested", func() {
			w := serve(mux, "GET", "/rank/e01?date=2024-03-11", "")

			Convey("Then its entry is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body struct {
					EntityID string `json:"entityId"`
					Rank     int    `json:"rank"`
					Date     string `json:"date"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body.EntityID, ShouldEqual, "e01")
				So(body.Rank, ShouldEqual, 2)
				So(body.Date, ShouldEqual, "2024-03-10")
				So(deps.lookedUp.String(), ShouldEqual, "2024-03-11")
			})
		})

		Convey("Then rank history lists the entity in each stored snapshot", func() {
			older := snapshotOf(3)
			older.Date = model.MustParseDate("2024-03-09")
			older.Entries[0].EntityID, older.Entries[1].EntityID = "e01", "e00"
			deps.snapshots = []model.RankSnapshot{older, snapshotOf(1), snapshotOf(3)}

			w := serve(mux, "GET", "/rank/e01/history", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var points []struct {
				Date string `json:"date"`
				Rank int    `json:"rank"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &points), ShouldBeNil)
			So(len(points), ShouldEqual, 2)
			So(points[0].Date, ShouldEqual, "2024-03-09")
			So(points[0].Rank, ShouldEqual, 1)
			So(points[1].Rank, ShouldEqual, 2)

			So(serve(mux, "GET", "/rank/e01/history?start=2024-03-10&end=2024-03-01", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then an unknown entity is not found", func() {
			w := serve(mux, "GET", "/rank/nope", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})
	})
}

func TestServer_Invocations(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When collection is triggered", func() {
			var failures *multierror.Error
			failures = multierror.Append(failures, errors.New("b: exhausted"))
			deps.collectRes = service.CollectResult{Provider: model.GitHub, Processed: []string{"a"}, Failures: failures}
			w := serve(mux, "POST", "/collect/github?date=2024-03-09", "")

			Convey("Then the provider and date are passed on", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.collectedID, ShouldEqual, model.GitHub)
				So(deps.collectedOn.String(), ShouldEqual, "2024-03-09")
			})

			Convey("Then per-entity failures are listed", func() {
				var body struct {
					Processed []string `json:"processed"`
					Errors    []string `json:"errors"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body.Processed, ShouldResemble, []string{"a"})
				So(body.Errors, ShouldResemble, []string{"b: exhausted"})
			})
		})

		Convey("Then collection defaults to yesterday", func() {
			So(serve(mux, "POST", "/collect/bing", "").Code, ShouldEqual, http.StatusOK)
			So(deps.collectedOn.String(), ShouldEqual, "2024-03-10")
		})

		Convey("Then an unknown provider is rejected", func() {
			So(serve(mux, "POST", "/collect/altavista", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When aggregation is triggered", func() {
			w := serve(mux, "POST", "/aggregate", `{"startDate":"2024-01-01","endDate":"2024-01-07","entityKind":"tool"}`)

			Convey("Then the request body is passed on", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.aggReq, ShouldResemble, service.AggregateRequest{EntityKind: "tool", StartDate: "2024-01-01", EndDate: "2024-01-07"})
			})
		})

		Convey("Then aggregation validation errors are 400", func() {
			So(serve(mux, "POST", "/aggregate", `{"startDate":`).Code, ShouldEqual, http.StatusBadRequest)

			deps.aggErr = fmt.Errorf("%w: endDate", service.ErrInvalidRequest)
			So(serve(mux, "POST", "/aggregate", `{}`).Code, ShouldEqual, http.StatusBadRequest)

			deps.aggErr = service.ErrInvalidRange
			w := serve(mux, "POST", "/aggregate", `{"startDate":"2024-02-01","endDate":"2024-01-01"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "invalid_range")
		})

		Convey("Then ranking reports whether it created a snapshot", func() {
			deps.rankRes = service.RankResult{Created: true}
			So(serve(mux, "POST", "/rank", `{"date":"2024-03-01"}`).Code, ShouldEqual, http.StatusCreated)
			So(deps.rankedOn.String(), ShouldEqual, "2024-03-01")

			deps.rankRes = service.RankResult{}
			So(serve(mux, "POST", "/rank", "").Code, ShouldEqual, http.StatusOK)
			So(deps.rankedOn.String(), ShouldEqual, "2024-03-10")
		})

		Convey("Then ranking without data is not found", func() {
			deps.rankErr = fmt.Errorf("2024-03-10: %w", service.ErrNoData)
			w := serve(mux, "POST", "/rank", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "no_data")
		})
	})
}

func TestServer_ReadModels(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("Then history defaults to the thirty days ending yesterday", func() {
			w := serve(mux, "GET", "/entities/pg/history", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			So(deps.historyFrom.String(), ShouldEqual, "2024-02-10")
			So(deps.historyTo.String(), ShouldEqual, "2024-03-10")
		})

		Convey("Then an inverted history range is rejected", func() {
			deps.historyErr = service.ErrInvalidRange
			So(serve(mux, "GET", "/entities/pg/history?start=2024-03-10&end=2024-03-01", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then period rankings join the path into a period key", func() {
			w := serve(mux, "GET", "/periods/weekly/2024-W05?kind=database", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.periodKey, ShouldEqual, "weekly#2024-W05")
			So(deps.periodKind, ShouldEqual, model.KindDatabase)

			So(serve(mux, "GET", "/periods/daily/2024-01-01", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(mux, "GET", "/periods/weekly/2024-W05?kind=language", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given annotated API errors", t, func() {
		cause := errors.New("boom")

		Convey("Then kinds and causes are both reachable", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		})

		Convey("Then the short forms render the op", func() {
			So(api.NewKind("api.op", api.ErrNotFound).Error(), ShouldEqual, "api.op: not found")
			So(api.Wrap("api.op", cause).Error(), ShouldEqual, "api.op: boom")
		})
	})
}
