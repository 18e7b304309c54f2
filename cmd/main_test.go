package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/config"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/pkg/logger"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the root command with args and returns its output.
func run(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		root := newRootCmd()

		convey.Convey("Then every stage has a subcommand", func() {
			names := make([]string, 0)
			for _, c := range root.Commands() {
				names = append(names, c.Name())
			}
			for _, want := range []string{"serve", "collect", "aggregate", "rank", "checkpoints", "catalog"} {
				convey.So(names, convey.ShouldContain, want)
			}
		})

		convey.Convey("Then collect requires a provider", func() {
			_, err := run("collect", "--in-memory")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("Then an unknown provider is rejected before the store opens", func() {
			_, err := run("collect", "--provider", "altavista", "--in-memory")
			convey.So(errors.Is(err, model.ErrUnknownProvider), convey.ShouldBeTrue)
		})
	})
}

func TestConfigWiring(t *testing.T) {
	convey.Convey("Given a loaded configuration", t, func() {
		cfg := config.New()
		cfg.ProviderTimeoutMS = 1500
		cfg.ProviderBackoffMS = 250
		cfg.GitHubToken = "token"
		cfg.Timezone = "America/New_York"

		convey.So(logger.Init(), convey.ShouldBeNil)

		convey.Convey("Then provider settings carry the transport knobs", func() {
			s := providerSettings(cfg, logger.Get())
			convey.So(s.HTTPTimeout, convey.ShouldEqual, 1500*time.Millisecond)
			convey.So(s.Backoff, convey.ShouldEqual, 250*time.Millisecond)
			convey.So(s.MaxInFlight, convey.ShouldEqual, cfg.ProviderMaxInFlight)
			convey.So(s.GitHubToken, convey.ShouldEqual, "token")
			convey.So(s.Logger, convey.ShouldNotBeNil)
		})

		convey.Convey("Then the service picks up the batch sizes", func() {
			svc := service.New(serviceOptions(cfg, logger.Get(), time.Now)...)
			convey.So(svc.BatchSize(model.GitHub), convey.ShouldEqual, 30)
			convey.So(svc.BatchSize(model.Google), convey.ShouldEqual, 100)
		})

		convey.Convey("Then the default date is yesterday in the configured zone", func() {
			// 03:00 UTC is still the previous evening in New York.
			g := &globals{now: func() time.Time { return time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC) }}
			d, err := g.resolveDate(cfg, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(d.String(), convey.ShouldEqual, "2024-03-09")

			d, err = g.resolveDate(cfg, "2024-01-02")
			convey.So(err, convey.ShouldBeNil)
			convey.So(d.String(), convey.ShouldEqual, "2024-01-02")

			_, err = g.resolveDate(cfg, "yesterday")
			convey.So(errors.Is(err, model.ErrInvalidDate), convey.ShouldBeTrue)
		})
	})
}

func TestCatalogFile(t *testing.T) {
	convey.Convey("Given catalog files", t, func() {
		dir := t.TempDir()

		convey.Convey("Then a JSON array decodes into entities", func() {
			path := writeFile(t, dir, "catalog.json", `[{"id":"pg","name":"PostgreSQL","kind":"database"},{"id":"k9","name":"k9s","kind":"tool"}]`)
			entities, err := readCatalog(path)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(entities), convey.ShouldEqual, 2)
			convey.So(entities[1].Kind, convey.ShouldEqual, model.KindTool)
		})

		convey.Convey("Then malformed and missing files fail", func() {
			_, err := readCatalog(writeFile(t, dir, "bad.json", `{"id":`))
			convey.So(err, convey.ShouldNotBeNil)
			_, err = readCatalog(filepath.Join(dir, "missing.json"))
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestStageCommands(t *testing.T) {
	convey.Convey("Given a config file pointing at a fresh store", t, func() {
		dir := t.TempDir()
		cfgPath := writeFile(t, dir, "popscore.yaml", "log_level: error\nstore_path: "+filepath.Join(dir, "store")+"\n")
		catalog := writeFile(t, dir, "catalog.json", `[{"id":"pg","name":"PostgreSQL","kind":"database"}]`)

		convey.Convey("When the catalog is imported", func() {
			out, err := run("catalog", "import", catalog, "--config", cfgPath)
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "imported 1 entities")

			convey.Convey("Then the entity is readable by a later invocation", func() {
				out, err := run("catalog", "show", "pg", "--config", cfgPath)
				convey.So(err, convey.ShouldBeNil)
				var e model.Entity
				convey.So(json.Unmarshal([]byte(out), &e), convey.ShouldBeNil)
				convey.So(e.Name, convey.ShouldEqual, "PostgreSQL")
			})

			convey.Convey("Then ranking a day without records reports missing data", func() {
				_, err := run("rank", "--date", "2024-03-10", "--config", cfgPath)
				convey.So(errors.Is(err, service.ErrNoData), convey.ShouldBeTrue)
			})

			convey.Convey("Then an empty aggregation succeeds", func() {
				out, err := run("aggregate", "--start", "2024-03-01", "--end", "2024-03-07", "--config", cfgPath)
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, `"recordsRead": 0`)
			})

			convey.Convey("Then checkpoints of an untouched day are empty", func() {
				out, err := run("checkpoints", "--date", "2024-03-10", "--config", cfgPath)
				convey.So(err, convey.ShouldBeNil)
				convey.So(strings.TrimSpace(out), convey.ShouldBeIn, []string{"[]", "null"})
			})
		})

		convey.Convey("Then an inverted aggregation range fails", func() {
			_, err := run("aggregate", "--start", "2024-03-07", "--end", "2024-03-01", "--config", cfgPath)
			convey.So(errors.Is(err, service.ErrInvalidRange), convey.ShouldBeTrue)
		})

		convey.Convey("Then an invalid catalog entry is refused", func() {
			bad := writeFile(t, dir, "bad.json", `[{"id":"x"}]`)
			_, err := run("catalog", "import", bad, "--config", cfgPath)
			convey.So(errors.Is(err, service.ErrInvalidRequest), convey.ShouldBeTrue)
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loop returns when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
		})
	})
}
