package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/popscore/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.BatchSize("github"), convey.ShouldEqual, 30)
				convey.So(cfg.ScoreWeights["google"], convey.ShouldEqual, 0.25)
				convey.So(cfg.Timezone, convey.ShouldEqual, "UTC")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("POPSCORE_ADDR", ":8080")
			_ = os.Setenv("POPSCORE_WORKER_COUNT", "16")
			_ = os.Setenv("POPSCORE_STORE_IN_MEMORY", "true")
			_ = os.Setenv("POPSCORE_BATCH_SIZES__GITHUB", "7")
			_ = os.Setenv("POPSCORE_TIMEZONE", "Europe/Berlin")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.StoreInMemory, convey.ShouldBeTrue)
				convey.So(cfg.BatchSize("github"), convey.ShouldEqual, 7)
				convey.So(cfg.BatchSize("google"), convey.ShouldEqual, 100)

				loc, err := cfg.Location()
				convey.So(err, convey.ShouldBeNil)
				convey.So(loc.String(), convey.ShouldEqual, "Europe/Berlin")
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
# provider settings
addr: ":9090"
worker_count: 24
batch_sizes:
  bing: 5
score_weights:
  github: 0.5
github_base_url: "http://localhost:9999"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("POPSCORE_CONFIG", tmpFile)
			_ = os.Setenv("POPSCORE_WORKER_COUNT", "32") // This should override the file
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")  // From file
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32) // Overridden by env
				convey.So(cfg.GitHubBaseURL, convey.ShouldEqual, "http://localhost:9999")
			})

			convey.Convey("Then map entries merge with the defaults", func() {
				convey.So(cfg.BatchSize("bing"), convey.ShouldEqual, 5)
				convey.So(cfg.BatchSize("google"), convey.ShouldEqual, 100)
				convey.So(cfg.ScoreWeights["github"], convey.ShouldEqual, 0.5)
				convey.So(cfg.ScoreWeights["bing"], convey.ShouldEqual, 0.25)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			cfg, err := config.LoadFile(ctx, tmpFile)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			cfg, err := config.LoadFile(ctx, "/non/existent/file.yaml")

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("POPSCORE_WORKER_COUNT", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a value violates a constraint", func() {
			cases := map[string]string{
				"POPSCORE_ADDR":                   "",
				"POPSCORE_WORKER_COUNT":           "0",
				"POPSCORE_LOG_LEVEL":              "chatty",
				"POPSCORE_TIMEZONE":               "Mars/Olympus",
				"POPSCORE_UI_SCALE":               "0",
				"POPSCORE_BATCH_SIZES__ALTAVISTA": "3",
				"POPSCORE_BING_BASE_URL":          "not a url",
			}
			for key, val := range cases {
				_ = os.Setenv(key, val)
				cfg, err := config.Load(ctx)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
				_ = os.Unsetenv(key)
			}
		})

		convey.Convey("When the store path is empty", func() {
			_ = os.Setenv("POPSCORE_STORE_PATH", "")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)

			convey.Convey("Then an in-memory store does not need one", func() {
				_ = os.Setenv("POPSCORE_STORE_IN_MEMORY", "true")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.StoreInMemory, convey.ShouldBeTrue)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				if key := kv[:i]; len(key) > len(config.EnvPrefix) && key[:len(config.EnvPrefix)] == config.EnvPrefix {
					_ = os.Unsetenv(key)
				}
				break
			}
		}
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "popscore-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
