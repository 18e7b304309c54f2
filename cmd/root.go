package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/okian/popscore/internal/adapters/provider"
	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/config"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/pkg/logger"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath string
	inMemory   bool
	now        func() time.Time
}

func newRootCmd() *cobra.Command {
	g := &globals{now: time.Now}
	root := &cobra.Command{
		Use:   "popscore",
		Short: "Collect, aggregate and rank daily popularity metrics",
		Long: `popscore fetches per-provider popularity signals for a catalog of
entities, folds them into weekly, monthly and yearly aggregates and
publishes a daily rank snapshot.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML config file")
	root.PersistentFlags().BoolVar(&g.inMemory, "in-memory", false, "keep the store in memory (testing only)")

	root.AddCommand(
		newServeCmd(g),
		newCollectCmd(g),
		newAggregateCmd(g),
		newRankCmd(g),
		newCheckpointsCmd(g),
		newCatalogCmd(g),
	)
	return root
}

// loadConfig reads the configuration and applies the logging settings.
func (g *globals) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(ctx, g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.inMemory {
		cfg.StoreInMemory = true
	}
	if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// start loads the configuration and starts a service on it. Callers must
// Stop the returned service.
func (g *globals) start(ctx context.Context) (*config.Config, *service.Service, error) {
	cfg, err := g.loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(serviceOptions(cfg, logger.Get(), g.now)...)
	if err := svc.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("start service: %w", err)
	}
	return cfg, svc, nil
}

func serviceOptions(cfg *config.Config, log logger.Logger, now func() time.Time) []service.Option {
	return []service.Option{
		service.WithLogger(log),
		service.WithClock(now),
		service.WithStorePath(cfg.StorePath),
		service.WithInMemory(cfg.StoreInMemory),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithBatchSizes(cfg.BatchSizes),
		service.WithScoreWeights(cfg.ScoreWeights),
		service.WithUIScale(cfg.UIScale),
		service.WithProviderSettings(providerSettings(cfg, log)),
	}
}

func providerSettings(cfg *config.Config, log logger.Logger) provider.Settings {
	return provider.Settings{
		HTTPTimeout:          config.Millis(cfg.ProviderTimeoutMS),
		MinInterval:          config.Millis(cfg.ProviderMinIntervalMS),
		MaxInFlight:          cfg.ProviderMaxInFlight,
		MaxRetries:           cfg.ProviderMaxRetries,
		Backoff:              config.Millis(cfg.ProviderBackoffMS),
		GoogleAPIKey:         cfg.GoogleAPIKey,
		GoogleCX:             cfg.GoogleCX,
		GoogleBaseURL:        cfg.GoogleBaseURL,
		BingBaseURL:          cfg.BingBaseURL,
		GitHubToken:          cfg.GitHubToken,
		GitHubBaseURL:        cfg.GitHubBaseURL,
		StackExchangeKey:     cfg.StackExchangeKey,
		StackExchangeBaseURL: cfg.StackExchangeBaseURL,
		Logger:               log.Named("provider"),
	}
}

// resolveDate parses a YYYY-MM-DD flag, defaulting to yesterday in the
// configured zone.
func (g *globals) resolveDate(cfg *config.Config, v string) (model.Date, error) {
	if v != "" {
		return model.ParseDate(v)
	}
	loc, err := cfg.Location()
	if err != nil {
		return model.Date{}, err
	}
	return model.Yesterday(g.now(), loc), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
