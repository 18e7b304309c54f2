package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/config"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/pkg/logger"
)

// invoke runs fn against a started service under the invocation deadline.
func (g *globals) invoke(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, svc *service.Service) error) error {
	cfg, svc, err := g.start(ctx)
	if err != nil {
		return err
	}
	defer svc.Stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.InvocationTimeout())
	defer cancel()
	return fn(ctx, cfg, svc)
}

func newCollectCmd(g *globals) *cobra.Command {
	var providerName, date string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collector invocation for a provider",
		Long: `collect fetches the next batch of not-yet-merged entities from one
provider and stores a complete record for every catalog entity. Run it
repeatedly until the checkpoint reports COMPLETED.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := model.ParseProviderID(providerName)
			if err != nil {
				return err
			}
			return g.invoke(cmd.Context(), func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				day, err := g.resolveDate(cfg, date)
				if err != nil {
					return err
				}
				res, err := svc.Collect(ctx, id, day)
				if err != nil {
					return err
				}
				if res.Failures != nil {
					logger.Get().Warn(ctx, "collection finished with failures",
						logger.String("provider", string(id)),
						logger.Int("failed", res.Failed),
						logger.Error(res.Failures),
					)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider: google, bing, github or stackoverflow")
	cmd.Flags().StringVarP(&date, "date", "d", "", "logical date YYYY-MM-DD (default yesterday)")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func newAggregateCmd(g *globals) *cobra.Command {
	var req service.AggregateRequest
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Fold included daily records into weekly, monthly and yearly buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.invoke(cmd.Context(), func(ctx context.Context, _ *config.Config, svc *service.Service) error {
				res, err := svc.Aggregate(ctx, req)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Failures != nil {
					return fmt.Errorf("aggregate %s..%s: %w", req.StartDate, req.EndDate, res.Failures)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.StartDate, "start", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&req.EndDate, "end", "", "last date YYYY-MM-DD")
	cmd.Flags().StringVar(&req.EntityKind, "kind", "", "entity kind: database or tool (default database)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newRankCmd(g *globals) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Build the rank snapshot of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.invoke(cmd.Context(), func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				day, err := g.resolveDate(cfg, date)
				if err != nil {
					return err
				}
				res, err := svc.Rank(ctx, day)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&date, "date", "d", "", "logical date YYYY-MM-DD (default yesterday)")
	return cmd
}

func newCheckpointsCmd(g *globals) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Show per-provider collection progress of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.invoke(cmd.Context(), func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				day, err := g.resolveDate(cfg, date)
				if err != nil {
					return err
				}
				cps, err := svc.Checkpoints(ctx, day)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cps)
			})
		},
	}
	cmd.Flags().StringVarP(&date, "date", "d", "", "logical date YYYY-MM-DD (default yesterday)")
	return cmd
}
