package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/config"
	"github.com/okian/popscore/internal/domain/model"
)

func newCatalogCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the entity catalog",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "import FILE",
			Short: "Upsert entities from a JSON array",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				entities, err := readCatalog(args[0])
				if err != nil {
					return err
				}
				return g.invoke(cmd.Context(), func(ctx context.Context, _ *config.Config, svc *service.Service) error {
					n, err := svc.ImportCatalog(ctx, entities)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities\n", n)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "Print one catalog entity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.invoke(cmd.Context(), func(ctx context.Context, _ *config.Config, svc *service.Service) error {
					e, err := svc.Entity(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), e)
				})
			},
		},
	)
	return cmd
}

// readCatalog decodes a JSON array of entities.
func readCatalog(path string) ([]model.Entity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var entities []model.Entity
	if err := json.Unmarshal(b, &entities); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return entities, nil
}
