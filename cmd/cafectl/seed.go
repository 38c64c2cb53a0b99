package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cafepos/cafepos/internal/catalog"
)

func (c *cli) newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Create missing raw materials and upsert recipes from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			_, svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := catalog.Apply(cmd.Context(), f, svc.Inventory, svc.Recipes, c.logger())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(report)
			}
			_, err = fmt.Fprintf(c.stdout, "materials created: %d\nmaterials kept: %d\nrecipes saved: %d\n",
				report.MaterialsCreated, report.MaterialsKept, report.RecipesSaved)
			return err
		},
	}
}
