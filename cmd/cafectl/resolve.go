package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cafepos/cafepos/internal/bom"
	"github.com/cafepos/cafepos/internal/recipes"
)

type resolveOutput struct {
	ProductID int64      `json:"product_id"`
	Variant   string     `json:"variant"`
	Size      string     `json:"size"`
	Quantity  int        `json:"quantity"`
	Lines     []bom.Line `json:"lines"`
}

func (c *cli) newResolveCmd() *cobra.Command {
	var (
		productID int64
		variant   string
		size      string
		addOns    []string
		qty       int
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the merged raw material demand for a menu item",
		RunE: func(cmd *cobra.Command, args []string) error {
			if productID <= 0 {
				return fmt.Errorf("--product is required")
			}
			if qty <= 0 {
				return fmt.Errorf("--qty must be positive")
			}
			_, svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			rec, ok, err := svc.Recipes.LookupVariant(cmd.Context(), productID, variant, size)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("product %d: %w", productID, recipes.ErrRecipeNotFound)
			}
			if size == "" {
				size = rec.DefaultSize()
			}
			one, err := bom.Resolve(rec, size, addOns)
			if err != nil {
				return err
			}
			var total bom.Demand
			if err := total.Merge(one, float64(qty)); err != nil {
				return err
			}
			out := resolveOutput{ProductID: productID, Variant: rec.VariantName, Size: size, Quantity: qty, Lines: total.Lines()}
			if c.jsonOut {
				return c.printJSON(out)
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "MATERIAL\tQTY\tUNIT\tREQUIRED\tADD-ONS\n")
			for _, l := range out.Lines {
				fmt.Fprintf(tw, "%s\t%g\t%s\t%t\t%s\n", l.Name, l.Amount, l.Unit, l.Required, strings.Join(l.AddOns, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64Var(&productID, "product", 0, "product id")
	cmd.Flags().StringVar(&variant, "variant", "", "recipe variant name")
	cmd.Flags().StringVar(&size, "size", "", "cup size")
	cmd.Flags().StringSliceVar(&addOns, "add-on", nil, "selected add-on, repeatable")
	cmd.Flags().IntVar(&qty, "qty", 1, "number of items")
	return cmd
}
