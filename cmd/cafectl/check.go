package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cafepos/cafepos/internal/availability"
)

func (c *cli) newCheckCmd() *cobra.Command {
	var (
		size   string
		addOns []string
	)
	cmd := &cobra.Command{
		Use:   "check [productID...]",
		Short: "Classify menu items as available, low or unavailable",
		Long:  "Without arguments every product with a recipe is checked in one snapshot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid product id %q", a)
				}
				ids = append(ids, id)
			}
			_, svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			var results []availability.Result
			if len(ids) == 0 {
				snap, err := svc.Broadcaster.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range snap.ProductIDs() {
					ok, _ := snap.Available(id)
					results = append(results, availability.Result{
						ProductID:   id,
						HasRecipe:   true,
						Available:   ok,
						LowStock:    snap.LowStock(id),
						MissingText: snap.MissingText(id),
					})
				}
			} else {
				for _, id := range ids {
					res, err := svc.Classifier.CheckSelection(cmd.Context(), id, size, addOns)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
			}
			if c.jsonOut {
				return c.printJSON(results)
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "PRODUCT\tSTATUS\tMISSING\n")
			for _, r := range results {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ProductID, statusLabel(r), r.MissingText)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&size, "size", "", "cup size")
	cmd.Flags().StringSliceVar(&addOns, "add-on", nil, "selected add-on, repeatable")
	return cmd
}

func statusLabel(r availability.Result) string {
	switch {
	case !r.HasRecipe:
		return "no recipe"
	case !r.Available:
		return "unavailable"
	case r.LowStock:
		return "low"
	default:
		return "available"
	}
}
