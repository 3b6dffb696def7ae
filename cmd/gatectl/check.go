package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"sellergate.io/internal/cache"
	"sellergate.io/internal/config"
	"sellergate.io/internal/feature"
	"sellergate.io/internal/gate"
	"sellergate.io/internal/store/pg"
)

type checkOutput struct {
	SellerID  string             `json:"seller_id"`
	ProductID string             `json:"product_id"`
	Approved  bool               `json:"approved"`
	Status    *gate.StatusResult `json:"status,omitempty"`
}

// gateFor builds a gate over the configured database with a private cache, so a
// check always reflects the store.
func (c *cli) gateFor(store *pg.Store) *gate.Service {
	var flag feature.Source = feature.Static(c.cfg.Gate.Enabled)
	if c.cfg.FeatureSource == config.FeatureFromDatabase {
		flag = store.Flag(pg.DefaultFlag)
	}
	return gate.New(store, cache.NewMemory(), flag,
		gate.WithProductLimit(c.cfg.Gate.ProductLimit),
	)
}

func (c *cli) checkCmd() *cobra.Command {
	var (
		sellerID   string
		productID  string
		withStatus bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a gate check for one seller and product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			g := c.gateFor(store)
			out := checkOutput{
				SellerID:  sellerID,
				ProductID: productID,
				Approved:  g.IsApproved(ctx, sellerID, productID),
			}
			if withStatus {
				st := g.Status(ctx, sellerID, productID)
				out.Status = &st
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&sellerID, "seller", "", "seller id")
	cmd.Flags().StringVar(&productID, "product", "", "product id")
	cmd.Flags().BoolVar(&withStatus, "status", false, "include the detailed status")
	_ = cmd.MarkFlagRequired("seller")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}
