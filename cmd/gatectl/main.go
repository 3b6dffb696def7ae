// Command gatectl is the operator tool for the seller authorization gate.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sellergate.io/internal/config"
	"sellergate.io/internal/store/pg"
)

var errNoDatabase = errors.New("database_url is not configured")

type cli struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "gatectl",
		Short:         "Operate the seller authorization gate",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("SELLERGATE_CONFIG"), "path to YAML config")

	root.AddCommand(
		c.migrateCmd(),
		c.tokenCmd(),
		c.flagCmd(),
		c.checkCmd(),
	)
	return root
}

func (c *cli) openStore() (*pg.Store, error) {
	if c.cfg.DatabaseURL == "" {
		return nil, errNoDatabase
	}
	return pg.Open(c.cfg.DatabaseURL)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gatectl:", err)
		os.Exit(1)
	}
}
