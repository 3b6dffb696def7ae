package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sellergate.io/internal/store/pg"
)

func parseOnOff(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "enable", "enabled", "1":
		return true, nil
	case "off", "false", "disable", "disabled", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", v)
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func (c *cli) flagCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "flag",
		Short: "Read or flip the database-backed gate switch",
	}
	cmd.PersistentFlags().StringVar(&name, "name", pg.DefaultFlag, "flag name in gate_settings")

	withFlag := func(fn func(context.Context, *cobra.Command, *pg.Flag, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return fn(ctx, cmd, store.Flag(name), args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the current state",
			Args:  cobra.NoArgs,
			RunE: withFlag(func(ctx context.Context, cmd *cobra.Command, f *pg.Flag, _ []string) error {
				on, err := f.Enabled(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, onOff(on))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set on|off",
			Short: "Turn the gate on or off for every instance",
			Args:  cobra.ExactArgs(1),
			PreRunE: func(_ *cobra.Command, args []string) error {
				_, err := parseOnOff(args[0])
				return err
			},
			RunE: withFlag(func(ctx context.Context, cmd *cobra.Command, f *pg.Flag, args []string) error {
				on, _ := parseOnOff(args[0])
				if err := f.SetEnabled(ctx, on); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, onOff(on))
				return nil
			}),
		},
	)
	return cmd
}
