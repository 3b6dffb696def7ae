package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sellergate.io/internal/auth"
	"sellergate.io/internal/authz"
)

type tokenOutput struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a seller, supplier or admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokens, err := auth.NewTokens(c.cfg.AuthSecret)
			if err != nil {
				return err
			}
			tok, expires, err := tokens.Generate(subject, authz.Role(role), ttl)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tokenOutput{Token: tok, Subject: subject, Role: role, ExpiresAt: expires})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "seller, supplier or admin id")
	cmd.Flags().StringVar(&role, "role", string(authz.RoleSeller), "seller|supplier|admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
