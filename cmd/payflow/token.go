package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baharkarakas/payflow/internal/auth"
	"github.com/baharkarakas/payflow/internal/config"
	"github.com/baharkarakas/payflow/internal/services"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if role != services.RoleUser && role != services.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", services.RoleUser, services.RoleAdmin)
			}

			cfg := config.Load()
			if ttl <= 0 {
				ttl = cfg.JWTTTL
			}
			tok, exp, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, ttl).Generate(user, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringP("user", "u", "", "User id (sub claim)")
	cmd.Flags().StringP("role", "r", services.RoleUser, "Role (user, admin)")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (default JWT_TTL)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
