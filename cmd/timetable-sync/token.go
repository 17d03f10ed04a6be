package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/internal/service"
	"github.com/noah-isme/sma-timetable-sync/pkg/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Sign a development access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Env == config.EnvProduction {
			return fmt.Errorf("refusing to sign tokens in %s", cfg.Env)
		}
		token, err := service.NewTokenVerifier(cfg.JWT.Secret).Issue(args[0], models.UserRole(role), ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("role", string(models.RoleCoordinator), "token role (SUPERADMIN, ADMIN, COORDINATOR, VIEWER)")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
}
