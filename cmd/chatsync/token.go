package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/config"
	"github.com/yigit/coursechat/internal/pkg/auth"
	"github.com/yigit/coursechat/internal/pkg/helpers"
	"github.com/yigit/coursechat/internal/pkg/validation"
)

type tokenFlags struct {
	userID string
	name   string
	role   string
}

// newTokenCmd mints a token with the configured JWT secret, the same way the
// development server's token endpoint does.
func newTokenCmd(configPath *string) *cobra.Command {
	var flags tokenFlags

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			sender := models.Sender{
				ID:   flags.userID,
				Name: flags.name,
				Role: models.Role(strings.ToUpper(flags.role)),
			}
			if err := validation.Validator().Var(string(sender.Role), "oneof=STUDENT INSTRUCTOR"); err != nil {
				return fmt.Errorf("role must be STUDENT or INSTRUCTOR: %w", err)
			}

			svc := auth.NewJWTService(auth.JWTConfig{
				SecretKey:      cfg.JWT.Secret,
				AccessTokenExp: helpers.ParseDuration(cfg.JWT.TokenExpiration, 24*time.Hour),
				TokenIssuer:    cfg.JWT.Issuer,
			})
			token, _, err := svc.GenerateToken(sender)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.userID, "user", "", "user id to embed")
	cmd.Flags().StringVar(&flags.name, "name", "", "display name")
	cmd.Flags().StringVar(&flags.role, "role", string(models.RoleStudent), "STUDENT or INSTRUCTOR")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
