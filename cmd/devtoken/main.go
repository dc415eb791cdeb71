// Package main 签发本地联调用的 bearer 凭证，仅在 HS256 模式下可用。
package main

import (
	"fmt"
	"os"
	"time"

	"docqa-go/internal/config"
	"docqa-go/pkg/token"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		subject    string
		name       string
		username   string
		tenantID   string
		groups     []string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Issue a signed bearer credential for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("devtoken requires auth.secret (HS256); RS256 credentials come from the identity provider")
			}
			manager, err := token.NewJWTManager(cfg.Auth)
			if err != nil {
				return err
			}

			claims := token.Claims{
				ObjectID:          subject,
				Name:              name,
				PreferredUsername: username,
				TenantID:          tenantID,
				Groups:            groups,
			}
			if ttl > 0 {
				now := time.Now()
				claims.RegisteredClaims = jwt.RegisteredClaims{
					IssuedAt:  jwt.NewNumericDate(now),
					NotBefore: jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				}
			}
			tok, err := manager.GenerateToken(claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "./configs/config.yaml", "path to config.yaml")
	cmd.Flags().StringVar(&subject, "sub", "", "user object id (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&username, "username", "", "preferred username")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "comma separated group ids")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "credential lifetime, defaults to auth.dev_token_expire_hours")
	_ = cmd.MarkFlagRequired("sub")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
