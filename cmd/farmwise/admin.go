package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/farmwise/farmwise/go/orchestrator/internal/auth"
)

var (
	tokenSubject string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Gateway access tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed access token for the gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if features.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not configured")
		}
		switch tokenRole {
		case auth.RoleIntegration, auth.RoleOperator, auth.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		token, err := auth.NewJWTManager(features.Auth.JWTSecret, features.Auth.TokenExpiry).Issue(tokenSubject, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Integration API keys",
}

var apiKeyHashCmd = &cobra.Command{
	Use:   "hash KEY",
	Short: "Print the bcrypt hash to list under auth.api_key_hashes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashAPIKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "", "who the token is for (required)")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", auth.RoleOperator, "role: integration, operator or admin")
	_ = tokenIssueCmd.MarkFlagRequired("subject")
	tokenCmd.AddCommand(tokenIssueCmd)
	apiKeyCmd.AddCommand(apiKeyHashCmd)
	rootCmd.AddCommand(tokenCmd, apiKeyCmd)
}
