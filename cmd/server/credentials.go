package main

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/neurondb/NeuronGateway/internal/auth"
	"github.com/neurondb/NeuronGateway/internal/config"
	"github.com/neurondb/NeuronGateway/internal/db"
	"github.com/neurondb/NeuronGateway/internal/gateway"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/spf13/cobra"
)

var (
	credentialUser string
	keyName        string
	keyExpiresIn   time.Duration
	sessionTTL     time.Duration
)

var generateKeyCmd = &cobra.Command{
	Use:   "generate-key",
	Short: "Create an API key for a user and print it once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *auth.Store, _ *config.Config) error {
			var expiresAt *time.Time
			if keyExpiresIn > 0 {
				t := time.Now().UTC().Add(keyExpiresIn)
				expiresAt = &t
			}

			key, apiKey, err := store.Keys().GenerateAPIKey(ctx, credentialUser, keyName, expiresAt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %s for %s:\n%s\n", apiKey.ID, credentialUser, key)
			return nil
		})
	},
}

var issueSessionCmd = &cobra.Command{
	Use:   "issue-session",
	Short: "Create a session for a user and print its bearer token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *auth.Store, cfg *config.Config) error {
			ttl := sessionTTL
			if ttl <= 0 {
				ttl = cfg.Auth.SessionTTL
			}

			token, session, err := store.IssueSession(ctx, credentialUser, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s for %s expires %s:\n%s\n",
				session.ID, credentialUser, session.ExpiresAt.Format(time.RFC3339), token)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{generateKeyCmd, issueSessionCmd} {
		c.Flags().StringVar(&credentialUser, "user", "", "user id the credential belongs to")
		_ = c.MarkFlagRequired("user")
	}
	generateKeyCmd.Flags().StringVar(&keyName, "name", "", "label for the key")
	generateKeyCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0, "key lifetime (0 never expires)")
	issueSessionCmd.Flags().DurationVar(&sessionTTL, "ttl", 0, "session lifetime (defaults to auth.session_ttl)")
}

// withStore opens the database, makes sure the user exists and hands over a credential store
func withStore(ctx context.Context, fn func(context.Context, *auth.Store, *config.Config) error) error {
	if !gateway.ValidIdentity(credentialUser) {
		return fmt.Errorf("invalid user id %q", credentialUser)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "stderr")

	database, queries, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if _, err := queries.CreateUser(ctx, &db.User{ID: credentialUser}); err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", credentialUser, err)
	}

	clk := clock.New()
	var tokens *auth.SessionTokens
	if cfg.Auth.JWTSecret != "" {
		if tokens, err = auth.NewSessionTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, clk); err != nil {
			return err
		}
	}
	return fn(ctx, auth.NewStore(queries, tokens, clk), cfg)
}
