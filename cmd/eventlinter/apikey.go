package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	mw "github.com/splashkes/eventlinter/internal/api/middleware"
	"github.com/splashkes/eventlinter/internal/store"
	"github.com/splashkes/eventlinter/pkg/models"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage dashboard API keys.",
}

var (
	apikeyName   string
	apikeyScopes []string
)

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a key and print it once.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(apikeyName) == "" {
			return fmt.Errorf("--name is required")
		}
		key, raw, err := mw.GenerateKey(apikeyName, apikeyScopes)
		if err != nil {
			return err
		}
		return withKeyStore(cmd.Context(), func(s *store.PostgresStore) error {
			if err := s.CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("create key: %w", err)
			}
			printCreatedKey(cmd.OutOrStdout(), key, raw)
			return nil
		})
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active keys.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withKeyStore(cmd.Context(), func(s *store.PostgresStore) error {
			keys, err := s.ListAPIKeys(cmd.Context())
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}
			return printKeys(cmd.OutOrStdout(), keys)
		})
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke a key by id.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid key id %q: %w", args[0], err)
		}
		return withKeyStore(cmd.Context(), func(s *store.PostgresStore) error {
			if err := s.RevokeAPIKey(cmd.Context(), id); err != nil {
				return fmt.Errorf("revoke key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", id)
			return nil
		})
	},
}

func init() {
	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "human-readable key name")
	apikeyCreateCmd.Flags().StringSliceVar(&apikeyScopes, "scopes", []string{mw.ScopeRead}, "scopes granted to the key")
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
}

func withKeyStore(ctx context.Context, fn func(*store.PostgresStore) error) error {
	cfg, err := loadDatabaseConfig()
	if err != nil {
		return err
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(store.NewPostgresStore(pool))
}

func printCreatedKey(w io.Writer, key *models.APIKey, raw string) {
	fmt.Fprintf(w, "id:     %s\n", key.ID)
	fmt.Fprintf(w, "name:   %s\n", key.Name)
	fmt.Fprintf(w, "scopes: %s\n", strings.Join(key.Scopes, ","))
	fmt.Fprintf(w, "key:    %s\n", raw)
	fmt.Fprintln(w, "Store this key now; it cannot be shown again.")
}

func printKeys(w io.Writer, keys []*models.APIKey) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
	}
	return tw.Flush()
}
