package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatcart/pkg/bus"
	"chatcart/pkg/db"
	"chatcart/services/tokens"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatcartctl",
		Short:         "Operational tooling for the chatcart secure token store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newTokensCommand())
	cmd.AddCommand(newEventsCommand())
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(cmd.Context(), pool)
		},
	}
}

func newTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Secure token lifecycle operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newTokensCleanupCommand())
	cmd.AddCommand(newTokensStatsCommand())
	cmd.AddCommand(newTokensRevokeCommand())
	return cmd
}

func newTokensCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete records expired past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, pool, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			deleted, err := svc.CleanupExpiredTokens(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired token(s)\n", deleted)
			return nil
		},
	}
}

func newTokensStatsCommand() *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count live tokens per type within a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, pool, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := svc.GetTokenStats(cmd.Context(), workspaceID)
			if err != nil {
				return err
			}

			types := make([]string, 0, len(stats))
			for t := range stats {
				types = append(types, string(t))
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", t, stats[tokens.TokenType(t)])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace to scope the counts to")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func newTokensRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Force-expire a token immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, pool, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if !svc.RevokeToken(cmd.Context(), args[0]) {
				return errors.New("token not found or already expired")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "revoked")
			return nil
		},
	}
}

func newEventsCommand() *cobra.Command {
	var (
		subject string
		durable string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail token lifecycle events from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := os.Getenv("NATS_URL")
			if url == "" {
				return errors.New("NATS_URL is not set")
			}

			eventBus, err := bus.Connect(url, "chatcartctl")
			if err != nil {
				return err
			}
			defer eventBus.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub, err := eventBus.Subscribe(ctx, subject, durable, func(_ context.Context, data []byte) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
				return nil
			})
			if err != nil {
				return err
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "chatcart.tokens.*", "Subject filter to tail")
	cmd.Flags().StringVar(&durable, "durable", "chatcartctl-tail", "Durable consumer name")
	return cmd
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		return nil, errors.New("DB_DSN is not set")
	}
	return db.Open(ctx, dsn)
}

func openService(ctx context.Context) (*tokens.Service, *pgxpool.Pool, error) {
	pool, err := openPool(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, err := tokens.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	svc, err := tokens.NewService(store)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return svc, pool, nil
}
