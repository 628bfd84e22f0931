// Command yapitctl is an operator CLI for the synthesis dispatch engine:
// inspecting queue depth, a user's usage pool, cached variants, and the
// dead-letter queue without reaching for redis-cli directly.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
	"github.com/yapit-tts/yapit-sub000/internal/queue"
	"github.com/yapit-tts/yapit-sub000/internal/redisx"
	"github.com/yapit-tts/yapit-sub000/internal/store"
	"github.com/yapit-tts/yapit-sub000/internal/usage"
)

var (
	redisAddr string
	redisPass string
	redisDB   int
	pgDSN     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "yapitctl",
		Short: "yapitctl - operator CLI for the TTS synthesis dispatch engine",
		Long:  "Inspect queue depth, usage pools, cached variants, and the dead-letter queue.",
	}

	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "localhost:6379", "Redis address")
	rootCmd.PersistentFlags().StringVar(&redisPass, "redis-pass", "", "Redis password")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "Redis database")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "postgres-dsn", "", "Postgres DSN (required for variant/usage commands)")

	rootCmd.AddCommand(
		queueDepthCmd(),
		dlqCmd(),
		usageCmd(),
		variantCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getRedis() (redisx.Client, error) {
	return redisx.NewGoRedisClient(redisAddr, redisPass, redisDB)
}

func getDB() (*sql.DB, error) {
	if pgDSN == "" {
		return nil, fmt.Errorf("--postgres-dsn is required for this command")
	}
	return sql.Open("postgres", pgDSN)
}

func queueDepthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue-depth <model-slug>...",
		Short: "Show pending queue depth for one or more models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getRedis()
			if err != nil {
				return err
			}
			q := queue.NewRedisQueue(client)
			ctx := context.Background()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tDEPTH")
			for _, slug := range args {
				depth, err := q.QueueDepth(ctx, slug)
				if err != nil {
					return fmt.Errorf("queue depth for %s: %w", slug, err)
				}
				fmt.Fprintf(w, "%s\t%d\n", slug, depth)
			}
			return w.Flush()
		},
	}
}

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the dead-letter queue",
	}
	cmd.AddCommand(dlqListCmd())
	return cmd
}

func dlqListCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "list <model-slug>",
		Short: "List dead-lettered jobs for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getRedis()
			if err != nil {
				return err
			}
			ctx := context.Background()
			key := "tts:dlq:" + args[0]
			entries, err := client.LRange(ctx, key, 0, limit-1)
			if err != nil {
				return fmt.Errorf("list dlq: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB_ID\tFINGERPRINT\tUSER_ID\tRETRY_COUNT")
			for _, raw := range entries {
				var job queue.Job
				if err := json.Unmarshal([]byte(raw), &job); err != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", job.JobID, job.Fingerprint, job.UserID, job.RetryCount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 50, "maximum entries to show")
	return cmd
}

func usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect a user's usage pool",
	}
	cmd.AddCommand(usageShowCmd())
	return cmd
}

func usageShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Report whether a user has usage capacity left (pool amounts are not shown)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := getDB()
			if err != nil {
				return err
			}
			defer db.Close()

			usageStore := store.NewUsageStore(db)
			ledger := usage.NewLedger(usageStore)

			if err := ledger.CheckLimit(context.Background(), args[0], 1); err != nil && !errors.Is(err, usage.ErrUsageLimitExceeded) {
				return fmt.Errorf("check usage: %w", err)
			} else if errors.Is(err, usage.ErrUsageLimitExceeded) {
				fmt.Println("user is at or over their usage limit")
				return nil
			}
			fmt.Println("user has remaining usage capacity")
			return nil
		},
	}
}

func variantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variant",
		Short: "Inspect cached synthesis variants",
	}
	cmd.AddCommand(variantLookupCmd())
	return cmd
}

func variantLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <fingerprint>",
		Short: "Look up a variant by its fingerprint hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := getDB()
			if err != nil {
				return err
			}
			defer db.Close()

			variantStore := store.NewVariantStore(db)
			registry := fingerprint.NewRegistry(variantStore)

			variant, err := registry.Lookup(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("lookup variant: %w", err)
			}
			if variant == nil {
				fmt.Println("no variant found for that fingerprint")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "fingerprint\t%s\n", variant.Fingerprint)
			fmt.Fprintf(w, "model_id\t%s\n", variant.ModelID)
			fmt.Fprintf(w, "voice_id\t%s\n", variant.VoiceID)
			fmt.Fprintf(w, "codec\t%s\n", variant.Codec)
			fmt.Fprintf(w, "has_cache_ref\t%s\n", strconv.FormatBool(variant.HasCacheRef()))
			if variant.HasCacheRef() {
				fmt.Fprintf(w, "cache_ref\t%s\n", *variant.CacheRef)
			}
			fmt.Fprintf(w, "created_at\t%s\n", variant.CreatedAt.Format(time.RFC3339))
			return w.Flush()
		},
	}
}
