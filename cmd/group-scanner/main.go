// Command group-scanner scans group IDs for claimable groups.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/group-scanner/pkg/config"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// flagKeys binds each command-line flag to its configuration key.
var flagKeys = map[string]string{
	"address":        "api.address",
	"host":           "api.host",
	"tls":            "api.tls",
	"ranges":         "scan.ranges",
	"workers":        "scan.workers",
	"batch-size":     "scan.batch_size",
	"cutoff":         "scan.cutoff",
	"timeout":        "scan.timeout",
	"mode":           "scan.mode",
	"proxies":        "proxy.file",
	"webhook":        "notify.webhook_url",
	"webhook-rate":   "notify.webhook_rate",
	"postgres":       "notify.postgres_dsn",
	"queue-size":     "notify.queue_size",
	"redis":          "redis.addr",
	"redis-password": "redis.password",
	"redis-db":       "redis.db",
	"redis-key":      "redis.key",
	"flush-interval": "redis.flush_interval",
	"metrics":        "metrics.addr",
	"log-level":      "log.level",
	"pretty":         "log.pretty",
	"stats-interval": "stats.interval",
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "group-scanner",
		Short: "Scan group ID ranges for ownerless groups open to public entry",
		Long: `group-scanner splits the given ID ranges across workers. Each worker
queries ownership in batches over its own connection, watches groups seen
owned, and reports a group once it is ownerless, open to public entry and
not locked. Discoveries are printed to stdout and optionally sent to a
webhook and a Postgres table.

Every flag can also be set in the config file or as a GROUPSCAN_* variable,
e.g. GROUPSCAN_SCAN_WORKERS=16.`,
		Example: `  group-scanner --ranges 1-1000000 --workers 16
  group-scanner --config scanner.yaml --proxies proxies.txt --webhook https://discord.com/api/webhooks/...`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML config file")

	flags.String("address", "", "API host:port to connect to")
	flags.String("host", "", "Host header and TLS server name")
	flags.Bool("tls", true, "use TLS")

	flags.StringSliceP("ranges", "r", nil, "ID ranges as start-end, end exclusive (repeatable)")
	flags.IntP("workers", "w", 0, "number of workers")
	flags.IntP("batch-size", "b", 0, "IDs per batch request")
	flags.Uint64("cutoff", 0, "keep IDs below this value when the API omits them (0 disables)")
	flags.Duration("timeout", 0, "connect and per-operation timeout")
	flags.String("mode", "", "work sharing: split or full")

	flags.StringP("proxies", "p", "", "proxy list file, one proxy per line")

	flags.String("webhook", "", "webhook URL for discoveries")
	flags.Float64("webhook-rate", 0, "maximum webhook messages per second")
	flags.String("postgres", "", "Postgres DSN for the discoveries table")
	flags.Int("queue-size", 0, "pending discoveries kept for slow sinks")

	flags.String("redis", "", "Redis host:port for the shared progress counter")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database")
	flags.String("redis-key", "", "Redis key prefix for progress")
	flags.Duration("flush-interval", 0, "progress flush interval")

	flags.String("metrics", "", "serve Prometheus metrics on this address")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Bool("pretty", false, "human-readable logs")
	flags.Duration("stats-interval", 0, "progress line interval (0 disables)")

	if err := bindFlags(v, flags); err != nil {
		panic(err)
	}

	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag --%s is not defined", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind --%s to %s: %w", name, key, err)
		}
	}
	return nil
}
