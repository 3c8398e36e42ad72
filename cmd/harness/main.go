// Command harness manages the shared state of the item-management test
// suite: identity reservations, cached credentials and seed data.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"itemharness/internal/config"
	"itemharness/internal/harness"
	"itemharness/internal/logging"
)

// cli holds the global flags and the state built from them.
type cli struct {
	verbose         bool
	configPath      string
	metricsTextfile string
	timeout         time.Duration

	cfg    *config.Config
	logger *zap.Logger
	logs   *logging.Registry
	h      *harness.Harness
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "harness",
		Short: "Test identity, credential and seed-data harness",
		Long: `harness coordinates parallel test workers against the item-management API.

It leases test identities through a lock-guarded reservation file, caches
tokens and browser sessions per identity, and heals each identity's seed
items so every test starts from the same baseline.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger, err = logging.New(logging.Options{
				Level:   cfg.Logging.Level,
				Format:  cfg.Logging.Format,
				Verbose: c.verbose,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logs = logging.NewRegistry(c.logger, cfg.Logging.CategoryEnabled)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.finish(cmd.Context())
		},
	}

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "Config file")
	root.PersistentFlags().StringVar(&c.metricsTextfile, "metrics-textfile", "", "Write metrics to this file on exit")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 5*time.Minute, "Operation timeout")

	root.AddCommand(
		c.initCmd(),
		c.setupCmd(),
		c.rollCallCmd(),
		c.statusCmd(),
		c.leaseCmd(),
		c.releaseCmd(),
		c.authCmd(),
		c.seedCmd(),
		c.cleanupCmd(),
	)
	return root
}

// harness builds the harness on first use.
func (c *cli) harness() (*harness.Harness, error) {
	if c.h != nil {
		return c.h, nil
	}
	h, err := harness.New(c.cfg, harness.Options{Loggers: c.logs})
	if err != nil {
		return nil, err
	}
	c.h = h
	return h, nil
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *cli) finish(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	if c.h != nil {
		if c.metricsTextfile != "" {
			if werr := c.h.Metrics().WriteTextfile(c.metricsTextfile); werr != nil {
				err = fmt.Errorf("write metrics: %w", werr)
			}
		}
		if cerr := c.h.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
