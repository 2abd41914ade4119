// Command creditctl is the operator CLI: migrations, balances, manual grants
// and refunds, job inspection and guest cleanup.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/picpaygo/internal/app"
	"github.com/and161185/picpaygo/internal/config"
	"github.com/and161185/picpaygo/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli carries global flags and the lazily opened store.
type cli struct {
	out io.Writer

	configPath  string
	store       string
	sqlitePath  string
	databaseURL string
	objects     string
	jwtKey      string
	verbose     bool

	cfg config.Config
	log *zap.Logger
	st  *app.Store
	svc *app.Services
}

func run(ctx context.Context, args []string, out io.Writer) error {
	c := &cli{out: out}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	defer c.close()
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "creditctl",
		Short:         "Operate the credit ledger and generation queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "TOML config file")
	pf.StringVar(&c.store, "store", "", "store kind: postgres | sqlite (overrides config)")
	pf.StringVar(&c.sqlitePath, "sqlite-path", "", "SQLite database path (overrides config)")
	pf.StringVar(&c.databaseURL, "database-url", "", "PostgreSQL DSN (overrides config)")
	pf.StringVar(&c.objects, "objects", "", "object store kind: minio | memory (overrides config)")
	pf.StringVar(&c.jwtKey, "jwt-key", "", "HS256 signing key (overrides config)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		c.migrateCmd(),
		c.accountCmd(),
		c.balanceCmd(),
		c.grantCmd(),
		c.refundCmd(),
		c.historyCmd(),
		c.jobCmd(),
		c.jobsCmd(),
		c.submitCmd(),
		c.packsCmd(),
		c.checkoutCmd(),
		c.cleanupGuestsCmd(),
		c.resetFreeCmd(),
	)
	return root
}

func (c *cli) loadConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Store, c.store)
	set(&cfg.SQLitePath, c.sqlitePath)
	set(&cfg.DatabaseURL, c.databaseURL)
	set(&cfg.Objects.Kind, c.objects)
	set(&cfg.JWTKey, c.jwtKey)
	c.cfg = cfg

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if c.verbose {
		zc = zap.NewDevelopmentConfig()
	}
	c.log, err = zc.Build()
	return err
}

// open loads config and opens the store; withObjects also connects object storage.
func (c *cli) open(ctx context.Context, withObjects bool) error {
	if c.st != nil {
		return nil
	}
	if err := c.loadConfig(); err != nil {
		return err
	}
	st, err := app.OpenStore(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	c.st = st

	var objects storage.ObjectStore
	if withObjects {
		if objects, err = app.OpenObjects(ctx, c.cfg.Objects, c.log); err != nil {
			return err
		}
	}
	c.svc = app.NewServices(c.cfg, st, objects, app.Provider(c.cfg.Stripe, c.log), nil, c.log)
	return nil
}

func (c *cli) close() {
	if c.st != nil {
		c.st.Close()
	}
	if c.log != nil {
		_ = c.log.Sync()
	}
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
