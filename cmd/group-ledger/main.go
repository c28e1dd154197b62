package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"group-ledger/ledger"
)

var (
	configPath  string
	backendFlag string
	dsnFlag     string
	dataDirFlag string
	debugFlag   bool

	cfg    *ledger.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "group-ledger",
	Short:         "Ledger of chat group advertisements",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `group-ledger records chat group advertisements seen in monitored groups.

Each advertisement is keyed by the group number it names. Repeated sightings
bump the seen count; changed content creates a new version and archives the
previous one.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		l, err := ledger.NewLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file path")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "store backend: sqlite, postgres, mysql or file")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "database DSN (overrides store.dsn)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory for the file store and default SQLite database")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logs")
}

// loadConfig merges the config file with flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*ledger.Config, error) {
	c := ledger.DefaultConfig()
	if configPath != "" {
		loaded, err := ledger.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		c = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		c.Store.Backend = backendFlag
	}
	if flags.Changed("dsn") {
		c.Store.DSN = dsnFlag
	}
	if flags.Changed("data-dir") {
		c.Store.DataDir = dataDirFlag
	}
	if flags.Changed("debug") {
		c.Debug = debugFlag
	}
	if c.Debug {
		c.Log.Level = "debug"
	}
	return c, nil
}

func openStore(ctx context.Context) (ledger.Store, error) {
	st, err := ledger.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	return st, nil
}

func newPipeline(st ledger.Store) (*ledger.Pipeline, error) {
	b := ledger.NewBuilder(ledger.NewClassifier(cfg.Keywords))
	var opts []ledger.PipelineOption
	if cfg.Notify.SyslogAddr != "" {
		n, err := ledger.NewSyslogNotifier(cfg.Notify)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ledger.WithNotifier(n))
	}
	return ledger.NewPipeline(b, st, logger, opts...), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
