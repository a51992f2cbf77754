package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ecolog/ecolog/internal/config"
	"github.com/ecolog/ecolog/internal/engine"
	"github.com/ecolog/ecolog/internal/logging"
	"github.com/ecolog/ecolog/internal/signal"
	"github.com/ecolog/ecolog/internal/store"
	"github.com/ecolog/ecolog/internal/transport"
)

var (
	configFile string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ecolog",
	Short: "ecolog tracks disposal entries offline and syncs them in the background",
	Long: `ecolog is an offline-first tracker for disposal entries.

Every write lands in a local SQLite database immediately and is queued for
delivery to the configured backend. Reads never touch the network. A
background engine drains the queue whenever connectivity allows.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		logging.Setup(logging.Options{
			Level:      cfg.LogLevel,
			File:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "",
		"config file (default is $HOME/.ecolog/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}

// openEngine assembles the data layer for one command invocation. The
// returned engine owns the store; callers must Close it.
func openEngine(src signal.Source) (*engine.Engine, error) {
	s, degraded := store.OpenWithFallback(cfg.DatabasePath())
	if degraded {
		fmt.Fprintf(os.Stderr, "Warning: local database unavailable, running in-memory (entries will not survive this session)\n")
	}

	tr := transport.NewHTTPClient(transport.Config{
		BaseURL:           cfg.Sync.Endpoint,
		Timeout:           cfg.Sync.RequestTimeout,
		MaxAttemptRetries: uint64(cfg.Sync.AttemptRetries),
		InitialRetryDelay: cfg.Sync.InitialRetryDelay,
	})

	var policy engine.BatchPolicy = engine.FixedPolicy{Size: cfg.Sync.BatchSize}
	if cfg.Sync.Adaptive {
		policy = engine.AdaptivePolicy{}
	}

	e := engine.New(s, tr, src, policy, engine.Options{
		MaxRetries: cfg.Sync.MaxRetries,
		Interval:   cfg.Sync.Interval,
		BatchDelay: cfg.Sync.BatchDelay,
	})
	return e, nil
}

func fatalf(format string, args ...interface{}) {
	log.Debugf(format, args...)
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
