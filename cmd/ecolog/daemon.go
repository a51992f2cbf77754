package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ecolog/ecolog/internal/engine"
	"github.com/ecolog/ecolog/internal/signal"
	"github.com/ecolog/ecolog/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync engine (foreground)",
	Long: `Run the sync engine's event loop in the foreground.

The engine drains the outbox when the device comes online, when the app
regains the foreground, and on a periodic ticker. Device state is read from
the capability state file (see state_file in the config); edit that file to
simulate connectivity changes.

Press Ctrl+C to stop; a final best-effort flush runs before exit.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Sync.Endpoint == "" {
			fatalf("sync.endpoint is not configured")
		}

		watcher := signal.NewFileWatcher(cfg.StateFile, 0)

		ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := watcher.Start(ctx); err != nil {
			fatalf("starting state watcher: %v", err)
		}
		defer watcher.Stop()

		e, err := openEngine(watcher)
		if err != nil {
			fatalf("opening data layer: %v", err)
		}
		defer e.Close()

		if cfg.Sync.MetricsAddr != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(engine.Collectors()...)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			go func() {
				if err := http.ListenAndServe(cfg.Sync.MetricsAddr, mux); err != nil {
					log.WithError(err).Warn("Metrics listener stopped")
				}
			}()
			fmt.Printf("   Metrics: http://%s/metrics\n", cfg.Sync.MetricsAddr)
		}

		fmt.Printf("%s Starting sync engine...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Endpoint: %s\n", cfg.Sync.Endpoint)
		fmt.Printf("   State file: %s\n", cfg.StateFile)
		fmt.Printf("   Interval: %v\n", cfg.Sync.Interval)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := e.Run(ctx); err != nil {
			fatalf("engine stopped: %v", err)
		}
		fmt.Printf("\n%s Stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
