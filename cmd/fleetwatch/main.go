package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fleetwatch/fleetwatch/internal/alerts"
	"github.com/fleetwatch/fleetwatch/internal/api"
	"github.com/fleetwatch/fleetwatch/internal/config"
	"github.com/fleetwatch/fleetwatch/internal/dashboard"
	"github.com/fleetwatch/fleetwatch/internal/history"
	"github.com/fleetwatch/fleetwatch/internal/logging"
	"github.com/fleetwatch/fleetwatch/internal/monitoring"
	"github.com/fleetwatch/fleetwatch/internal/notifications"
	"github.com/fleetwatch/fleetwatch/internal/prefs"
	"github.com/fleetwatch/fleetwatch/internal/registry"
	"github.com/fleetwatch/fleetwatch/internal/settings"
	"github.com/fleetwatch/fleetwatch/internal/vmstore"
	"github.com/fleetwatch/fleetwatch/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "fleetwatch",
	Short:   "Fleetwatch - VM fleet monitoring dashboard",
	Long:    `Fleetwatch serves the VM registry, classifies fleet state each poll cycle, and relays critical alerts.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Fleetwatch %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "fleetwatch"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "fleetwatch"})
	log.Info().Str("version", Version).Msg("Starting Fleetwatch server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prefStore, err := prefs.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open preference store")
	}

	vms, err := vmstore.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open VM registry store")
	}
	defer vms.Close()

	hist, err := history.NewStore(history.DefaultConfig(cfg.DataDir))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history store")
	}
	defer hist.Close()

	lifecycle := alerts.NewLifecycleStore(prefStore)
	settingsMgr := settings.NewManager(prefStore, alerts.Thresholds{
		CPU:          cfg.CPUThreshold,
		Memory:       cfg.MemoryThreshold,
		Idle:         cfg.IdleThreshold,
		OfflineGrace: cfg.OfflineGrace,
		Rearm:        cfg.NotifyFrequency,
	})
	if cfg.RecipientEmail != "" {
		seedRecipient(settingsMgr, cfg.RecipientEmail)
	}

	var sender notifications.Sender
	if cfg.RelayURL != "" {
		sender = notifications.NewRelayClient(cfg.RelayURL)
	} else {
		log.Warn().Msg("No relay URL configured, alert notifications are disabled")
		sender = noopSender{}
	}

	view := dashboard.NewViewModel(lifecycle, sender)

	hub := websocket.NewHub(func() interface{} { return view.Snapshot() })
	defer hub.Stop()

	fetcher := registry.NewClient(registryBaseURL(cfg))
	poller := monitoring.NewPoller(cfg.PollInterval, fetcher, view, settingsMgr, hist, hub)
	poller.Start(ctx)
	defer poller.Stop()

	startMetricsServer(ctx, cfg.MetricsAddr)

	router := api.NewRouter(vms, view, lifecycle, settingsMgr, hist, hub)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down API server cleanly")
	}
}

// seedRecipient installs the configured recipient as the initial preference
// without clobbering an operator edit from a previous run.
func seedRecipient(sm *settings.Manager, recipient string) {
	if sm.Recipient() != "" {
		return
	}
	if err := sm.Update(settings.Update{RecipientEmail: &recipient}); err != nil {
		log.Warn().Err(err).Msg("Failed to seed recipient email")
	}
}

// registryBaseURL resolves the registry the poller fetches from. By default
// the server polls its own API, mirroring the dashboard polling its backend.
func registryBaseURL(cfg *config.Config) string {
	if cfg.RegistryURL != "" {
		return cfg.RegistryURL
	}
	host, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return "http://127.0.0.1:7655"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

type noopSender struct{}

func (noopSender) Send(context.Context, notifications.AlertMessage) error { return nil }
