package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fleetwatch/fleetwatch/internal/logging"
	"github.com/fleetwatch/fleetwatch/internal/notifications"
)

var Version = "dev"

var listenAddr string

var rootCmd = &cobra.Command{
	Use:     "fleetwatch-relay",
	Short:   "Fleetwatch relay - delivers critical-state alert emails",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay()
	},
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":7656", "listen address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRelay() error {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "fleetwatch-relay"})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	emailCfg := notifications.EmailConfig{
		SMTPHost:         envOr("FLEETWATCH_SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:         envIntOr("FLEETWATCH_SMTP_PORT", 587),
		Username:         os.Getenv("FLEETWATCH_SMTP_USER"),
		Password:         os.Getenv("FLEETWATCH_SMTP_PASS"),
		From:             envOr("FLEETWATCH_SMTP_FROM", os.Getenv("FLEETWATCH_SMTP_USER")),
		DefaultRecipient: os.Getenv("FLEETWATCH_RECIPIENT_DEFAULT"),
	}
	if emailCfg.From == "" {
		return fmt.Errorf("FLEETWATCH_SMTP_FROM or FLEETWATCH_SMTP_USER must be set")
	}

	handler := notifications.NewRelayHandler(notifications.NewMailer(emailCfg))
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", listenAddr).Msg("Relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Relay server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring unparseable port")
		return fallback
	}
	return n
}
