package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldsync/syncserver/internal/auth"
	"github.com/fieldsync/syncserver/internal/authflow"
	"github.com/fieldsync/syncserver/internal/authstore"
	"github.com/fieldsync/syncserver/internal/db"
	"github.com/fieldsync/syncserver/internal/docstore"
	"github.com/fieldsync/syncserver/internal/httpapi"
	"github.com/fieldsync/syncserver/internal/mailer"
	"github.com/fieldsync/syncserver/internal/syncengine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "fieldsync-syncserver").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	jwtSecret := env("JWT_SECRET", "dev-secret-change-in-production")
	if jwtSecret == "dev-secret-change-in-production" && env("ENV", "") != "dev" {
		log.Fatal().Msg("FATAL: JWT_SECRET must be set to a strong random value outside ENV=dev")
	}
	jwtCfg := auth.JWTCfg{HS256Secret: jwtSecret}

	store := docstore.NewStore(pool, syncengine.DefaultRegistry.Tables(), syncengine.DefaultRegistry.PrimaryKeys())
	authStore := authstore.New(pool)
	otps := docstore.NewCollection(pool, "password_reset_otp", "email")

	var mailTransport mailer.Mailer
	if smtpHost := env("SMTP_HOST", ""); smtpHost != "" {
		mailTransport = mailer.NewSMTPMailer(mailer.SMTPCfg{
			Host:     smtpHost,
			Port:     env("SMTP_PORT", "587"),
			Username: env("SMTP_USERNAME", ""),
			Password: env("SMTP_PASSWORD", ""),
			From:     env("SMTP_FROM", "no-reply@fieldsync.example"),
		})
	} else {
		mailTransport = mailer.DevMailer{}
	}

	srv := &httpapi.Server{
		DB:     pool,
		JWTCfg: jwtCfg,
		Engine: &syncengine.Engine{
			Registry:       syncengine.DefaultRegistry,
			Store:          syncengine.WrapDocstore(store),
			VerifyPassword: authstore.VerifyPasswordHash,
		},
		AuthFlow: &authflow.Flow{
			Auth:     authStore,
			Profiles: store.Collection("user"),
			OTPs:     otps,
			Mailer:   mailTransport,
			JWT:      jwtCfg,
		},
	}

	httpAddr := ":" + env("PORT", "5000")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
