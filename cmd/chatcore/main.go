package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"chatcore/internal/api"
	"chatcore/internal/config"
	"chatcore/internal/logging"
	"chatcore/internal/realtime"
	"chatcore/internal/security"
	"chatcore/internal/session"
	"chatcore/internal/syncer"
)

func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.Init("production", "chatcore")
		fallback.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.Init(cfg.Env, cfg.AppName)

	identity, err := security.ParseIdentity(cfg.AuthToken)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid auth token")
	}
	log.Info().Str("user_id", identity.UserID).Msg("starting chat core")

	client := api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout, logging.Component(log, "api"))

	channel := realtime.NewChannel(realtime.Options{
		URL:                  cfg.WSURL,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		ReconnectInitialWait: cfg.ReconnectInitialWait,
		ReconnectMaxWait:     cfg.ReconnectMaxWait,
	}, identity, logging.Component(log, "realtime"))

	core := syncer.New(identity, client, channel, syncer.Options{
		Session: session.Options{
			HistoryPageSize:  cfg.HistoryPageSize,
			TypingIdleWindow: cfg.TypingIdleWindow,
			TypingPublishHz:  cfg.TypingPublishHz,
		},
		UnreadBadgeCap: cfg.UnreadBadgeCap,
	}, logging.Component(log, "syncer"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	log.Info().Int("conversations", core.Registry().Len()).Msg("synchronized")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down")
	case err := <-core.Down():
		log.Error().Err(err).Msg("realtime channel lost, giving up")
	}

	core.Close()
}
