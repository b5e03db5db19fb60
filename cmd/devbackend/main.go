package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ramory-l/matchsocket/engineio"
	"github.com/ramory-l/matchsocket/internal/backend"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("devbackend", pflag.ContinueOnError)

	var (
		listenAddr  = fs.StringP("listen", "a", ":3000", "listen address")
		secret      = fs.StringP("secret", "s", "", "token signing secret, empty accepts any client")
		logLevel    = fs.StringP("log-level", "l", "debug", "log level")
		noWebsocket = fs.Bool("no-websocket", false, "serve long-polling only")
		ackMode     = fs.String("ack-mode", string(backend.AckModeAck), "send_message answer: ack, none, error, sent, reject or empty")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	mode, err := backend.ParseAckMode(*ackMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ack mode")
	}

	cfg := backend.DefaultConfig()
	cfg.Secret = *secret
	cfg.AckMode = mode
	cfg.Logger = &logger
	if *noWebsocket {
		cfg.Transports = []string{engineio.TransportPolling}
	}

	b := backend.New(cfg)
	b.OnConnect(func(c *backend.Conn) {
		logger.Info().Str("sid", c.ID()).Str("transport", c.Transport()).Msg("client connected")
	})
	b.OnDisconnect(func(c *backend.Conn, reason string) {
		logger.Info().Str("sid", c.ID()).Str("userID", c.UserID()).Str("reason", reason).Msg("client disconnected")
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := b.Run(ctx, *listenAddr); err != nil {
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
		os.Exit(1)
	}
	logger.Warn().Msg("interrupted")
}
