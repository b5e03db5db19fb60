package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/ramory-l/matchsocket"
	"github.com/ramory-l/matchsocket/internal/devtoken"
	"github.com/ramory-l/matchsocket/internal/restapi"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("chatcli", pflag.ContinueOnError)

	var (
		baseURL  = fs.StringP("url", "u", "http://localhost:3000", "backend base url")
		userID   = fs.String("user", "", "user id to connect as")
		room     = fs.StringP("room", "r", "", "match id of the chat room")
		secret   = fs.String("secret", "", "mint a token with this secret")
		token    = fs.String("token", "", "bearer token, overrides --secret")
		logLevel = fs.StringP("log-level", "l", "info", "log level")
		dump     = fs.Bool("dump", false, "dump the thread on exit")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if *userID == "" || *room == "" {
		logger.Fatal().Msg("--user and --room are required")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	if *token == "" && *secret != "" {
		if *token, err = devtoken.Mint(*secret, *userID, 0); err != nil {
			logger.Fatal().Err(err).Msg("failed to mint token")
		}
	}
	tokens := matchsocket.StaticToken(*token)

	m := matchsocket.New(matchsocket.Config{
		Tokens: tokens,
		URL:    matchsocket.StaticURL(*baseURL),
		Logger: &logger,
	})
	defer m.Close()

	rest, err := restapi.New(*baseURL, tokens, nil, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create rest client")
	}

	thread := matchsocket.NewThread(0)

	m.OnConnectionStatus(func(s matchsocket.Status) {
		fmt.Printf("* %s\n", s)
		if s == matchsocket.StatusConnected {
			m.JoinRoom(*room)
		}
	})
	m.OnNewMessage(func(msg matchsocket.Message) {
		if msg.MatchID != *room {
			return
		}
		switch thread.Merge(msg) {
		case matchsocket.MergeAppended:
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format(time.Kitchen), msg.SenderID, msg.Content)
		case matchsocket.MergeReplaced:
			logger.Debug().Str("messageID", msg.ID).Msg("delivered")
		}
	})
	m.OnTypingStart(func(t matchsocket.Typing) {
		if t.UserID != *userID {
			fmt.Printf("* %s is typing\n", t.UserID)
		}
	})
	m.OnUserStatusChange(func(s matchsocket.UserStatus) {
		state := "offline"
		if s.IsOnline {
			state = "online"
		}
		fmt.Printf("* %s is %s\n", s.UserID, state)
	})
	m.OnError(func(text string) {
		fmt.Printf("! %s\n", text)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := m.Connect(ctx, *userID); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			handleLine(ctx, m, rest, thread, *room, *userID, strings.TrimSpace(line), logger)
		}
	}

	if *dump {
		spew.Fdump(os.Stderr, thread.Messages())
	}
}

func handleLine(ctx context.Context, m *matchsocket.Manager, rest *restapi.Client, thread *matchsocket.Thread, room, userID, line string, logger zerolog.Logger) {
	switch {
	case line == "":
		return
	case strings.HasPrefix(line, "/status "):
		m.GetUserStatus(strings.TrimSpace(strings.TrimPrefix(line, "/status ")))
		return
	case line == "/typing":
		m.SendTyping(room)
		return
	}

	placeholder := matchsocket.NewOptimisticMessage(room, userID, line, matchsocket.MessageText)
	thread.Add(placeholder)
	m.SendStoppedTyping(room)

	res, err := m.SendMessage(ctx, room, line, matchsocket.MessageText)
	if err == nil {
		logger.Debug().Str("resolution", res.Resolution.String()).Msg("sent")
		return
	}

	logger.Warn().Err(err).Msg("real-time send failed, falling back to http")
	stored, err := rest.SendMessage(ctx, room, line, matchsocket.MessageText)
	if err != nil {
		thread.Remove(placeholder.ID)
		fmt.Printf("! message not sent: %v\n", err)
		return
	}
	thread.Merge(*stored)
}
