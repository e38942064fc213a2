// Package main is the entry point for the terminal chat client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/config"
	"github.com/healthbridge/chat-client/internal/controller"
	"github.com/healthbridge/chat-client/internal/history"
	"github.com/healthbridge/chat-client/internal/realtime"
	"github.com/healthbridge/chat-client/internal/session"
	"github.com/healthbridge/chat-client/internal/tui"
	"github.com/healthbridge/chat-client/pkg/logger"
)

func main() {
	godotenv.Load()
	cfg := config.Load()

	// the terminal belongs to the TUI; logs go to a file
	log, err := logger.NewFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	sess := session.NewStore(cfg.APIBaseURL, httpClient, log)

	ctx := context.Background()
	if err := sess.Login(ctx, cfg.Username, cfg.Password); err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	repo := history.NewRepository(cfg.APIBaseURL, httpClient, sess, log)

	factory := func(conversationID string) controller.Channel {
		return realtime.NewChannel(realtime.Config{
			ConversationID: conversationID,
			URL: func() string {
				return cfg.WSBaseURL + "/ws/chat/" + conversationID + "/?token=" + url.QueryEscape(sess.AccessToken())
			},
			BackoffBase: cfg.ReconnectBase,
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Logger:      log,
		})
	}

	ctrl := controller.New(repo, factory, log)
	ctrl.Start(ctx)

	program := tea.NewProgram(tui.New(ctrl), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		log.Error("tui exited with error", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
