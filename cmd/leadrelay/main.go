package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/leadrelay/leadrelay/api"
	"github.com/leadrelay/leadrelay/bot"
	"github.com/leadrelay/leadrelay/core/bootstrap"
	coreconfig "github.com/leadrelay/leadrelay/core/config"
	"github.com/leadrelay/leadrelay/core/logger"
	tg "github.com/leadrelay/leadrelay/core/telegram"
	"github.com/leadrelay/leadrelay/lead"
	"github.com/leadrelay/leadrelay/storage"
	"log/slog"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := coreconfig.Load(configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "app", "fatal", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *coreconfig.Config) error {
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer func() {
		_ = infra.DB.Close()
		_ = infra.Redis.Close()
	}()

	chats := storage.NewChatRepo(infra.DB)
	messages := storage.NewMessageRepo(infra.DB)
	sessions := storage.NewSessionRepo(infra.Redis, time.Duration(cfg.Redis.SessionTTLSeconds)*time.Second)
	objects := storage.NewObjectStorage(infra.S3, cfg.S3.Bucket)
	fetcher := lead.NewFetcher(objects, os.TempDir())

	tgBot, err := tg.New(cfg)
	if err != nil {
		return err
	}

	transport := bot.NewTransport(tgBot)
	dispatcher := lead.NewDispatcher(transport, chats, messages, fetcher)
	engine := lead.NewEngine(sessions, chats, dispatcher)

	handlers, err := bot.NewHandlers(tgBot, engine, sessions, chats, cfg.Telegram)
	if err != nil {
		return err
	}
	reg := tg.NewRegistry()
	handlers.Register(reg)

	server := api.NewServer(cfg.API, dispatcher, chats, sessions, tgBot.Me.ID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		defer cancel()
		errCh <- tg.Run(runCtx, tgBot, tg.RunOptions{
			Config:      cfg,
			Registry:    reg,
			Middlewares: tg.DefaultMiddlewares(cfg, nil),
			Routes:      handlers.Routes(reg),
		})
	}()
	go func() {
		defer cancel()
		errCh <- server.Run(runCtx)
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
