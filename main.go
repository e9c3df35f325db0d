package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"signal_bot/config"
	"signal_bot/internal/deriv"
	"signal_bot/internal/engine"
	"signal_bot/internal/state"
	"signal_bot/internal/telegram"
	"signal_bot/internal/web"
)

func setupLogging(dataDir string) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(log.InfoLevel)
	log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   filepath.Join(dataDir, config.LogFile),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     14, // days
	}))
}

func main() {
	cfg := config.Load()
	setupLogging(cfg.DataDir)

	log.Info("🚀 Starting XAU/USD signal bot...")

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, err := range errs {
			log.Error(err)
		}
		log.Fatal("Configuration invalid, refusing to start")
	}

	store := state.NewManager(cfg.DataDir)
	if err := store.Load(); err != nil {
		log.Fatalf("State load failed: %v", err)
	}

	feed := deriv.New(cfg.DerivAppID, cfg.GoldSymbol)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	if err := feed.Connect(ctx); err != nil {
		cancel()
		log.Fatalf("Price feed unavailable: %v", err)
	}

	// The read loop must be running before any request/response call:
	// it is what resolves pending req_id waiters.
	go feed.Listen()

	if sym, err := feed.ResolveGoldSymbol(ctx); err != nil {
		log.Warnf("Symbol lookup failed, keeping %s: %v", cfg.GoldSymbol, err)
	} else if sym != cfg.GoldSymbol {
		log.Infof("Resolved gold symbol: %s", sym)
		cfg.GoldSymbol = sym
	}
	cancel()

	if err := feed.SubscribeTicks(cfg.GoldSymbol); err != nil {
		log.Fatalf("Tick subscription failed: %v", err)
	}

	eng := engine.NewSignalEngine(feed, store, cfg)

	bot, err := telegram.NewBot(cfg, eng, store)
	if err != nil {
		log.Fatalf("Telegram bot init failed: %v", err)
	}

	eng.SetCallbacks(engine.Callbacks{
		OnSignalOpen:      bot.BroadcastSignalOpen,
		OnTP1:             bot.BroadcastTP1,
		OnSignalClose:     bot.BroadcastSignalClose,
		OnUserTP1:         bot.NotifyUserTP1,
		OnUserSignalClose: bot.NotifyUserClose,
		OnTracking:        bot.BroadcastTracking,
		OnNotice:          bot.BroadcastNotice,
	})

	server := web.NewServer(eng, store, cfg.Port, cfg.KeepAliveInterval)
	server.Start()

	eng.Start()
	go bot.Start()

	bot.NotifyAdmin("🚀 Signal bot started")
	log.Info("✅ All systems running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("🛑 Shutting down...")
	eng.Stop()
	server.Stop()
	feed.Close()
	bot.Stop()
	log.Info("👋 Goodbye")
}
