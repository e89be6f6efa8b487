package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/PoluyanbIch/dailyquiz/internal/adminapi"
	"github.com/PoluyanbIch/dailyquiz/internal/clock"
	"github.com/PoluyanbIch/dailyquiz/internal/config"
	"github.com/PoluyanbIch/dailyquiz/internal/dispatch"
	"github.com/PoluyanbIch/dailyquiz/internal/metrics"
	"github.com/PoluyanbIch/dailyquiz/internal/service"
	"github.com/PoluyanbIch/dailyquiz/internal/telegram"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a dotenv file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Printf("config: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counters := metrics.New()
	clk := clock.Real()

	store, err := service.NewScoreStore(service.StoreConfig{
		Kind:      cfg.Scores.Store,
		Path:      cfg.Scores.Path,
		GistID:    cfg.Scores.GistID,
		GistToken: cfg.Scores.GistToken,
	})
	if err != nil {
		log.Printf("scores: %v", err)
		return 1
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	board := service.NewScoreBoard(store)
	if err := board.Load(ctx); err != nil {
		log.Printf("Failed to load daily scores, starting empty: %v", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Printf("telegram: %v", err)
		return 1
	}

	gateway := dispatch.New(dispatch.Config{
		MaxConcurrent:  cfg.Dispatch.MaxConcurrent,
		MaxRetries:     cfg.Dispatch.RetryMax,
		BaseBackoff:    cfg.Dispatch.BaseBackoff.Duration(),
		JitterMax:      cfg.Dispatch.JitterMax.Duration(),
		UserQueueSize:  cfg.Dispatch.UserQueueSize,
		AdminQueueSize: cfg.Dispatch.AdminQueueSize,
		Workers:        cfg.Dispatch.Workers,
	}, counters)
	platform := telegram.NewPlatform(api)

	var source service.Source
	if cfg.Quiz.CSVFile != "" {
		source = service.FileSource{Path: cfg.Quiz.CSVFile}
	} else {
		source = service.NewHTTPSource(cfg.Quiz.CSVURL, 15*time.Second)
	}
	cache := service.NewCache(source, board, clk, counters, service.CacheConfig{
		Location:      cfg.Quiz.Location(),
		CutoffHour:    cfg.Quiz.SwitchHour,
		FetchAttempts: cfg.Quiz.FetchAttempts,
		FetchBackoff:  cfg.Quiz.FetchBackoff.Duration(),
		Defaults: service.Defaults{
			TimeLimit:     cfg.Quiz.QuestionTime.Duration(),
			Marks:         cfg.Quiz.Marks,
			NegativeRatio: cfg.Quiz.NegativeRatio,
		},
	})
	if key, err := cache.Refresh(ctx); err != nil {
		log.Printf("Initial quiz load failed, will retry on demand: %v", err)
	} else {
		log.Printf("Quiz ready for %s", key)
	}

	sessions := service.NewSessionStore()
	engine := service.NewEngine(service.EngineDeps{
		Store:      sessions,
		Questions:  cache,
		Board:      board,
		Dispatcher: gateway,
		Prompter:   platform,
		Clock:      clk,
		Counters:   counters,
	}, service.EngineConfig{
		TransitionDelay:      cfg.Quiz.TransitionDelay.Duration(),
		Grace:                cfg.Quiz.Grace.Duration(),
		LateNoticeInterval:   cfg.Quiz.LateNoticeInterval.Duration(),
		ExplanationChunkSize: cfg.Quiz.ExplanationChunkSize,
		ShuffleQuestions:     cfg.Quiz.Shuffle,
		ForceRefreshWindow:   cfg.Quiz.FinalWindow.Duration(),
	})
	defer engine.Shutdown()

	monitor := service.NewIntegrityMonitor(sessions, clk, counters,
		cfg.Integrity.SessionTTL.Duration(), cfg.Integrity.SweepInterval.Duration())

	bot := telegram.NewBot(telegram.BotDeps{
		API:        api,
		Platform:   platform,
		Engine:     engine,
		Gateway:    gateway,
		Board:      board,
		CurrentKey: cache.CurrentKey,
		Counters:   counters,
		AdminIDs:   cfg.AdminIDs,
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return gateway.Run(ctx) })
	group.Go(func() error { return cache.RunDaily(ctx) })
	group.Go(func() error { return monitor.Run(ctx) })
	if cfg.AdminListenAddr != "" {
		router := adminapi.NewRouter(adminapi.Deps{
			Engine:     engine,
			Board:      board,
			Counters:   counters,
			CurrentKey: cache.CurrentKey,
		})
		group.Go(func() error { return adminapi.Serve(ctx, cfg.AdminListenAddr, router) })
	}
	group.Go(func() error {
		defer stop()
		return bot.Start(ctx)
	})

	log.Println("🤖 Bot is starting...")
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("bot stopped: %v", err)
		return 1
	}
	log.Println("Bot stopped")
	return 0
}
