package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tanmaysingewar/betterindex/internal/ai"
	"github.com/tanmaysingewar/betterindex/internal/chat"
	"github.com/tanmaysingewar/betterindex/internal/config"
	"github.com/tanmaysingewar/betterindex/internal/db"
	"github.com/tanmaysingewar/betterindex/internal/httpapi"
	"github.com/tanmaysingewar/betterindex/internal/httpapi/handlers"
	"github.com/tanmaysingewar/betterindex/internal/logger"
	"github.com/tanmaysingewar/betterindex/internal/quota"
	"github.com/tanmaysingewar/betterindex/internal/store/rabbitmq"
	"github.com/tanmaysingewar/betterindex/internal/user"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(&chat.Chat{}, &chat.Turn{}, &user.User{}); err != nil {
		logger.Fatalf("automigrate: %v", err)
	}

	limits := quota.Limits{
		Anonymous: cfg.QuotaAnonLimit,
		Free:      cfg.QuotaFreeLimit,
		Premium:   cfg.QuotaPremiumLimit,
		Window:    cfg.QuotaWindow,
	}
	var ledger quota.Ledger
	if cfg.RedisAddr == "off" {
		logger.Warnf("redis disabled, quota counters are process-local")
		ledger = quota.NewMemoryLedger(limits)
	} else {
		rdb := db.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ledger = quota.NewRedisLedger(rdb, limits)
	}

	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		p := ai.NewOllamaProvider(cfg.OllamaBaseURL, m)
		p.Think = true
		return p, nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	if !reg.Has(cfg.AIProvider) {
		logger.Fatalf("unknown AI_PROVIDER=%q", cfg.AIProvider)
	}

	repo := chat.NewRepo(gdb)
	chatSvc := chat.NewService(repo, reg, cfg.AIProvider, cfg.TitleModel, cfg.TitleTimeout)
	users := user.NewService(gdb)

	// the persistence queue is best-effort; without it, imported turn
	// batches are saved inline
	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		logger.Warnf("rabbit unavailable, batch saves run inline: %v", err)
		rabbit = nil
	} else {
		defer rabbit.Close()
	}

	h := handlers.NewHandler(gdb, cfg, chatSvc, users, ledger, rabbit)
	router := httpapi.NewRouter(cfg, h)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("server listening addr=%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
