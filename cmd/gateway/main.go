package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/netchange-gateway/internal/audit"
	"github.com/xela07ax/netchange-gateway/internal/confirm"
	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/console/handler"
	"github.com/xela07ax/netchange-gateway/internal/console/server"
	"github.com/xela07ax/netchange-gateway/internal/console/service"
	"github.com/xela07ax/netchange-gateway/internal/executor"
	"github.com/xela07ax/netchange-gateway/internal/infra"
	infraauth "github.com/xela07ax/netchange-gateway/internal/infra/auth"
	"github.com/xela07ax/netchange-gateway/internal/pipeline"
	"github.com/xela07ax/netchange-gateway/internal/preview"
	"github.com/xela07ax/netchange-gateway/internal/repository/postgres"
	"github.com/xela07ax/netchange-gateway/internal/resolve"
	"github.com/xela07ax/netchange-gateway/internal/risk"
	"github.com/xela07ax/netchange-gateway/internal/rollback"
	"github.com/xela07ax/netchange-gateway/internal/verify"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин:
	// cancel() останавливает слушателя решений при завершении
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Журнал: Postgres в проде, память без DB_URL (dev-режим)
	var store audit.Store
	var operatorRepo service.OperatorProvider
	if cfg.Database.URL != "" {
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		repo, err := postgres.NewRepo(pingCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			log.Fatalf("failed to init postgres: %v", err)
		}
		if err := repo.Ping(pingCtx); err != nil {
			log.Fatalf("database unreachable: %v", err)
		}
		pingCancel()
		defer repo.Close()
		store = repo
		operatorRepo = repo
	} else {
		logger.Warn("database.url not set, using in-memory change log and dev operator (dev mode)")
		store = audit.NewMemStore()

		// Dev-учетка admin/admin со всеми правами
		hash, _ := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
		operatorRepo = service.StaticOperators{
			"admin": {
				ID: "op-dev", Username: "admin", PasswordHash: string(hash),
				Role: "admin", Scopes: map[string]bool{"admin": true},
			},
		}
	}

	writer := audit.NewWriter(store, logger)
	writer.Start()

	// 3. Device API. HTTP-коннектор к управляющей системе в эту сборку
	// не входит: единственная реализация DeviceAPI — in-memory мок.
	// Лимитер общий на организацию и накрывает все типы вызовов.
	if cfg.Database.URL != "" {
		logger.Warn("no real device api connector in this build: mutations go to the in-memory mock")
	}
	mock := connectors.NewMockDeviceAPI()
	mock.Latency = true
	limiter := connectors.NewLimiter(cfg.DeviceAPI.RateRPS, cfg.DeviceAPI.RateBurst)
	api := connectors.NewLimitedClient(mock, limiter)

	// 4. Сборка конвейера
	classifier := risk.NewClassifier(cfg.Pipeline.BatchThreshold, logger)
	resolver := resolve.NewResolver(connectors.MockDirectory{}, connectors.AllowAllChecker{}, logger)
	previewer := preview.NewBuilder(api, connectors.NoopValidator{}, logger)
	gate := confirm.NewGate(cfg.Pipeline.ConfirmTimeout, logger)
	exec := executor.New(api, executor.Options{
		Attempts:            cfg.DeviceAPI.RetryAttempts,
		CallTimeout:         cfg.DeviceAPI.CallTimeout,
		ConsecutiveFailures: cfg.DeviceAPI.CBConsecutiveFails,
		BreakerCooldown:     cfg.DeviceAPI.CBCooldown,
	}, logger)
	verifier := verify.New(api, logger)

	reg := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(reg)

	// Слушатель решений операторов (Redis Pub/Sub -> Gate)
	go confirm.ListenDecisions(appCtx, rdb, gate, logger)

	// 5. Консоль оператора. Нотификатор конвейера — сам ChangeService,
	// поэтому сборка идет в два шага
	rb := rollback.NewEngine(store, nil, writer, logger)
	changeService := service.NewChangeService(gate, rb, rdb, logger)
	pipe := pipeline.New(classifier, resolver, previewer, gate, exec, verifier, writer,
		changeService, metrics, logger)
	changeService.AttachPipeline(pipe)
	rb.AttachRunner(pipe)

	// Auth: RS256, приватный ключ только у консоли
	privKey, err := infraauth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		log.Fatalf("failed to parse private key: %v", err)
	}
	pubKey, err := infraauth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		log.Fatalf("failed to parse public key: %v", err)
	}
	authService := service.NewAuthService(operatorRepo, privKey, cfg.Auth.TokenTTL)
	auditService := service.NewAuditService(store)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		infraauth.NewBaseValidator(pubKey),
		handler.NewAuthHandler(authService),
		handler.NewChangeHandler(changeService),
		handler.NewAuditHandler(auditService, changeService),
		reg,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("netchange gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-stop
	logger.Info("netchange gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %+v", err)
	}

	// Останавливаем фоновые горутины и дописываем журнал
	cancel()
	writer.Stop()
	logger.Info("netchange gateway exited properly")
}
