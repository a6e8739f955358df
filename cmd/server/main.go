package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rekwert/tesor/internal/api"
	"github.com/rekwert/tesor/internal/broker"
	"github.com/rekwert/tesor/internal/config"
	"github.com/rekwert/tesor/internal/marketdata"
	"github.com/rekwert/tesor/internal/scanner"
	"github.com/rekwert/tesor/internal/websocket"
	"github.com/rekwert/tesor/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		// Логгер еще не инициализирован
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Инициализация логирования
	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Logging.Development,
		Output:      cfg.Logging.Output,
	})
	defer log.Sync()

	log.Info("starting arbitrage scanner",
		zap.Strings("exchanges", cfg.Exchanges.Enabled),
		zap.Strings("symbols", cfg.Scanner.Symbols),
		zap.Duration("scan_interval", cfg.Scanner.Interval),
		zap.Float64("min_profit_pct", cfg.Scanner.MinProfitPct),
	)

	// Слой рыночных данных: store + supervisor сессий бирж
	store := marketdata.NewStore(cfg.Exchanges.Enabled)
	supervisor := marketdata.NewSupervisor(cfg, store)
	supervisor.Start()

	// Брокер раздает списки возможностей REST и WebSocket потребителям
	b := broker.New()

	// Сканер публикует результат каждого тика в брокер
	scn := scanner.New(cfg, store, b)
	scanCtx, stopScanner := context.WithCancel(context.Background())
	scannerDone := make(chan struct{})
	go func() {
		defer close(scannerDone)
		scn.Run(scanCtx)
	}()

	// WebSocket hub поверх брокера
	hub := websocket.NewHub(b)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		Config:     cfg,
		Store:      store,
		Broker:     b,
		Hub:        hub,
		Supervisor: supervisor,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		log.Info("http server listening",
			zap.String("addr", server.Addr),
			zap.Bool("https", cfg.Server.UseHTTPS),
		)

		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown по SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Порядок: сессии бирж -> сканер -> брокер -> websocket клиенты -> HTTP.
	// Публикация в закрытый брокер безопасна, поэтому гонка на границе
	// остановки сканера не страшна
	supervisor.Stop()

	stopScanner()
	<-scannerDone

	b.Close()
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("http server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
