package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/greenharvest/storefront/internal/authbridge"
	"github.com/greenharvest/storefront/internal/cartstore"
	"github.com/greenharvest/storefront/internal/catalog"
	"github.com/greenharvest/storefront/internal/config"
	"github.com/greenharvest/storefront/internal/events"
	"github.com/greenharvest/storefront/internal/httpserver"
	"github.com/greenharvest/storefront/internal/logging"
	"github.com/greenharvest/storefront/internal/search"
	"github.com/greenharvest/storefront/internal/session"
	"github.com/greenharvest/storefront/internal/sheets"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	db, err := session.OpenDB(cfg.DatabaseURL, cfg.SessionDBPath)
	if err != nil {
		log.Fatalf("session db init error: %v", err)
	}

	sealer, err := session.NewSealer(cfg.SessionSealKey)
	if err != nil {
		log.Fatalf("seal key error: %v", err)
	}
	sessions := &session.Store{DB: db, Sealer: sealer}

	esClient, err := search.NewESClient(cfg.ESURL, cfg.ESUser, cfg.ESPassword, logger)
	if err != nil {
		log.Fatalf("elasticsearch init error: %v", err)
	}

	producer := events.NewProducer(cfg.KafkaBrokers)
	exporter := sheets.NewExporter(cfg.SheetsWebAppURL, cfg.SheetsSheetID, logger)

	srv := httpserver.New(httpserver.Deps{
		Auth:          authbridge.NewClient(cfg.AuthURL, cfg.AuthAPIKey),
		Cart:          cartstore.NewClient(cfg.AuthURL, cfg.AuthAPIKey),
		Catalog:       catalog.NewClient(cfg.ShopAPIURL),
		Sessions:      sessions,
		Searcher:      &search.Searcher{ES: esClient, Log: logger},
		Producer:      producer,
		Exporter:      exporter,
		Log:           logger,
		GuestCheckout: cfg.GuestCheckout,
	})

	e := echo.New()
	e.HideBanner = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(logging.RequestLogger(logger))

	httpserver.Register(e, srv)

	go func() {
		log.Printf("Starting storefront on %s...", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("echo start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("echo shutdown: %v", err)
	}

	srv.Close()
	exporter.Close()

	if err := producer.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}

	log.Println("Server stopped")
}
