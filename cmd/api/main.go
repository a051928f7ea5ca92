package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/app"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/backend"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/config"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gitrepo"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/pubsub"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/search"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var repo backend.Repository
	if cfg.DatabaseURL == "memory://" {
		log.Printf("Using in-memory plan storage; plans are lost on restart")
		repo = store.NewMemoryRepository()
	} else {
		if path, ok := strings.CutPrefix(cfg.DatabaseURL, "sqlite://"); ok {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				log.Fatalf("failed to create data dir: %v", err)
			}
		}
		db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		repo = store.NewSQLRepository(db, dialect)
	}

	var broker pubsub.Broker = pubsub.NewMemoryBroker()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for change notices")
		redisBroker, err := pubsub.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisBroker.Close()
		broker = redisBroker
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewFallback(repo))
	defer searchService.Close()

	var history *gitrepo.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			log.Fatalf("failed to create history dir: %v", err)
		}
		history = gitrepo.New(cfg.HistoryDir)
	}

	engine := backend.New(repo, backend.Options{
		Broker:  broker,
		Search:  searchService,
		History: history,
	})
	service := app.NewService(engine, searchService)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	// No WriteTimeout: websocket subscriptions are long-lived.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Plan API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
