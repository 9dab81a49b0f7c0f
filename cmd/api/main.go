package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"atelie/api/internal/app"
	"atelie/api/internal/assets"
	"atelie/api/internal/config"
	"atelie/api/internal/pubcache"
	"atelie/api/internal/search"
	"atelie/api/internal/store"
	"atelie/api/internal/thumbnail"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var cache *pubcache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err = pubcache.New(cfg.RedisURL, cfg.PublishCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cache.Close()
		log.Printf("Using Redis for public address resolution")
	}

	var assetStore app.AssetStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		assetStore, err = assets.New(ctx, assets.Options{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			UseSSL:     cfg.MinioUseSSL,
			Bucket:     cfg.MinioBucket,
			PublicBase: cfg.AssetPublicBase,
		})
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
	}

	deriver := thumbnail.NewDeriver(thumbnail.NewChromeRasterizer())

	service := app.NewService(dataStore, deriver, app.Options{
		PublicOrigin: cfg.PublicOrigin,
		QuietPeriod:  cfg.AutosaveQuietPeriod,
		Search:       searchService,
		Assets:       assetStore,
		PubCache:     cache,
	})
	service.ReindexSearch(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Ateliê API listening on %s", cfg.Addr)
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
