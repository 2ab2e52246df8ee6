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

	"github.com/redis/go-redis/v9"

	"offerdesk/api/internal/app"
	"offerdesk/api/internal/assets"
	"offerdesk/api/internal/config"
	"offerdesk/api/internal/pdf"
	"offerdesk/api/internal/ratelimit"
	"offerdesk/api/internal/search"
	"offerdesk/api/internal/session"
	"offerdesk/api/internal/store"
	"offerdesk/api/internal/workspace"
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

	if _, err := dataStore.EnsureWorkspace(ctx, cfg.DefaultWorkspaceID, "Default", "default"); err != nil {
		log.Fatalf("ensure default workspace failed: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	sessions := session.NewRedisStoreWithClient(redisClient)
	if err := sessions.Ping(ctx); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	var assetStore *assets.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		assetStore, err = assets.NewStore(assets.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		if err := assetStore.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: ensure bucket failed (uploads may not work): %v", err)
		}
	}

	renderer := pdf.NewChromeRenderer()
	limiter := ratelimit.NewLimiter(redisClient, cfg.TrackRateLimit, cfg.TrackRateWindow)
	resolver := workspace.NewResolver(cfg.DefaultWorkspaceID)

	service := app.New(cfg, dataStore, sessions, assetStore, searchService, renderer)
	httpServer := app.NewHTTPServer(service, resolver, limiter, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Offerdesk API listening on %s", cfg.Addr)
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
