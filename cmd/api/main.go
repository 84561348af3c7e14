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

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/app"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/authpw"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/catalog"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/config"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/email"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/media"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/search"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/session"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	engine := catalog.NewEngine(catalog.NewRegistry(dataStore, dataStore))

	pgfts := search.NewPgFTS(dataStore.DB())
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	// Refresh tokens live in Redis when configured, Postgres otherwise.
	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		sessions = session.NewPostgresStore(dataStore)
	}

	opts := app.Options{
		AuthPW: authpw.NewService(dataStore),
		Search: searchService,
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if emailService.IsConfigured() {
		opts.Email = emailService
	} else {
		log.Printf("SMTP not configured, verification tokens returned inline")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaService, err := media.NewService(ctx, media.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		opts.Media = mediaService
	} else {
		log.Printf("MinIO not configured, cover uploads disabled")
	}

	service := app.New(cfg, dataStore, sessions, engine, opts)

	// Backfill the search index once Meilisearch reports healthy.
	if meiliClient != nil {
		go func() {
			time.Sleep(2 * time.Second)
			searchService.ReindexFromPG(ctx)
		}()
	}

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
		log.Printf("LibraTrack API listening on %s", cfg.Addr)
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
