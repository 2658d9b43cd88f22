package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"letterfall/engine/internal/auth"
	"letterfall/engine/internal/config"
	"letterfall/engine/internal/httpapi"
	"letterfall/engine/internal/identity"
	"letterfall/engine/internal/logging"
	"letterfall/engine/internal/recorder"
	"letterfall/engine/internal/session"
	"letterfall/engine/internal/storage"
	"letterfall/engine/internal/transport"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("configuration invalid", logging.Error(err))
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		logging.L().Fatal("logger setup failed", logging.Error(err))
	}
	logging.ReplaceGlobals(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//1.- Pick the storage backend: Postgres when configured, memory otherwise.
	var store storage.Store = storage.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal("postgres setup failed", logging.Error(err))
		}
		store = pg
	}
	defer store.Close()

	//2.- Same split for the player directory: Redis or memory.
	var directory identity.Directory = identity.NewMemoryDirectory()
	if cfg.RedisAddr != "" {
		rd, err := identity.NewRedisDirectory(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis setup failed", logging.Error(err))
		}
		directory = rd
	}
	defer directory.Close()

	var verifier auth.Verifier
	if cfg.AuthSecret != "" {
		v, err := auth.NewHMACTokenVerifier(cfg.AuthSecret, time.Minute)
		if err != nil {
			log.Fatal("token verifier setup failed", logging.Error(err))
		}
		verifier = v
	}

	manager := session.NewManager()
	handler := transport.NewHandler(transport.Options{
		Logger:          log,
		Manager:         manager,
		Verifier:        verifier,
		Directory:       directory,
		Store:           store,
		RecordDir:       cfg.RecordDir,
		CountdownTicks:  cfg.CountdownTicks,
		PingInterval:    cfg.PingInterval,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		MaxClients:      cfg.MaxClients,
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	//3.- Recording retention runs in the background when a directory is set.
	var cleaner *recorder.Cleaner
	if cfg.RecordDir != "" {
		cleaner = recorder.NewCleaner(cfg.RecordDir, recorder.RetentionPolicy{
			MaxBundles: cfg.RecordMaxCount,
			MaxAge:     time.Duration(cfg.RecordMaxAgeDays) * 24 * time.Hour,
		}, log)
		go cleaner.Run(ctx, time.Hour)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	opsOpts := httpapi.Options{
		Logger:      log,
		Manager:     manager,
		Clients:     handler.ClientCount,
		SavedCount:  store.SavedCount,
		AdminToken:  cfg.AuthSecret,
		RateLimiter: httpapi.NewSlidingWindowLimiter(time.Minute, 5, nil),
	}
	if cleaner != nil {
		opsOpts.Sweeper = cleaner
	}
	httpapi.NewHandlerSet(opsOpts).Register(mux)

	server := &http.Server{
		Addr:        cfg.Address,
		Handler:     logging.HTTPTraceMiddleware(log)(mux),
		ReadTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("engine listening",
			logging.String("addr", cfg.Address),
			logging.Bool("tls", cfg.TLSCertPath != ""))
		if cfg.TLSCertPath != "" {
			errCh <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server stopped", logging.Error(err))
	}

	//4.- Stop accepting traffic, then let in-flight persistence drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", logging.Error(err))
	}
	handler.Drain()
	log.Info("engine stopped")
}
