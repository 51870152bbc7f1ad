package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/auth"
	"github.com/studyrooms/chatcore/internal/broadcast"
	"github.com/studyrooms/chatcore/internal/cache"
	"github.com/studyrooms/chatcore/internal/chat"
	"github.com/studyrooms/chatcore/internal/config"
	"github.com/studyrooms/chatcore/internal/gateway"
	"github.com/studyrooms/chatcore/internal/presence"
	"github.com/studyrooms/chatcore/internal/rooms"
	"github.com/studyrooms/chatcore/internal/storage"
	"github.com/studyrooms/chatcore/internal/store"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.FromEnv()
	processID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared store: Redis, or the in-process store for single-process runs.
	var kv store.KV
	if cfg.RedisAddr == config.InMemStore {
		log.Warn("using in-process shared store, multi-process presence disabled")
		kv = store.NewMem()
	} else {
		kv = store.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	durable, err := storage.OpenPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("durable storage unavailable", zap.Error(err))
	}
	defer durable.Close()

	var authn auth.Authenticator
	if cfg.JWKSURL != "" {
		jwks, err := auth.NewJWKS(ctx, cfg.JWKSURL, log)
		if err != nil {
			log.Fatal("jwks authenticator init failed", zap.Error(err))
		}
		defer jwks.Close()
		authn = jwks
	} else {
		authn = auth.NewHMAC([]byte(cfg.JWTSecret))
	}

	hub := gateway.NewHub()
	registry := presence.NewRegistry(kv, processID, cfg.LivenessTimeout, log)
	manager := rooms.NewManager(kv, durable, log)
	recency := cache.NewRecency(kv, cfg.RecencyTTL, cfg.RecencyLimit, log)

	var publisher broadcast.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := broadcast.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, processID)
		defer kp.Close()
		publisher = kp
	} else {
		log.Warn("relay disabled, cross-process delivery unavailable")
	}

	broadcaster := broadcast.New(manager, registry, hub, publisher, processID, log)
	pipeline := chat.NewPipeline(durable, manager, recency, broadcaster, log)
	server := gateway.NewServer(cfg, authn, hub, registry, manager, pipeline, recency, broadcaster, log)

	if len(cfg.KafkaBrokers) > 0 {
		relay := broadcast.NewRelay(cfg.KafkaBrokers, cfg.KafkaTopic, broadcaster, log)
		go relay.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.ServeWS)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HandshakeTimeout,
	}

	go func() {
		log.Info("chat gateway listening",
			zap.String("addr", cfg.Addr),
			zap.String("process", processID))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
}
