package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tradedesk/internal/api"
	"tradedesk/internal/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/ws"
	"tradedesk/pkg/cache"
	"tradedesk/pkg/config"
	"tradedesk/pkg/db"
)

func instanceID() string {
	if id, err := machineid.ProtectedID("tradedesk"); err == nil {
		return id[:16]
	}
	return uuid.NewString()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "dev"
	}
	instance := instanceID()
	log.Printf("starting tradedesk version=%s instance=%s port=%s", version, instance, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Realtime core: registry and publisher are explicit objects owned here
	// and passed by reference; nothing reaches them through ambient imports.
	hub := ws.NewHub()
	publisher := events.NewPublisher()
	publisher.Attach(hub)
	presence := ws.NewPresence(hub)

	gate := &ws.Gatekeeper{
		Verifier: ws.JWTVerifier{Secret: cfg.JWTSecret},
		Users:    database,
		Cache:    cache.New[*db.User](30 * time.Second),
	}
	wsHandler := &ws.Handler{
		Hub:  hub,
		Gate: gate,
		Opts: ws.Options{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteWait:        cfg.WriteWait,
			PongWait:         cfg.PongWait,
			MaxMessageSize:   cfg.MaxMessageSize,
			SendBuffer:       cfg.SendBuffer,
		},
	}

	// Ledger engine and its outbox dispatcher.
	engine := ledger.NewEngine(database)
	dispatcher := ledger.NewDispatcher(database, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	server := api.NewServer(database, engine, publisher, presence, wsHandler, api.Options{
		JWTSecret:          cfg.JWTSecret,
		TokenTTL:           cfg.TokenTTL,
		DefaultCurrency:    cfg.DefaultCurrency,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		Meta: api.SystemMeta{
			Version:    version,
			InstanceID: instance,
		},
	})

	// Optional gRPC health endpoint for orchestration probes.
	var grpcServer *grpc.Server
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			log.Fatalf("grpc health listen failed: %v", err)
		}
		grpcServer = grpc.NewServer()
		healthSvc := health.NewServer()
		healthSvc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, healthSvc)
		go func() {
			log.Printf("grpc health serving on :%s", cfg.GRPCHealthPort)
			if err := grpcServer.Serve(lis); err != nil {
				log.Printf("grpc health server stopped: %v", err)
			}
		}()
	}

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down")
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	cancel()
}
