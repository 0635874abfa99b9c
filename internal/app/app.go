package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/metrics"
	"chat-realtime/internal/services"
	"chat-realtime/internal/store"
	"chat-realtime/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the wired realtime engine behind a fiber app.
type Server struct {
	Fiber    *fiber.App
	Registry *handlers.GroupRegistry

	store  store.Store
	cancel context.CancelFunc
}

// OpenStore connects the backend selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := db.InitDB(ctx, cfg.DatabaseURL, int32(cfg.MaxConns), log)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return store.NewPostgres(pool), nil
	case config.DriverSQLite:
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// New wires services, the registry and the routes. Metrics are registered
// on reg and served from /metrics.
func New(cfg config.Config, log *zap.Logger, st store.Store, reg *prometheus.Registry) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New(reg)

	registry := handlers.NewGroupRegistry(log.Named("registry"), m)
	members := services.NewMembershipAuthority(st)
	chat := services.NewChatService(st, registry, log.Named("chat"))
	router := handlers.NewRouter(chat, members, st, registry, cfg.Realtime.LastSeenInterval, log.Named("router"), m)
	gateway := handlers.NewGateway(ctx, handlers.GatewayDeps{
		Auth:     services.NewTokenVerifier(cfg.Auth.JWTSecret, st, log.Named("auth")),
		Members:  members,
		Users:    st,
		Registry: registry,
		Router:   router,
		Config:   cfg.Realtime,
		Log:      log.Named("gateway"),
		Metrics:  m,
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// WebSocket Routes
	// Note: Middleware order matters. WSUpgradeMiddleware rejects plain HTTP,
	// TokenMiddleware only records the credential.
	ws := app.Group("/ws", handlers.WSUpgradeMiddleware, handlers.TokenMiddleware)
	ws.Get("/chat/:room_id", gateway.RoomHandler())
	ws.Get("/direct/:conversation_id", gateway.DirectHandler())

	return &Server{Fiber: app, Registry: registry, store: st, cancel: cancel}
}

// Shutdown closes every session (each runs its cleanup), stops fiber and
// releases the store.
func (s *Server) Shutdown() error {
	s.Registry.CloseAll()
	err := s.Fiber.Shutdown()
	s.cancel()
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func Run() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	st, err := OpenStore(context.Background(), cfg.Store, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srv := New(cfg, log, st, reg)

	// Start Server
	go func() {
		log.Info("listening", zap.String("port", cfg.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.Fiber.Listen(":" + cfg.Port); err != nil {
			log.Panic("listen", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c // Block until signal
	log.Info("gracefully shutting down")
	if err := srv.Shutdown(); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	log.Info("server shutdown complete")
}
