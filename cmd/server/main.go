package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/booking"
	"github.com/counselhub/room-server-go/internal/call"
	"github.com/counselhub/room-server-go/internal/config"
	"github.com/counselhub/room-server-go/internal/database"
	"github.com/counselhub/room-server-go/internal/handler"
	"github.com/counselhub/room-server-go/internal/jobs"
	"github.com/counselhub/room-server-go/internal/media"
	"github.com/counselhub/room-server-go/internal/middleware"
	"github.com/counselhub/room-server-go/internal/redis"
	"github.com/counselhub/room-server-go/internal/repository"
	"github.com/counselhub/room-server-go/internal/service"
	"github.com/counselhub/room-server-go/internal/siptransport"
	"github.com/counselhub/room-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	roomEventRepo := repository.NewRoomEventRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	bookingClient := booking.NewClient(cfg.BookingAPIURL, cfg.BookingAPITimeout())

	stack, err := siptransport.NewStack(siptransport.Config{
		ListenAddr:    cfg.SIPListenAddr(),
		AdvertiseHost: cfg.SIPAdvertiseAddr,
		Port:          cfg.SIPPort,
		Domain:        cfg.SIPDomain,
		Registrar:     cfg.SIPRegistrar,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SIP stack")
	}

	sipCtx, sipCancel := context.WithCancel(context.Background())
	go func() {
		if err := stack.Serve(sipCtx); err != nil {
			log.Fatal().Err(err).Msg("SIP listener error")
		}
	}()

	devices := media.NewDevices(cfg.SIPBindAddr, cfg.SIPAdvertiseAddr, cfg.MediaPortMin, cfg.MediaPortMax)

	roomService := service.NewRoomService(
		service.RoomServiceConfig{
			DialTimeout: cfg.DialTimeout(),
			GracePeriod: cfg.GracePeriod(),
			Thresholds:  cfg.TimerThresholds(),
			Video:       cfg.VideoEnabled,
			Watchers:    broker,
		},
		func(token string) service.Booking { return bookingClient.WithBearer(token) },
		func() call.Transport { return stack.NewTransport() },
		devices,
		roomEventRepo,
		db,
		broker,
	)

	authMiddleware := middleware.NewBearerAuthMiddleware()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(
		middleware.NewRedisRateLimiter(redisClient.Client), cfg.RateLimitPerMin,
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(cfg.MaxRequestBodyBytes)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	eventsHandler := handler.NewEventsHandler(broker, roomService)
	roomHandler := handler.NewRoomHandler(roomService, eventsHandler)
	redisPing := handler.PingFunc(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler := handler.NewHealthHandler(
		map[string]handler.Pinger{"database": db, "redis": redisPing},
		map[string]handler.Gauge{
			"rooms":      roomService.ActiveRooms,
			"sipCalls":   stack.ActiveCalls,
			"sseClients": broker.TotalClients,
			"mediaPorts": devices.InUse,
		},
	)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/v1/rooms", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", roomHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(
		roomEventRepo, roomService, cfg.EventRetention(), cfg.RoomIdleTTL(), config.CleanupJobInterval,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	roomService.Shutdown()
	sipCancel()
	if err := stack.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close SIP stack")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
