package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"family-sos-backend/internal/config"
	"family-sos-backend/internal/handlers"
	"family-sos-backend/internal/memstore"
	"family-sos-backend/internal/metrics"
	"family-sos-backend/internal/middleware"
	"family-sos-backend/internal/repository"
	"family-sos-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// backend is the set of stores the services run on
type backend struct {
	profiles interface {
		services.ProfileStore
		services.PushTokenStore
	}
	connections services.ConnectionStore
	families    services.FamilyStore
	events      services.EventStore
	access      services.AccessStore
	acks        services.AcknowledgementStore
	alerts      services.AlertStore
	places      services.PlaceStore
	calls       services.CallSequencer
}

func postgresBackend(db *pgxpool.Pool) backend {
	return backend{
		profiles:    repository.NewProfileRepository(db),
		connections: repository.NewConnectionRepository(db),
		families:    repository.NewFamilyRepository(db),
		events:      repository.NewEventRepository(db),
		access:      repository.NewAccessRepository(db),
		acks:        repository.NewAcknowledgementRepository(db),
		alerts:      repository.NewAlertRepository(db),
		places:      repository.NewPlaceRepository(db),
		calls:       repository.NewCallSequenceRepository(db),
	}
}

func memoryBackend(store *memstore.Store) backend {
	return backend{
		profiles:    store.Profiles(),
		connections: store.Connections(),
		families:    store.Families(),
		events:      store.EventTable(),
		access:      store.AccessTable(),
		acks:        store.AckTable(),
		alerts:      store.AlertTable(),
		places:      store.PlaceTable(),
		calls:       store.CallSequences(),
	}
}

// app holds the wired services the router serves
type app struct {
	auth     *services.AuthService
	hub      *services.WSHub
	events   *services.EventService
	alerts   *services.AlertService
	acks     *services.AcknowledgementService
	geofence *services.GeofenceService
	families services.FamilyStore
}

func newApp(cfg *config.Config, b backend, hub *services.WSHub, realtime services.Broadcaster, pusher services.Pusher) *app {
	access := services.NewAccessService(b.access, cfg.SOS.AccessTTL)
	alerts := services.NewAlertService(b.alerts, realtime, pusher, cfg.SOS.ChannelTimeout, cfg.SOS.FanoutConcurrency)

	return &app{
		auth:     services.NewAuthService(cfg.JWT.Secret),
		hub:      hub,
		events:   services.NewEventService(b.profiles, b.connections, b.families, b.events, access, realtime, cfg.SOS.RestrictedCountry),
		alerts:   alerts,
		acks:     services.NewAcknowledgementService(b.events, b.acks, alerts, realtime, b.calls),
		geofence: services.NewGeofenceService(b.families, b.places, cfg.SOS.DefaultPlaceRadiusM),
		families: b.families,
	}
}

func newRouter(cfg *config.Config, a *app) http.Handler {
	sosHandler := handlers.NewSOSHandler(a.events)
	alertHandler := handlers.NewAlertHandler(a.alerts, a.events)
	ackHandler := handlers.NewAcknowledgementHandler(a.acks)
	placeHandler := handlers.NewPlaceHandler(a.geofence)
	wsHandler := handlers.NewWebSocketHandler(a.hub, a.auth, a.families)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	secret := cfg.Security.InternalSecret

	r.Route("/functions/v1", func(r chi.Router) {
		// Internal or end-user callers
		r.Group(func(r chi.Router) {
			r.Use(middleware.TrustedOrAuthenticated(secret, a.auth))
			r.Post("/sos-create", sosHandler.CreateEvent)
			r.Post("/family-sos-alerts", alertHandler.SendFamilyAlerts)
		})

		// End-user callers
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(a.auth))
			r.Post("/family-sos-acknowledge", ackHandler.Acknowledge)
			r.Post("/sos/{event_id}/resolve", sosHandler.ResolveEvent)
			r.Post("/sos/{event_id}/locations", sosHandler.AddLocation)
			r.Get("/sos/{event_id}/locations", sosHandler.ListLocations)
		})

		// Internal callers
		r.Group(func(r chi.Router) {
			r.Use(middleware.InternalOnly(secret))
			r.Post("/detect-place-events", placeHandler.DetectPlaceEvents)
		})
	})

	r.Get("/realtime", wsHandler.HandleWebSocket)

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	return r
}

func Run() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var b backend
	if cfg.Database.Host == "" {
		log.Warn().Msg("No database configured, using in-memory store")
		b = memoryBackend(memstore.New())
	} else {
		db, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ping database")
		}
		log.Info().Msg("Database connection established")

		if cfg.Database.Migrate {
			if err := repository.Migrate(ctx, db); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply schema")
			}
			log.Info().Msg("Database schema applied")
		}
		b = postgresBackend(db)
	}

	hub := services.NewWSHub()
	var realtime services.Broadcaster = hub
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		relay := services.NewRedisRelay(client, hub)
		go relay.Run(ctx)
		realtime = relay
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Realtime relay enabled")
	}

	var pusher services.Pusher = services.DisabledPusher{}
	if cfg.APNs.KeyPath != "" {
		apns, err := services.NewAPNsPusher(cfg.APNs.KeyPath, cfg.APNs.KeyID, cfg.APNs.TeamID, cfg.APNs.Topic, cfg.APNs.Production, b.profiles)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create APNs client")
		}
		pusher = apns
	} else {
		log.Warn().Msg("APNs not configured, push notifications disabled")
	}

	a := newApp(cfg, b, hub, realtime, pusher)

	if cfg.AWS.S3Bucket != "" {
		archiver, err := services.NewS3Archiver(ctx, cfg.AWS.Region, cfg.AWS.S3Bucket, cfg.AWS.AccessKey, cfg.AWS.SecretKey, cfg.AWS.Endpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create report archiver")
		}
		a.alerts.SetArchiver(archiver)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(cfg, a),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string, pretty bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

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

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+middleware.InternalSecretHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
