package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-reservation/internal/config"
	"github.com/iliyamo/library-reservation/internal/database"
	"github.com/iliyamo/library-reservation/internal/handler"
	"github.com/iliyamo/library-reservation/internal/logging"
	"github.com/iliyamo/library-reservation/internal/middleware"
	"github.com/iliyamo/library-reservation/internal/queue"
	"github.com/iliyamo/library-reservation/internal/repository"
	"github.com/iliyamo/library-reservation/internal/repository/memstore"
	"github.com/iliyamo/library-reservation/internal/router"
	"github.com/iliyamo/library-reservation/internal/seed"
	"github.com/iliyamo/library-reservation/internal/service"
)

// stores is the set of ports the server runs on.
type stores struct {
	genres       repository.GenreStore
	books        repository.BookStore
	reservations repository.ReservationStore
	users        repository.UserStore
	tokens       repository.TokenStore
	db           *sql.DB
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		m := memstore.New()
		s := stores{genres: m.Genres(), books: m.Books(), reservations: m.Reservations(), users: m.Users(), tokens: m.Tokens()}
		sc := config.LoadSeedConfig()
		err := seed.Run(ctx, seed.Stores{Users: s.users, Genres: s.genres, Books: s.books}, seed.Options{
			AdminEmail:    sc.AdminEmail,
			AdminPassword: sc.AdminPassword,
			AdminUsername: sc.AdminUsername,
			BcryptCost:    cfg.BcryptCost,
			SampleCatalog: sc.Sample,
		}, logger)
		logger.Warn("using in-memory store; data is lost on exit")
		return s, err
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return stores{}, err
	}
	logger.Info("mysql connected", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))
	return stores{
		genres:       repository.NewGenreRepo(db),
		books:        repository.NewBookRepo(db),
		reservations: repository.NewReservationRepo(db),
		users:        repository.NewUserRepo(db),
		tokens:       repository.NewTokenRepo(db),
		db:           db,
	}, nil
}

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := logging.WithSignals(context.Background())
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	rdb := config.NewRedisClient(logger)
	if rdb != nil {
		defer func(c *redis.Client) { _ = c.Close() }(rdb)
	}
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, logger)

	qcfg := config.LoadQueueConfig()
	var publisher service.EventPublisher = queue.NoopPublisher{}
	if qcfg.Enabled {
		publisher = queue.NewPublisher(qcfg.URL, qcfg.Name, logger)
		if qcfg.Consume {
			consumer := queue.NewConsumer(qcfg.URL, qcfg.Name, qcfg.AuditLogPath, logger)
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("audit consumer stopped", slog.Any("error", err))
				}
			}()
		}
	} else {
		logger.Info("queue disabled, reservation events are dropped")
	}

	rc := config.LoadRetryConfig()
	workflow := service.NewWorkflow(st.reservations,
		service.WithPublisher(publisher),
		service.WithCacheInvalidator(cache),
		service.WithLogger(logger),
		service.WithRetry(
			service.WithMaxAttempts(rc.MaxAttempts),
			service.WithBaseDelay(rc.BaseDelay),
			service.WithJitterFactor(rc.JitterFactor),
		),
	)
	catalog := service.NewCatalog(st.genres, st.books,
		service.WithCatalogCache(cache),
		service.WithCatalogLogger(logger),
	)

	var pinger handler.Pinger
	if st.db != nil {
		pinger = st.db
	}
	e := router.New(router.Deps{
		Logger:       logger,
		JWTSecret:    cfg.JWTSecret,
		MediaDir:     cfg.MediaDir,
		Health:       handler.NewHealthHandler(pinger),
		Auth:         handler.NewAuthHandler(cfg, st.users, st.tokens),
		Catalog:      handler.NewCatalogHandler(catalog),
		Reservations: handler.NewReservationHandler(workflow),
		Admin:        handler.NewAdminReservationHandler(workflow),
		RateLimit:    middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger),
		Cache:        cache.Middleware(),
		Idempotency:  middleware.Idempotency(config.LoadIdempotencyConfig(), rdb, logger),
	})
	e.Server.ReadHeaderTimeout = 10 * time.Second

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env), slog.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
