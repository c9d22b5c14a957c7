// README: Entry point; loads config, wires the ride service to its store, broker, and auth, and serves HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"rideshare/internal/config"
	httptransport "rideshare/internal/http"
	"rideshare/internal/infra"
	"rideshare/internal/logging"
	"rideshare/internal/maps"
	"rideshare/internal/modules/ride"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("rideshare api exited")
	}
	log.Info("rideshare api stopped")
}

// run owns every resource it opens, so deferred closes fire on all error paths.
func run(cfg config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	defer closeStore()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	deps := ride.Deps{Logger: log}
	if cfg.RabbitMQ.URL != "" {
		broker, err := infra.NewAMQP(cfg.RabbitMQ.URL)
		if err != nil {
			return fmt.Errorf("rabbitmq init: %w", err)
		}
		defer func() {
			if err := broker.Close(); err != nil {
				log.WithError(err).Warn("rabbitmq close")
			}
		}()
		pub, err := ride.NewAMQPPublisher(broker.Channel, cfg.RabbitMQ.Exchange)
		if err != nil {
			return fmt.Errorf("rabbitmq topology: %w", err)
		}
		deps.Publisher = pub
	} else {
		log.Info("RIDE_RABBITMQ_URL not set; ride events will not be published")
	}
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return fmt.Errorf("maps init: %w", err)
		}
		deps.Estimator = routes
	} else {
		deps.Estimator = maps.StraightLineEstimator{}
	}

	rideSvc := ride.NewService(store, deps)
	handler := httptransport.NewServer(httptransport.ServerDeps{
		Rides:    rideSvc,
		Verifier: verifier,
		Logger:   log,
		Ready:    ready,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	log.WithFields(logrus.Fields{"addr": cfg.HTTP.Addr, "store": cfg.Store, "auth": cfg.Auth.Mode}).Info("rideshare api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// openStore returns the configured ride store, a readiness probe, and a closer.
func openStore(ctx context.Context, cfg config.Config, log *logrus.Entry) (ride.Store, func(context.Context) error, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return ride.NewPostgresStore(db), db.Ping, db.Close, nil
	case config.StoreMongo:
		client, err := infra.NewMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, nil, err
		}
		store := ride.NewMongoStore(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, nil, err
		}
		ready := func(ctx context.Context) error { return client.Ping(ctx, nil) }
		return store, ready, func() { _ = client.Disconnect(context.Background()) }, nil
	case config.StoreRedis:
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, nil, nil, err
		}
		ready := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return ride.NewRedisStore(client), ready, func() { _ = client.Close() }, nil
	}
	log.Warn("using in-memory ride store; state is lost on restart")
	return ride.NewMemoryStore(), nil, func() {}, nil
}

func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	if cfg.Auth.Mode == config.AuthJWT {
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), nil
	}
	fv, err := infra.NewFirebaseVerifier(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentials)
	if err != nil {
		return nil, err
	}
	return fv, nil
}
