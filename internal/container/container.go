// Package container wires the admission controller with samber/do. Each *Package
// function registers the providers for one concern; binaries pick the packages they
// need.
package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/events"
	eventstore "github.com/serroba/admission-go/internal/events/store"
	"github.com/serroba/admission-go/internal/handlers"
	"github.com/serroba/admission-go/internal/health"
	"github.com/serroba/admission-go/internal/messaging"
	"github.com/serroba/admission-go/internal/metrics"
	"github.com/serroba/admission-go/internal/middleware"
	"github.com/serroba/admission-go/internal/ratelimit"
	"github.com/serroba/admission-go/internal/store"
	"go.uber.org/zap"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ConsumerGroupName is the redis stream consumer group of the event consumer.
const ConsumerGroupName = "admission-events"

var ErrUnknownBackend = errors.New("unknown store backend")

type Options struct {
	Port          int    `default:"8888"           help:"Port to listen on"                                  short:"p"`
	RedisAddr     string `default:"localhost:6379" help:"Redis server address"                               short:"r"`
	DatabaseURL   string `default:""               help:"PostgreSQL URL for the event consumer"`
	LogFormat     string `default:"console"        help:"Log format: console or json"`
	LogLevel      string `default:"info"           help:"Log level"`
	PolicyFile    string `default:""               help:"YAML rate limit policy file"`
	DefaultLimit  int    `default:"100"            help:"Requests per window for unmatched paths"`
	DefaultWindow int    `default:"60"             help:"Window in seconds for unmatched paths"`
	StoreBackend  string `default:"redis"          help:"Counter store: redis or memory"`
	StoreTimeout  int    `default:"100"            help:"Counter store round trip timeout in milliseconds"`
	TrustProxy    bool   `default:"false"          help:"Trust X-Forwarded-For and X-Real-IP"`
	EventBuffer   int    `default:"1024"           help:"Queued admission events before dropping"`
	DisableEvents bool   `default:"false"          help:"Do not publish admission events"`
}

func (o *Options) storeTimeout() time.Duration {
	if o.StoreTimeout <= 0 {
		return ratelimit.DefaultStoreTimeout
	}

	return time.Duration(o.StoreTimeout) * time.Millisecond
}

func (o *Options) eventsEnabled() bool {
	return !o.DisableEvents && o.StoreBackend != BackendMemory
}

// Redis owns the shared redis client.
type Redis struct {
	Client *redis.Client
}

func (r *Redis) Shutdown() error {
	return r.Client.Close()
}

// Postgres owns the event database pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

func (p *Postgres) Shutdown() error {
	p.Pool.Close()

	return nil
}

// memoryStore stops the idle key sweeper on shutdown.
type memoryStore struct {
	ratelimit.Store

	cancel context.CancelFunc
}

func (m *memoryStore) Shutdown() error {
	m.cancel()

	return nil
}

// AdmissionEvents holds the publish functions handed to the admission middleware.
// Both are nil when events are disabled.
type AdmissionEvents struct {
	OnExceeded     messaging.Publish[events.RateLimitExceeded]
	OnStoreFailure messaging.Publish[events.StoreFailure]
}

func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		return NewLogger(opts.LogFormat, opts.LogLevel)
	})
}

func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Redis, error) {
		opts := do.MustInvoke[*Options](i)
		timeout := opts.storeTimeout()

		// The limiter sits on every request, so a slow redis must fail fast instead of
		// being retried.
		client := redis.NewClient(&redis.Options{
			Addr:                  opts.RedisAddr,
			ReadTimeout:           timeout,
			WriteTimeout:          timeout,
			PoolTimeout:           timeout,
			MaxRetries:            -1,
			ContextTimeoutEnabled: true,
		})

		return &Redis{Client: client}, nil
	})
}

func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Postgres, error) {
		opts := do.MustInvoke[*Options](i)

		pool, err := pgxpool.New(context.Background(), opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		return &Postgres{Pool: pool}, nil
	})
}

func MetricsPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*metrics.Admission, error) {
		return metrics.NewAdmission(), nil
	})
}

func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*ratelimit.PolicyTable, error) {
		opts := do.MustInvoke[*Options](i)

		return config.LoadPolicy(opts.PolicyFile, int64(opts.DefaultLimit), int64(opts.DefaultWindow))
	})

	do.Provide(i, func(i *do.Injector) (ratelimit.Store, error) {
		opts := do.MustInvoke[*Options](i)
		m := do.MustInvoke[*metrics.Admission](i)

		switch opts.StoreBackend {
		case BackendRedis:
			s, err := store.NewRateLimitRedisStore(do.MustInvoke[*Redis](i).Client)
			if err != nil {
				return nil, err
			}

			return metrics.NewInstrumentedStore(s, m), nil
		case BackendMemory:
			s := store.NewRateLimitMemoryStore()

			ctx, cancel := context.WithCancel(context.Background())
			s.StartJanitor(ctx, time.Minute)

			return &memoryStore{Store: metrics.NewInstrumentedStore(s, m), cancel: cancel}, nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.StoreBackend)
		}
	})

	do.Provide(i, func(i *do.Injector) (*ratelimit.SlidingWindowLimiter, error) {
		opts := do.MustInvoke[*Options](i)

		return ratelimit.NewSlidingWindowLimiter(
			do.MustInvoke[ratelimit.Store](i),
			ratelimit.WithTimeout(opts.storeTimeout()),
		), nil
	})
}

func PublisherGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     do.MustInvoke[*Redis](i).Client,
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, messaging.NewZapLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.AsyncPublisher[events.RateLimitExceeded], error) {
		opts := do.MustInvoke[*Options](i)
		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewAsyncPublisher(
			messaging.NewPublishFunc[events.RateLimitExceeded](group.Publisher(), events.TopicRateLimitExceeded),
			opts.EventBuffer,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.AsyncPublisher[events.StoreFailure], error) {
		opts := do.MustInvoke[*Options](i)
		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewAsyncPublisher(
			messaging.NewPublishFunc[events.StoreFailure](group.Publisher(), events.TopicStoreFailure),
			opts.EventBuffer,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (*AdmissionEvents, error) {
		opts := do.MustInvoke[*Options](i)
		if !opts.eventsEnabled() {
			return &AdmissionEvents{}, nil
		}

		return &AdmissionEvents{
			OnExceeded:     do.MustInvoke[*messaging.AsyncPublisher[events.RateLimitExceeded]](i).Publish,
			OnStoreFailure: do.MustInvoke[*messaging.AsyncPublisher[events.StoreFailure]](i).Publish,
		}, nil
	})
}

func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*chi.Mux, error) {
		router := chi.NewMux()
		router.Handle("/metrics", do.MustInvoke[*metrics.Admission](i).Handler())

		return router, nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvoke[*chi.Mux](i)
		policies := do.MustInvoke[*ratelimit.PolicyTable](i)
		limiter := do.MustInvoke[*ratelimit.SlidingWindowLimiter](i)
		evts := do.MustInvoke[*AdmissionEvents](i)

		api := humachi.New(router, huma.DefaultConfig("Admission Controller", "1.0.0"))

		// Middleware must be in place before any operation is registered.
		api.UseMiddleware(
			middleware.RequestMeta(api, opts.TrustProxy),
			middleware.Admission(api, middleware.AdmissionDeps{
				Limiter:        limiter,
				Policies:       policies,
				Metrics:        do.MustInvoke[*metrics.Admission](i),
				OnExceeded:     evts.OnExceeded,
				OnStoreFailure: evts.OnStoreFailure,
				Logger:         logger,
			}),
		)

		var checker health.Checker
		if opts.StoreBackend == BackendRedis {
			checker = health.NewRedisChecker(do.MustInvoke[*Redis](i).Client)
		}

		health.RegisterRoutes(api, health.NewHandler(checker))
		handlers.RegisterRoutes(api, handlers.NewUsageHandler(limiter, policies, logger))

		return api, nil
	})
}

func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (events.Store, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if opts.DatabaseURL == "" {
			logger.Info("no database configured, logging events only")

			return eventstore.NewNoop(logger), nil
		}

		s := eventstore.NewPostgresStore(do.MustInvoke[*Postgres](i).Pool)
		if err := s.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("ensure event schema: %w", err)
		}

		return s, nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)
		eventStore := do.MustInvoke[events.Store](i)

		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        do.MustInvoke[*Redis](i).Client,
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: ConsumerGroupName,
		}, messaging.NewZapLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(messaging.NewConsumer(
			subscriber,
			events.TopicRateLimitExceeded,
			events.NewRateLimitExceededHandler(eventStore),
			logger,
		))
		group.Add(messaging.NewConsumer(
			subscriber,
			events.TopicStoreFailure,
			events.NewStoreFailureHandler(eventStore),
			logger,
		))

		return group, nil
	})
}
