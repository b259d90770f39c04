// Package container provides dependency injection and lifecycle management
// for the case event handler.
package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/garyjia/case-event-handler/internal/application/dispatcher"
	"github.com/garyjia/case-event-handler/internal/application/handler"
	"github.com/garyjia/case-event-handler/internal/application/port"
	"github.com/garyjia/case-event-handler/internal/config"
	"github.com/garyjia/case-event-handler/internal/infrastructure/auth"
	"github.com/garyjia/case-event-handler/internal/infrastructure/external/workflowapi"
	"github.com/garyjia/case-event-handler/internal/infrastructure/featureflag"
	"github.com/garyjia/case-event-handler/internal/infrastructure/messaging/kafka"
	"github.com/garyjia/case-event-handler/internal/infrastructure/metrics"
	httpserver "github.com/garyjia/case-event-handler/internal/interfaces/http"
	"github.com/garyjia/case-event-handler/pkg/database"
)

// FeatureBundle holds the flag provider and whatever backs it
type FeatureBundle struct {
	Provider port.FeatureFlagProvider
	DB       *database.DB
	Redis    *redis.Client
}

// MetricsBundle holds the Prometheus registry and the dispatch recorder
type MetricsBundle struct {
	Registry *prometheus.Registry
	Recorder *metrics.Recorder
}

// ProvideFeatureFlags builds the configured flag provider. The sqlite
// provider migrates its schema and seeds configured defaults; the redis
// provider checks the connection.
func ProvideFeatureFlags(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FeatureBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	flagLogger := &zapLoggerAdapter{logger: logger.Named("featureflag")}

	switch cfg.Features.Provider {
	case config.ProviderSQLite:
		db, err := database.New(database.Config{
			Path:            cfg.Database.Path,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}

		migrator := database.NewMigrator(db, logger)
		if cfg.Database.MigrationsDir != "" {
			err = migrator.RunMigrations(ctx, cfg.Database.MigrationsDir)
		} else {
			err = migrator.RunEmbedded(ctx)
		}
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		provider := featureflag.NewSQLiteProvider(db.DB, cfg.Features.Flags, flagLogger)
		if err := provider.Seed(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to seed feature flags: %w", err)
		}
		return &FeatureBundle{Provider: provider, DB: db}, nil

	case config.ProviderRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		provider := featureflag.NewRedisProvider(client, cfg.Redis.KeyPrefix, cfg.Features.Flags, flagLogger)
		return &FeatureBundle{Provider: provider, Redis: client}, nil

	default:
		return &FeatureBundle{Provider: featureflag.NewStaticProvider(cfg.Features.Flags)}, nil
	}
}

// ProvideTokenGenerator creates the outbound S2S token generator
func ProvideTokenGenerator(cfg *config.S2SConfig) *auth.TokenGenerator {
	return auth.NewTokenGenerator(toAuthConfig(cfg))
}

// ProvideTokenVerifier creates the inbound verifier, or nil when inbound
// verification is off
func ProvideTokenVerifier(cfg *config.S2SConfig) *auth.TokenVerifier {
	if !cfg.VerifyInbound {
		return nil
	}
	return auth.NewTokenVerifier(toAuthConfig(cfg))
}

func toAuthConfig(cfg *config.S2SConfig) auth.Config {
	return auth.Config{
		Microservice:    cfg.Microservice,
		Secret:          cfg.Secret,
		TTL:             cfg.TTL,
		AllowedServices: cfg.AllowedServices,
	}
}

// ProvideWorkflowClient creates the workflow API client used as both the
// decision evaluator and the message sender
func ProvideWorkflowClient(cfg *config.WorkflowAPIConfig, tokens port.ServiceTokenGenerator, logger *zap.Logger) *workflowapi.Client {
	return workflowapi.NewClient(workflowapi.Config{
		BaseURL:         cfg.URL,
		Timeout:         cfg.Timeout,
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxElapsedTime:  cfg.MaxElapsedTime,
	}, tokens, &zapLoggerAdapter{logger: logger.Named("workflowapi")})
}

// ProvideHandlers builds the enabled handlers in execution order:
// initiation, cancellation, warning.
func ProvideHandlers(cfg *config.HandlersConfig, client *workflowapi.Client, logger *zap.Logger) []handler.Handler {
	deps := handler.Deps{
		Evaluator: client,
		Sender:    client,
		Logger:    &zapLoggerAdapter{logger: logger.Named("handler")},
	}

	table := func(h config.HandlerConfig) handler.TableConfig {
		return handler.TableConfig{Prefix: h.TablePrefix, TenantScoped: h.TenantScoped}
	}

	var handlers []handler.Handler
	if cfg.Initiation.Enabled {
		handlers = append(handlers, handler.NewInitiation(table(cfg.Initiation), deps))
	}
	if cfg.Cancellation.Enabled {
		handlers = append(handlers, handler.NewCancellation(table(cfg.Cancellation), deps))
	}
	if cfg.Warning.Enabled {
		handlers = append(handlers, handler.NewWarning(table(cfg.Warning), deps))
	}
	return handlers
}

// ProvideMetrics creates a private registry carrying the process and Go
// runtime collectors plus the dispatch recorder
func ProvideMetrics() *MetricsBundle {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsBundle{Registry: reg, Recorder: metrics.NewRecorder(reg)}
}

// ProvideDispatcher creates the event dispatcher with its handlers registered
func ProvideDispatcher(flags port.FeatureFlagProvider, handlers []handler.Handler, recorder dispatcher.Metrics, tracer trace.Tracer, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if flags == nil {
		return nil, fmt.Errorf("feature flag provider is required")
	}

	opts := []dispatcher.Option{
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
		dispatcher.WithHandlers(handlers...),
	}
	if recorder != nil {
		opts = append(opts, dispatcher.WithMetrics(recorder))
	}
	if tracer != nil {
		opts = append(opts, dispatcher.WithTracer(tracer))
	}

	return dispatcher.NewDispatcher(flags, opts...), nil
}

// ProvideHTTPServer creates the HTTP adapter in front of processor
func ProvideHTTPServer(cfg *config.ServerConfig, processor httpserver.MessageProcessor, verifier httpserver.TokenVerifier, bundle *MetricsBundle, health httpserver.HealthCheck, version string, logger *zap.Logger) *httpserver.Server {
	opts := []httpserver.ServerOption{httpserver.WithVersion(version)}
	if health != nil {
		opts = append(opts, httpserver.WithHealthCheck(health))
	}
	if verifier != nil {
		opts = append(opts, httpserver.WithTokenVerifier(verifier))
	}
	if bundle != nil {
		opts = append(opts, httpserver.WithMetricsHandler(metrics.Handler(bundle.Registry)))
	}

	return httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	}, processor, &zapLoggerAdapter{logger: logger.Named("http")}, opts...)
}

// ProvideConsumer connects the Kafka consumer group, or returns nil when
// the subscriber is disabled
func ProvideConsumer(cfg *config.KafkaConfig, processor kafka.MessageProcessor, tracer trace.Tracer, logger *zap.Logger) (*kafka.Consumer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	consumer, err := kafka.NewConsumer(kafka.Config{
		Brokers:       cfg.Brokers,
		Topic:         cfg.Topic,
		GroupID:       cfg.GroupID,
		ClientID:      cfg.ClientID,
		InitialOffset: cfg.InitialOffset,
	}, processor, &zapLoggerAdapter{logger: logger.Named("kafka")}, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return consumer, nil
}
