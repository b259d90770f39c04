package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/garyjia/case-event-handler/internal/application/dispatcher"
	"github.com/garyjia/case-event-handler/internal/application/handler"
	"github.com/garyjia/case-event-handler/internal/application/port"
	"github.com/garyjia/case-event-handler/internal/config"
	"github.com/garyjia/case-event-handler/internal/infrastructure/external/workflowapi"
	"github.com/garyjia/case-event-handler/internal/infrastructure/messaging/kafka"
	httpserver "github.com/garyjia/case-event-handler/internal/interfaces/http"
	"github.com/garyjia/case-event-handler/pkg/telemetry"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config  *config.Config
	logger  *zap.Logger
	version string

	// Infrastructure
	tracer          trace.Tracer
	shutdownTracing func(ctx context.Context)
	features        *FeatureBundle
	workflowClient  *workflowapi.Client
	metrics         *MetricsBundle

	// Application
	handlers   []handler.Handler
	dispatcher dispatcher.Dispatcher

	// Interfaces
	httpServer *httpserver.Server
	consumer   *kafka.Consumer

	// Lifecycle
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger, version string) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config:  cfg,
		logger:  logger,
		version: version,
	}, nil
}

// Start initializes all components and begins consuming from Kafka when
// enabled. Components are initialized in dependency order:
// 1. Tracing
// 2. Feature flag store
// 3. Workflow API client and S2S tokens
// 4. Handlers, metrics and dispatcher
// 5. HTTP server and Kafka consumer
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	defer func() {
		if err != nil {
			c.releaseLocked()
		}
	}()

	// Step 1: Tracing
	tp, shutdown, err := telemetry.Init(telemetry.Config{
		Enabled:          c.config.Telemetry.Enabled,
		ServiceName:      c.config.Telemetry.ServiceName,
		ExporterEndpoint: c.config.Telemetry.Endpoint,
		Probability:      c.config.Telemetry.Probability,
		Insecure:         c.config.Telemetry.Insecure,
		ResourceAttributes: map[string]string{
			"service.version": c.version,
		},
	}, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.tracer = tp.Tracer("case-event-handler")
	c.shutdownTracing = shutdown

	// Step 2: Feature flags
	features, err := ProvideFeatureFlags(c.ctx, c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize feature flags: %w", err)
	}
	c.features = features
	c.logger.Info("Feature flags initialized", zap.String("provider", c.config.Features.Provider))

	// Step 3: Workflow API
	tokens := ProvideTokenGenerator(&c.config.S2S)
	c.workflowClient = ProvideWorkflowClient(&c.config.WorkflowAPI, tokens, c.logger)

	// Step 4: Handlers and dispatcher
	c.handlers = ProvideHandlers(&c.config.Handlers, c.workflowClient, c.logger)

	var recorder dispatcher.Metrics
	if c.config.Metrics.Enabled {
		c.metrics = ProvideMetrics()
		recorder = c.metrics.Recorder
	}

	c.dispatcher, err = ProvideDispatcher(c.features.Provider, c.handlers, recorder, c.tracer, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher initialized", zap.Int("handler_count", len(c.handlers)))

	// Step 5: Interfaces
	var verifier httpserver.TokenVerifier
	if v := ProvideTokenVerifier(&c.config.S2S); v != nil {
		verifier = v
	}
	c.httpServer = ProvideHTTPServer(&c.config.Server, c.dispatcher, verifier, c.metrics, c.healthCheck, c.version, c.logger)

	c.consumer, err = ProvideConsumer(&c.config.Kafka, c.dispatcher, c.tracer, c.logger)
	if err != nil {
		return err
	}
	if c.consumer != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.consumer.Run(c.ctx); err != nil {
				c.logger.Error("Kafka consumer exited", zap.Error(err))
			}
		}()
		c.logger.Info("Kafka consumer started", zap.String("topic", c.config.Kafka.Topic))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.releaseLocked()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// releaseLocked stops the consumer and closes stores. Callers hold c.mu.
func (c *Container) releaseLocked() error {
	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	if c.consumer != nil {
		if err := c.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka consumer: %w", err))
		}
		c.wg.Wait()
		c.consumer = nil
		c.logger.Info("Kafka consumer closed")
	}

	if c.features != nil {
		if c.features.Redis != nil {
			if err := c.features.Redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		if c.features.DB != nil {
			if err := c.features.DB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		c.features = nil
	}

	if c.shutdownTracing != nil {
		c.shutdownTracing(context.Background())
		c.shutdownTracing = nil
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	switch {
	case c.features == nil:
		set("feature_flags", errors.New("not initialized"))
	case c.features.DB != nil:
		set("feature_flags", c.features.DB.PingContext(ctx))
	case c.features.Redis != nil:
		set("feature_flags", c.features.Redis.Ping(ctx).Err())
	default:
		set("feature_flags", nil)
	}

	if c.dispatcher == nil {
		set("dispatcher", errors.New("not initialized"))
	} else {
		set("dispatcher", nil)
	}

	if c.config.Kafka.Enabled && c.consumer == nil {
		set("kafka", errors.New("not running"))
	}

	return status
}

// healthCheck adapts Health to the HTTP adapter's /health probe
func (c *Container) healthCheck(ctx context.Context) (bool, interface{}) {
	status := c.Health(ctx)
	return status.Overall, status.Components
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// FeatureFlags returns the active flag provider.
func (c *Container) FeatureFlags() port.FeatureFlagProvider {
	if c.features == nil {
		return nil
	}
	return c.features.Provider
}

// Handlers returns the registered handlers in execution order.
func (c *Container) Handlers() []handler.Handler {
	return c.handlers
}

// HTTPServer returns the HTTP adapter.
func (c *Container) HTTPServer() *httpserver.Server {
	return c.httpServer
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the minimal Logger interfaces
// declared by each package.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Info(msg, fields...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Error(msg, fields...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
