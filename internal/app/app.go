package app

import (
	"context"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"

	"github.com/tanoorlab/tanoor/internal/events"
	"github.com/tanoorlab/tanoor/internal/mongo"
	"github.com/tanoorlab/tanoor/internal/queue"
	"github.com/tanoorlab/tanoor/internal/redis"
	"github.com/tanoorlab/tanoor/pkg"
)

const (
	AppName    = "tanoor"
	AppVersion = "0.1.0"

	defaultTimezone = "Asia/Tehran"
)

// App wires the queue engine: Redis day state over the Mongo journal,
// NATS notifications to bakery hardware and the HTTP surface.
type App struct {
	config *apt.Config
	logger apt.Logger
	micro  *apt.Micro

	journal  *mongo.Journal
	store    *redis.Store
	notifier *events.Notifier
	service  *queue.Service
}

func New(config *apt.Config, logger apt.Logger) (*App, error) {
	return &App{
		config: config,
		logger: logger,
	}, nil
}

// Initialize sets up all dependencies and components.
func (a *App) Initialize(ctx context.Context) error {
	tz, _ := a.config.GetString("queue.timezone")
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return err
	}

	a.journal = mongo.NewJournal(a.config, loc, a.logger)

	redisURL, _ := a.config.GetString("redis.url")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	a.store = redis.NewStore(redisURL, a.journal, loc, a.logger)

	natsURL, _ := a.config.GetString("nats.url")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	publisher, err := pkg.NewNATSPublisher(natsURL)
	if err != nil {
		return err
	}
	a.notifier = events.NewNotifier(publisher, a.logger)

	a.service = queue.NewService(a.store, a.journal, a.notifier, loc, a.logger)

	handler := queue.NewHandler(a.service, a.config, a.logger)
	customerHandler := queue.NewCustomerHandler(a.service, a.logger)

	midnight := NewMidnightJob(a.service, loc, a.logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})

	warmLifecycle := apt.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if err := a.service.Warm(ctx); err != nil {
				a.logger.Info("cannot warm bakery caches", "error", err)
			}
			return nil
		},
	}
	publisherLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			a.notifier.Close()
			return publisher.Close()
		},
	}

	options := []apt.Option{
		apt.WithConfig(a.config),
		apt.WithLogger(a.logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler, customerHandler),
		apt.WithLifecycle(a.journal, a.store, warmLifecycle, midnight, publisherLifecycle),
		apt.WithHealthChecks(AppName),
	}

	a.micro = apt.NewMicro(options...)
	return nil
}

// Run starts the application.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
