// Package app builds the service graph shared by the server, checker and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/clock"
	"github.com/unclebandit/cartrecovery/internal/config"
	"github.com/unclebandit/cartrecovery/internal/db"
	"github.com/unclebandit/cartrecovery/internal/eligibility"
	"github.com/unclebandit/cartrecovery/internal/lock"
	"github.com/unclebandit/cartrecovery/internal/metrics"
	"github.com/unclebandit/cartrecovery/internal/provider"
	"github.com/unclebandit/cartrecovery/internal/queue"
	"github.com/unclebandit/cartrecovery/internal/repository"
	"github.com/unclebandit/cartrecovery/internal/service"
)

// App owns the external clients and the services built on them.
type App struct {
	Config   config.Config
	Log      *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	DB    *sql.DB
	Redis *redis.Client
	Queue queue.Queue
	amqp  *queue.AMQPQueue
	mem   *queue.InMemoryQueue

	Mailer      provider.Mailer
	Outreach    *service.OutreachService
	Ingestion   *service.IngestionService
	Checker     *service.CheckerService
	SalesWorker *service.SalesLeadWorker
}

// New connects to the store, Redis and the broker as configured and wires the services.
// Missing mail credentials fail with a ConfigurationError before any connection is made.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Graph.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	conn, err := db.Open(ctx, cfg.DB, log)
	if err != nil {
		return nil, err
	}
	a.DB = conn

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	clk := clock.System{}
	a.Mailer = provider.NewGraphMailer(provider.GraphConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	}, clk, log)

	if cfg.SalesEmail != "" {
		a.SalesWorker, err = service.NewSalesLeadWorker(a.Mailer, cfg.SalesEmail, a.Metrics, log.Named("sales"))
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.openQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	carts := repository.NewCartRepository(conn)
	engine, err := eligibility.NewEngine(carts, eligibility.Schedule{
		Window: cfg.Checker.Window,
		Gaps:   eligibility.DefaultSchedule().Gaps,
	}, cfg.Checker.BatchLimit, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build eligibility engine: %w", err)
	}

	a.Outreach = &service.OutreachService{
		OutreachRepo: repository.NewOutreachRepository(conn),
		Generator:    a.generator(),
		Discounts:    a.issuer(clk),
		Mailer:       a.Mailer,
		Queue:        a.Queue,
		Locker:       locker,
		Schedule:     engine.Schedule(),
		Clock:        clk,
		Metrics:      a.Metrics,
		Log:          log.Named("outreach"),
		Config: service.OutreachConfig{
			StoreName:         cfg.StoreName,
			CartURL:           cfg.CartURL,
			SalesEmail:        cfg.SalesEmail,
			SalesTopic:        cfg.SalesQueue,
			GenerationTimeout: cfg.Checker.GenerationTimeout,
			DiscountTimeout:   cfg.Checker.DiscountTimeout,
			DeliveryTimeout:   cfg.Checker.DeliveryTimeout,
			RecordTimeout:     recordTimeout,
			LeaseTTL:          cartLeaseTTL(cfg.Checker),
		},
	}
	a.Ingestion = &service.IngestionService{
		CustomerRepo: repository.NewCustomerRepository(conn),
		CartRepo:     carts,
		Outreach:     a.Outreach,
		Clock:        clk,
		Metrics:      a.Metrics,
		Log:          log.Named("ingestion"),
	}
	a.Checker = &service.CheckerService{
		Selector: engine,
		Outreach: a.Outreach,
		Locker:   locker,
		LockKey:  lock.CheckerKey,
		LockTTL:  cfg.Checker.LockTTL,
		Clock:    clk,
		Metrics:  a.Metrics,
		Log:      log.Named("checker"),
	}
	return a, nil
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.Redis.Addr == "" {
		a.Log.Info("REDIS_ADDR not set, checker lock is process local")
		return lock.NewLocalLocker(), nil
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return lock.NewRedisLocker(a.Redis), nil
}

// openQueue uses RabbitMQ when AMQP_URL is set. Otherwise sales leads are
// handled in process, or not published at all when no sales mailbox exists.
func (a *App) openQueue(ctx context.Context) error {
	if a.Config.AMQPURL != "" {
		q, err := queue.DialAMQP(a.Config.AMQPURL, a.Log.Named("amqp"))
		if err != nil {
			return err
		}
		a.amqp = q
		a.Queue = q
		return nil
	}
	if a.SalesWorker == nil {
		a.Log.Info("SALES_EMAIL not set, sales leads disabled")
		return nil
	}

	q := queue.NewInMemoryQueue(a.Log.Named("queue"))
	if err := queue.StartSalesLeadSubscriber(ctx, q, a.Config.SalesQueue, a.SalesWorker, a.Log); err != nil {
		return err
	}
	a.mem = q
	a.Queue = q
	return nil
}

const (
	recordTimeout     = 10 * time.Second
	queueDrainTimeout = 10 * time.Second
)

// cartLeaseTTL outlives one full generate, discount, deliver and record cycle.
func cartLeaseTTL(c config.CheckerConfig) time.Duration {
	return c.GenerationTimeout + c.DiscountTimeout + c.DeliveryTimeout + recordTimeout + 30*time.Second
}

func (a *App) generator() provider.Generator {
	if !a.Config.OpenAI.Enabled() {
		a.Log.Info("OPENAI_API_KEY not set, using the built-in email template")
		return provider.TemplateGenerator{StoreName: a.Config.StoreName, SalesEmail: a.Config.SalesEmail}
	}
	return provider.NewOpenAIGenerator(a.Config.OpenAI.BaseURL, a.Config.OpenAI.APIKey,
		a.Config.OpenAI.Model, a.Config.StoreName, a.Log)
}

func (a *App) issuer(clk clock.Clock) provider.DiscountIssuer {
	if !a.Config.Shopify.Enabled() {
		a.Log.Info("Shopify credentials not set, discounts disabled")
		return provider.NopIssuer{}
	}
	return provider.NewShopifyIssuer(a.Config.Shopify.ShopDomain, a.Config.Shopify.AccessToken, "", clk, a.Log)
}

// Close drains in-process sales leads, then releases every client New opened.
func (a *App) Close() {
	if a.mem != nil {
		ctx, cancel := context.WithTimeout(context.Background(), queueDrainTimeout)
		if err := a.mem.Close(ctx); err != nil {
			a.Log.Warn("sales leads still pending at shutdown", zap.Error(err))
		}
		cancel()
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.Log.Warn("close broker connection", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn("close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Warn("close database", zap.Error(err))
		}
	}
}
