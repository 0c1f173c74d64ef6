package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/clock"
	"github.com/unclebandit/cartrecovery/internal/config"
	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/logger"
	"github.com/unclebandit/cartrecovery/internal/provider"
	"github.com/unclebandit/cartrecovery/internal/queue"
	"github.com/unclebandit/cartrecovery/internal/service"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-worker")
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	defer log.Sync()

	if err := cfg.Graph.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.AMQPURL == "" {
		log.Fatal("invalid configuration", zap.Error(appErrors.NewConfiguration("AMQP_URL")))
	}

	mailer := provider.NewGraphMailer(provider.GraphConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	}, clock.System{}, log)

	worker, err := service.NewSalesLeadWorker(mailer, cfg.SalesEmail, nil, log.Named("sales"))
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	q, err := queue.DialAMQP(cfg.AMQPURL, log.Named("amqp"))
	if err != nil {
		log.Fatal("failed to connect to broker", zap.Error(err))
	}
	defer q.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startWorker(ctx, q, cfg.SalesQueue, worker, log); err != nil {
		log.Fatal("failed to register consumer", zap.Error(err))
	}

	log.Info("worker running, waiting for sales leads", zap.String("queue", cfg.SalesQueue))
	<-ctx.Done()
	log.Info("worker stopped")
}

func startWorker(ctx context.Context, q queue.Queue, topic string, h queue.SalesLeadHandler, log *zap.Logger) error {
	return queue.StartSalesLeadSubscriber(ctx, q, topic, h, log)
}
