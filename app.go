package main

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mollie-ideal/config"
	"mollie-ideal/gateway"
	"mollie-ideal/lock"
	"mollie-ideal/logging"
	"mollie-ideal/notify"
	"mollie-ideal/service"
	"mollie-ideal/store"
)

// app holds the wired dependencies shared by the commands
type app struct {
	cfg        *config.Config
	repo       *store.Repository
	reconciler *service.PaymentReconciler
	closers    []func() error
}

func openRepository(cfg *config.Config) (*store.Repository, error) {
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	return store.New(db), nil
}

func newApp(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*app, error) {
	if tracer == nil {
		tracer = otel.Tracer(cfg.ServiceName)
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, repo: repo, closers: []func() error{repo.Close}}

	var locker service.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		client, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		locker = lock.NewRedis(client, 2*cfg.Mollie.Timeout+5*time.Second)
		logging.Info("Using Redis transaction lock", zap.String("addr", cfg.RedisAddr))
	}

	var notifier service.Notifier = notify.Log{}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(cfg.KafkaBrokers)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, k.Close)
		notifier = k
	}

	a.reconciler = service.NewPaymentReconciler(
		tracer,
		repo,
		gateway.NewClient(cfg.Mollie, tracer),
		notifier,
		locker,
		service.Options{
			MinAmountCents: cfg.IDEAL.MinAmountCents,
			Description:    cfg.IDEAL.Description,
			ReturnURL:      cfg.IDEAL.ReturnURL(),
			ReportURL:      cfg.IDEAL.ReportURL(),
			GatewayTimeout: cfg.Mollie.Timeout,
		},
	)
	return a, nil
}

// Close releases resources in reverse order of creation
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = fmt.Errorf("close: %w", err)
		}
	}
	return first
}
