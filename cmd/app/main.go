package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/avetrin/studiorent/config"
	"github.com/avetrin/studiorent/internal/bootstrap"
	"github.com/avetrin/studiorent/internal/cache"
	"github.com/avetrin/studiorent/internal/gateway"
	"github.com/avetrin/studiorent/internal/kafka"
	"github.com/avetrin/studiorent/internal/repository"
	"github.com/avetrin/studiorent/internal/service/booking"
	"github.com/avetrin/studiorent/internal/service/payment"
	"github.com/avetrin/studiorent/internal/service/refund"
	"github.com/avetrin/studiorent/internal/telemetry"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := telemetry.Init("studiorent-api"); err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer telemetry.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		telemetry.Logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	redisStore := cache.NewRedisStore(cfg.Redis)
	defer redisStore.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	var gw gateway.PaymentGateway
	if cfg.Gateway.UseMock {
		gw = gateway.NewMockGateway(cfg.Gateway.ChecksumKey)
	} else {
		gw = gateway.NewPayOSGateway(cfg.Gateway)
	}

	bookingRepo := repository.NewBookingRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	refundRepo := repository.NewRefundRepository(pool)

	bookingService := booking.NewBookingService(bookingRepo, gw, producer, cfg.Kafka.NotificationsTopic, telemetry.Logger)
	paymentService := payment.NewPaymentService(
		bookingRepo,
		paymentRepo,
		gw,
		redisStore,
		producer,
		cfg.Gateway.FrontendURL,
		cfg.Payment.MinAmount,
		time.Duration(cfg.Payment.OptionClaimTTLSecs)*time.Second,
		time.Duration(cfg.Payment.WebhookClaimTTLSecs)*time.Second,
		telemetry.Logger,
		payment.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
	)
	refundService := refund.NewRefundService(
		refundRepo,
		paymentRepo,
		bookingRepo,
		gw,
		producer,
		cfg.Kafka.RefundTasksTopic,
		cfg.Kafka.NotificationsTopic,
		telemetry.Logger,
	)

	if err := bootstrap.Run(ctx, cfg, bookingService, paymentService, refundService); err != nil {
		telemetry.Logger.Fatal("server error", zap.Error(err))
	}
}
