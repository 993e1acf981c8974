package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkaGo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/avetrin/studiorent/config"
	"github.com/avetrin/studiorent/internal/cache"
	"github.com/avetrin/studiorent/internal/gateway"
	"github.com/avetrin/studiorent/internal/kafka"
	"github.com/avetrin/studiorent/internal/notify"
	"github.com/avetrin/studiorent/internal/repository"
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

	if err := telemetry.Init("studiorent-worker"); err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer telemetry.Shutdown(context.Background())
	logger := telemetry.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
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

	refundService := refund.NewRefundService(
		refundRepo,
		paymentRepo,
		bookingRepo,
		gw,
		producer,
		cfg.Kafka.RefundTasksTopic,
		cfg.Kafka.NotificationsTopic,
		logger,
	)

	refundConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.RefundTasksTopic)
	defer refundConsumer.Close()

	go func() {
		if err := refundConsumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
			var task kafka.RefundTask
			if err := json.Unmarshal(msg.Value, &task); err != nil {
				logger.Error("decode refund task", zap.Error(err))
				return nil
			}
			if err := refundService.ProcessRefund(ctx, task.RefundID); err != nil {
				// Returning the error stops the consumer without committing
				// the offset, so the task is redelivered on restart.
				logger.Error("process refund", zap.Int64("refund_id", task.RefundID), zap.Error(err))
				return err
			}
			return nil
		}); err != nil {
			logger.Error("refund consumer stopped", zap.Error(err))
		}
	}()

	notifyConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID+"-notify", cfg.Kafka.NotificationsTopic)
	defer notifyConsumer.Close()

	sender := notify.NewSender(logger)

	go func() {
		if err := notifyConsumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
			var event kafka.NotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				logger.Error("decode notification event", zap.Error(err))
				return nil
			}
			return sender.Send(ctx, event)
		}); err != nil {
			logger.Error("notification consumer stopped", zap.Error(err))
		}
	}()

	sweepTicker := time.NewTicker(time.Duration(cfg.Worker.ExpirationSweepMinutes) * time.Minute)
	defer sweepTicker.Stop()

	pendingTTL := time.Duration(cfg.Payment.PendingTTLMinutes) * time.Minute

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			// One worker instance sweeps at a time.
			token, ok, err := redisStore.AcquireLock(ctx, "pending-payment-sweep", time.Minute)
			if err != nil || !ok {
				continue
			}
			expirePendingPayments(ctx, paymentRepo, gw, pendingTTL, logger)
			if err := redisStore.ReleaseLock(ctx, "pending-payment-sweep", token); err != nil {
				logger.Warn("release sweep lock", zap.Error(err))
			}
		case s := <-sig:
			logger.Info("received signal, shutting down", zap.String("signal", s.String()))
			return
		}
	}
}

// expirePendingPayments cancels checkout links that sat unpaid past their
// TTL, so stale options cannot be paid long after a booking moved on.
func expirePendingPayments(ctx context.Context, payments repository.PaymentRepository, gw gateway.PaymentGateway, ttl time.Duration, logger *zap.Logger) {
	stale, err := payments.ListPendingBefore(ctx, time.Now().Add(-ttl))
	if err != nil {
		logger.Error("list stale payments", zap.Error(err))
		return
	}

	for _, p := range stale {
		if err := gw.CancelPaymentLink(ctx, p.TransactionID, "payment expired"); err != nil {
			logger.Warn("cancel checkout link",
				zap.Int64("order_code", p.TransactionID), zap.Error(err))
		}
		if _, err := payments.MarkCancelled(ctx, p.ID, "payment expired"); err != nil {
			logger.Warn("mark payment cancelled", zap.Int64("payment_id", p.ID), zap.Error(err))
			continue
		}
		telemetry.PaymentsSettled.WithLabelValues("EXPIRED").Inc()
	}

	if len(stale) > 0 {
		logger.Info("expired stale pending payments", zap.Int("count", len(stale)))
	}
}
