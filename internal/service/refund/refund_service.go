package refund

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avetrin/studiorent/internal/domain"
	"github.com/avetrin/studiorent/internal/gateway"
	"github.com/avetrin/studiorent/internal/kafka"
	"github.com/avetrin/studiorent/internal/repository"
	"github.com/avetrin/studiorent/internal/telemetry"
)

type RefundUseCase interface {
	CreateRefund(ctx context.Context, paymentID int64, req CreateRefundInput) (*domain.Refund, error)
	ProcessRefund(ctx context.Context, refundID int64) error
	RetryRefund(ctx context.Context, refundID int64) (*domain.Refund, error)
	ListRefunds(ctx context.Context, paymentID int64) ([]domain.Refund, error)
}

type CreateRefundInput struct {
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	RequestedBy int64  `json:"requested_by"`
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
	PublishWithRetry(ctx context.Context, topic, key string, value interface{}, maxRetries int) error
}

type RefundService struct {
	refunds            repository.RefundRepository
	payments           repository.PaymentRepository
	bookings           repository.BookingRepository
	gateway            gateway.PaymentGateway
	producer           Producer
	tasksTopic         string
	notificationsTopic string
	logger             *zap.Logger
}

func NewRefundService(
	refunds repository.RefundRepository,
	payments repository.PaymentRepository,
	bookings repository.BookingRepository,
	gw gateway.PaymentGateway,
	producer Producer,
	tasksTopic, notificationsTopic string,
	logger *zap.Logger,
) *RefundService {
	return &RefundService{
		refunds:            refunds,
		payments:           payments,
		bookings:           bookings,
		gateway:            gw,
		producer:           producer,
		tasksTopic:         tasksTopic,
		notificationsTopic: notificationsTopic,
		logger:             logger,
	}
}

// CreateRefund validates and records a refund request, then enqueues the
// gateway settlement as a durable task. The caller only observes refund
// creation; settlement completes asynchronously in the worker.
func (s *RefundService) CreateRefund(ctx context.Context, paymentID int64, req CreateRefundInput) (*domain.Refund, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusPaid {
		return nil, domain.Validationf("payment %d is %s, only paid payments are refundable", paymentID, payment.Status)
	}

	active, err := s.refunds.HasActiveByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, domain.Validationf("an active refund already exists for payment %d", paymentID)
	}

	amount := req.Amount
	if amount == 0 {
		amount = payment.Amount
	}
	if amount <= 0 {
		return nil, domain.Validationf("refund amount must be positive")
	}

	refunded, err := s.refunds.SumCompletedByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if remaining := payment.Amount - refunded; amount > remaining {
		return nil, domain.Validationf("refund amount %d exceeds remaining refundable %d", amount, remaining)
	}

	refund := &domain.Refund{
		RefundCode:  uuid.NewString(),
		PaymentID:   payment.ID,
		BookingID:   payment.BookingID,
		Amount:      amount,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
	}
	if err := s.refunds.Create(ctx, refund); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, refund, 1); err != nil {
		// The refund row is committed; the expiry of the active-refund
		// window is handled by retrying the enqueue, not by rolling back.
		s.logger.Error("failed to enqueue refund task",
			zap.Int64("refund_id", refund.ID), zap.Error(err))
	}
	return refund, nil
}

// ProcessRefund settles one refund with the gateway. It is invoked by the
// worker off the task queue and is safe to call repeatedly: only a PENDING
// refund transitions to PROCESSING, everything else is a no-op.
func (s *RefundService) ProcessRefund(ctx context.Context, refundID int64) error {
	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return err
	}
	if refund.Status != domain.RefundStatusPending {
		s.logger.Info("skipping refund in non-pending state",
			zap.Int64("refund_id", refundID), zap.String("status", string(refund.Status)))
		return nil
	}

	refund, err = s.refunds.Transition(ctx, refundID, domain.RefundStatusPending, domain.RefundStatusProcessing)
	if err != nil {
		// Another worker got there first.
		return nil
	}

	payment, err := s.payments.GetByID(ctx, refund.PaymentID)
	if err != nil {
		return err
	}

	result, err := s.gateway.RefundPayment(ctx, gateway.RefundRequest{
		PaymentLinkID: paymentLinkID(payment),
		OrderCode:     payment.TransactionID,
		Amount:        refund.Amount,
		Reason:        refund.Reason,
	})
	if err != nil {
		failed, markErr := s.refunds.MarkFailed(ctx, refundID, err.Error())
		if markErr != nil {
			return markErr
		}
		telemetry.RefundsProcessed.WithLabelValues("failed").Inc()
		s.notify(ctx, kafka.NotificationEvent{
			Type:      kafka.NotifyRefundFailed,
			BookingID: failed.BookingID,
			PaymentID: failed.PaymentID,
			RefundID:  failed.ID,
			Amount:    failed.Amount,
			Message:   "refund could not be processed, it will be retried",
		})
		// Terminal FAILED state; retry happens via RetryRefund, not task
		// redelivery.
		return nil
	}

	settlement, err := s.refunds.Complete(ctx, refundID, result.RefundID)
	if err != nil {
		return err
	}

	telemetry.RefundsProcessed.WithLabelValues("completed").Inc()
	s.logger.Info("refund completed",
		zap.Int64("refund_id", refundID),
		zap.Int64("payment_id", settlement.Payment.ID),
		zap.String("gateway_refund_id", result.RefundID),
	)

	s.notify(ctx, kafka.NotificationEvent{
		Type:      kafka.NotifyRefundCompleted,
		Email:     settlement.Booking.CustomerEmail,
		BookingID: settlement.Booking.ID,
		PaymentID: settlement.Payment.ID,
		RefundID:  settlement.Refund.ID,
		Amount:    settlement.Refund.Amount,
	})
	return nil
}

// RetryRefund resets a failed refund back to PENDING and re-enqueues it.
func (s *RefundService) RetryRefund(ctx context.Context, refundID int64) (*domain.Refund, error) {
	refund, err := s.refunds.Transition(ctx, refundID, domain.RefundStatusFailed, domain.RefundStatusPending)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, refund, 2); err != nil {
		s.logger.Error("failed to enqueue refund retry",
			zap.Int64("refund_id", refundID), zap.Error(err))
	}
	return refund, nil
}

func (s *RefundService) ListRefunds(ctx context.Context, paymentID int64) ([]domain.Refund, error) {
	if _, err := s.payments.GetByID(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.refunds.ListByPayment(ctx, paymentID)
}

func (s *RefundService) enqueue(ctx context.Context, refund *domain.Refund, attempt int64) error {
	if s.producer == nil || s.tasksTopic == "" {
		return nil
	}
	task := kafka.RefundTask{
		RefundID:   refund.ID,
		RefundCode: refund.RefundCode,
		Attempt:    int(attempt),
		EnqueuedAt: refund.UpdatedAt,
	}
	return s.producer.PublishWithRetry(ctx, s.tasksTopic, refund.RefundCode, task, 3)
}

func (s *RefundService) notify(ctx context.Context, event kafka.NotificationEvent) {
	if s.producer == nil || s.notificationsTopic == "" {
		return
	}
	key := fmt.Sprintf("refund-%d", event.RefundID)
	if err := s.producer.Publish(ctx, s.notificationsTopic, key, event); err != nil {
		s.logger.Warn("failed to publish refund notification", zap.String("type", event.Type), zap.Error(err))
	}
}

// paymentLinkID recovers the gateway link id from the response snapshot
// stored at link creation. Falls back to the order code as a string when the
// snapshot predates the field.
func paymentLinkID(payment *domain.Payment) string {
	var link gateway.PaymentLink
	if err := json.Unmarshal(payment.GatewayResponse, &link); err == nil && link.PaymentLinkID != "" {
		return link.PaymentLinkID
	}
	return fmt.Sprintf("%d", payment.TransactionID)
}

var _ RefundUseCase = (*RefundService)(nil)
