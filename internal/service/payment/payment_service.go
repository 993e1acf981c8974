package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avetrin/studiorent/internal/domain"
	"github.com/avetrin/studiorent/internal/gateway"
	"github.com/avetrin/studiorent/internal/kafka"
	"github.com/avetrin/studiorent/internal/repository"
	"github.com/avetrin/studiorent/internal/telemetry"
)

type PaymentUseCase interface {
	CreatePaymentOptions(ctx context.Context, bookingID int64) ([]domain.Payment, error)
	CreatePayment(ctx context.Context, bookingID int64, payType domain.PayType) (*domain.Payment, error)
	CreateRemainingPayment(ctx context.Context, bookingID int64) (*domain.Payment, error)
	HandleWebhook(ctx context.Context, payload *gateway.WebhookPayload) (*repository.Settlement, error)
	GetPayment(ctx context.Context, paymentID int64) (*domain.Payment, error)
}

// Cache claims short-lived idempotency keys against duplicate deliveries and
// concurrent option creation.
type Cache interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type PaymentService struct {
	bookings           repository.BookingRepository
	payments           repository.PaymentRepository
	gateway            gateway.PaymentGateway
	cache              Cache
	producer           Producer
	notificationsTopic string
	frontendURL        string
	minAmount          int64
	optionClaimTTL     time.Duration
	webhookClaimTTL    time.Duration
	logger             *zap.Logger
}

type PaymentServiceOption func(*PaymentService)

func WithNotificationsTopic(topic string) PaymentServiceOption {
	return func(s *PaymentService) {
		s.notificationsTopic = topic
	}
}

func NewPaymentService(
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	gw gateway.PaymentGateway,
	cache Cache,
	producer Producer,
	frontendURL string,
	minAmount int64,
	optionClaimTTL, webhookClaimTTL time.Duration,
	logger *zap.Logger,
	opts ...PaymentServiceOption,
) *PaymentService {
	service := &PaymentService{
		bookings:        bookings,
		payments:        payments,
		gateway:         gw,
		cache:           cache,
		producer:        producer,
		frontendURL:     frontendURL,
		minAmount:       minAmount,
		optionClaimTTL:  optionClaimTTL,
		webhookClaimTTL: webhookClaimTTL,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// CreatePaymentOptions returns one pending payment per tier (30/50/100% of
// the booking's final amount), creating gateway checkout links for any that
// do not exist yet. Existing active payments are returned as-is.
func (s *PaymentService) CreatePaymentOptions(ctx context.Context, bookingID int64) ([]domain.Payment, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.validatePayable(booking); err != nil {
		return nil, err
	}

	existing, err := s.payments.ListActiveByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	claimKey := fmt.Sprintf("payment-options:%d", bookingID)
	if s.cache != nil {
		ok, err := s.cache.Claim(ctx, claimKey, s.optionClaimTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.Validationf("payment options for booking %d are already being created", bookingID)
		}
		defer func() {
			_ = s.cache.Release(ctx, claimKey)
		}()
	}

	payments := make([]*domain.Payment, 0, len(domain.Tiers))
	base := time.Now().UnixMilli()
	for _, tier := range domain.Tiers {
		p, err := s.buildPayment(ctx, booking, tier, tier.Amount(booking.FinalAmount), base)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}

	if err := s.payments.CreateBatch(ctx, payments); err != nil {
		return nil, err
	}

	result := make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		result = append(result, *p)
	}
	return result, nil
}

// CreatePayment creates a single checkout link for the chosen tier. An
// existing active payment for the same tier is returned instead.
func (s *PaymentService) CreatePayment(ctx context.Context, bookingID int64, payType domain.PayType) (*domain.Payment, error) {
	tier, ok := domain.TierForPayType(payType)
	if !ok {
		return nil, domain.Validationf("unknown pay type %q", payType)
	}

	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.validatePayable(booking); err != nil {
		return nil, err
	}

	existing, err := s.payments.ListActiveByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].PayType == payType {
			return &existing[i], nil
		}
	}

	p, err := s.buildPayment(ctx, booking, tier, tier.Amount(booking.FinalAmount), time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	if err := s.payments.CreateBatch(ctx, []*domain.Payment{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateRemainingPayment creates a checkout link for whatever is still owed
// on a partially paid booking.
func (s *PaymentService) CreateRemainingPayment(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == domain.BookingStatusCancelled {
		return nil, domain.Validationf("booking %d is cancelled", bookingID)
	}

	totalPaid, err := s.payments.SumPaidByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	remaining := booking.FinalAmount - totalPaid
	if remaining <= 0 {
		return nil, domain.Validationf("booking %d is fully paid", bookingID)
	}
	if remaining < s.minAmount {
		return nil, domain.Validationf("remaining amount %d is below the minimum %d", remaining, s.minAmount)
	}

	p, err := s.buildPayment(ctx, booking, domain.TierFull, remaining, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	if err := s.payments.CreateBatch(ctx, []*domain.Payment{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// HandleWebhook verifies and applies one gateway callback. Deliveries for
// an already-paid order code are acknowledged without reprocessing.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload *gateway.WebhookPayload) (*repository.Settlement, error) {
	if !s.gateway.VerifyWebhook(payload) {
		telemetry.WebhooksReceived.WithLabelValues("invalid_signature").Inc()
		return nil, domain.Validationf("invalid webhook signature")
	}

	payment, err := s.payments.GetByTransactionID(ctx, payload.Data.OrderCode)
	if err != nil {
		telemetry.WebhooksReceived.WithLabelValues("unknown_order").Inc()
		return nil, err
	}

	if payment.Status == domain.PaymentStatusPaid {
		telemetry.WebhooksReceived.WithLabelValues("duplicate").Inc()
		return &repository.Settlement{Payment: payment, Reprocessed: true}, nil
	}

	// Best-effort dedupe of concurrent deliveries for the same order code.
	// Correctness does not depend on it: the paid check above and the
	// conditional update in SettlePaid are idempotent on their own.
	if s.cache != nil {
		claimKey := fmt.Sprintf("webhook:%d", payload.Data.OrderCode)
		ok, err := s.cache.Claim(ctx, claimKey, s.webhookClaimTTL)
		if err == nil && !ok {
			telemetry.WebhooksReceived.WithLabelValues("duplicate").Inc()
			return &repository.Settlement{Payment: payment, Reprocessed: true}, nil
		}
	}

	if payload.Code != gateway.WebhookCodeSuccess {
		cancelled, err := s.payments.MarkCancelled(ctx, payment.ID, payload.Desc)
		if err != nil {
			return nil, err
		}
		telemetry.WebhooksReceived.WithLabelValues("failed_payment").Inc()
		telemetry.PaymentsSettled.WithLabelValues(string(domain.PaymentStatusCancelled)).Inc()
		s.notify(ctx, kafka.NotificationEvent{
			Type:      kafka.NotifyPaymentCancelled,
			BookingID: cancelled.BookingID,
			PaymentID: cancelled.ID,
			Amount:    cancelled.Amount,
			Message:   payload.Desc,
		})
		return &repository.Settlement{Payment: cancelled}, nil
	}

	raw := payload.Raw
	if raw == nil {
		raw, _ = json.Marshal(payload)
	}

	settlement, err := s.payments.SettlePaid(ctx, payment.ID, raw, time.Now())
	if err != nil {
		return nil, err
	}
	if settlement.Reprocessed {
		telemetry.WebhooksReceived.WithLabelValues("duplicate").Inc()
		return settlement, nil
	}

	telemetry.WebhooksReceived.WithLabelValues("paid").Inc()
	telemetry.PaymentsSettled.WithLabelValues(string(domain.PaymentStatusPaid)).Inc()
	s.logger.Info("payment settled",
		zap.Int64("payment_id", settlement.Payment.ID),
		zap.Int64("booking_id", settlement.Payment.BookingID),
		zap.Int64("total_paid", settlement.TotalPaid),
		zap.String("booking_status", string(settlement.Booking.Status)),
	)

	s.notify(ctx, kafka.NotificationEvent{
		Type:      kafka.NotifyPaymentConfirmed,
		Email:     settlement.Booking.CustomerEmail,
		BookingID: settlement.Booking.ID,
		PaymentID: settlement.Payment.ID,
		Amount:    settlement.Payment.Amount,
	})
	return settlement, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	return s.payments.GetByID(ctx, paymentID)
}

func (s *PaymentService) validatePayable(booking *domain.Booking) error {
	if booking.Terminal() {
		return domain.Validationf("booking %d is %s", booking.ID, booking.Status)
	}
	if booking.FinalAmount <= 0 {
		return domain.Validationf("booking %d has a non-positive final amount", booking.ID)
	}
	if domain.Tier30.Amount(booking.FinalAmount) < s.minAmount {
		return domain.Validationf("smallest payment option is below the minimum %d", s.minAmount)
	}
	return nil
}

// buildPayment creates the gateway checkout link for one tier and shapes the
// pending payment row. Nothing is persisted here, so a gateway failure
// aborts the whole operation with no partial state.
func (s *PaymentService) buildPayment(ctx context.Context, booking *domain.Booking, tier domain.PaymentTier, amount int64, base int64) (*domain.Payment, error) {
	orderCode := base*1000 + int64(tier)

	link, err := s.gateway.CreatePaymentLink(ctx, gateway.CreateLinkRequest{
		OrderCode:   orderCode,
		Amount:      amount,
		Description: fmt.Sprintf("Booking %d %d%%", booking.ID, tier),
		BuyerEmail:  booking.CustomerEmail,
		Items: []gateway.Item{
			{Name: fmt.Sprintf("Studio booking %d", booking.ID), Quantity: 1, Price: amount},
		},
		ReturnURL: s.frontendURL + "/payment/success",
		CancelURL: s.frontendURL + "/payment/cancel",
	})
	if err != nil {
		return nil, err
	}

	snapshot, _ := json.Marshal(link)
	return &domain.Payment{
		BookingID:       booking.ID,
		PaymentCode:     uuid.NewString(),
		TransactionID:   orderCode,
		Amount:          amount,
		PayType:         tier.PayType(),
		CheckoutURL:     link.CheckoutURL,
		QRCode:          link.QRCode,
		GatewayResponse: snapshot,
	}, nil
}

func (s *PaymentService) notify(ctx context.Context, event kafka.NotificationEvent) {
	if s.producer == nil || s.notificationsTopic == "" {
		return
	}
	key := fmt.Sprintf("booking-%d", event.BookingID)
	if err := s.producer.Publish(ctx, s.notificationsTopic, key, event); err != nil {
		s.logger.Warn("failed to publish notification", zap.String("type", event.Type), zap.Error(err))
	}
}

var _ PaymentUseCase = (*PaymentService)(nil)
