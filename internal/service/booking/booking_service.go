package booking

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/avetrin/studiorent/internal/domain"
	"github.com/avetrin/studiorent/internal/gateway"
	"github.com/avetrin/studiorent/internal/kafka"
	"github.com/avetrin/studiorent/internal/repository"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id int64) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id int64, reason string) (*domain.Booking, error)
}

type CreateBookingInput struct {
	CustomerID          int64  `json:"customer_id"`
	CustomerEmail       string `json:"customer_email"`
	ScheduleID          int64  `json:"schedule_id"`
	TotalBeforeDiscount int64  `json:"total_before_discount"`
	DiscountAmount      int64  `json:"discount_amount"`
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type BookingService struct {
	bookings           repository.BookingRepository
	gateway            gateway.PaymentGateway
	producer           Producer
	notificationsTopic string
	logger             *zap.Logger
}

func NewBookingService(
	bookings repository.BookingRepository,
	gw gateway.PaymentGateway,
	producer Producer,
	notificationsTopic string,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		bookings:           bookings,
		gateway:            gw,
		producer:           producer,
		notificationsTopic: notificationsTopic,
		logger:             logger,
	}
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if input.CustomerEmail == "" {
		return nil, domain.Validationf("customer email is required")
	}
	if input.ScheduleID <= 0 {
		return nil, domain.Validationf("schedule is required")
	}
	if input.TotalBeforeDiscount <= 0 {
		return nil, domain.Validationf("total must be positive")
	}
	if input.DiscountAmount < 0 || input.DiscountAmount > input.TotalBeforeDiscount {
		return nil, domain.Validationf("discount must be between 0 and the total")
	}

	booking := &domain.Booking{
		CustomerID:          input.CustomerID,
		CustomerEmail:       input.CustomerEmail,
		ScheduleID:          input.ScheduleID,
		TotalBeforeDiscount: input.TotalBeforeDiscount,
		DiscountAmount:      input.DiscountAmount,
		FinalAmount:         input.TotalBeforeDiscount - input.DiscountAmount,
	}
	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// CancelBooking cancels the booking together with its pending payments and
// revokes their checkout links at the gateway. Gateway revocation is
// best-effort: an unreachable gateway must not keep the booking alive.
func (s *BookingService) CancelBooking(ctx context.Context, id int64, reason string) (*domain.Booking, error) {
	booking, cancelledPayments, err := s.bookings.Cancel(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	for _, p := range cancelledPayments {
		if err := s.gateway.CancelPaymentLink(ctx, p.TransactionID, reason); err != nil {
			s.logger.Warn("failed to cancel checkout link",
				zap.Int64("payment_id", p.ID),
				zap.Int64("order_code", p.TransactionID),
				zap.Error(err),
			)
		}
	}

	s.publish(ctx, kafka.NotificationEvent{
		Type:      kafka.NotifyBookingCancelled,
		Email:     booking.CustomerEmail,
		BookingID: booking.ID,
		Message:   reason,
	})
	return booking, nil
}

func (s *BookingService) publish(ctx context.Context, event kafka.NotificationEvent) {
	if s.producer == nil || s.notificationsTopic == "" {
		return
	}
	key := fmt.Sprintf("booking-%d", event.BookingID)
	if err := s.producer.Publish(ctx, s.notificationsTopic, key, event); err != nil {
		s.logger.Warn("failed to publish booking notification", zap.Error(err))
	}
}

var _ BookingUseCase = (*BookingService)(nil)
