package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/avetrin/studiorent/internal/kafka"
)

// Sender delivers customer notifications consumed off the notifications
// topic. Delivery is a log line for now; the worker's contract is the
// NotificationEvent, so swapping in a real mail provider stays local here.
type Sender struct {
	logger *zap.Logger
}

func NewSender(logger *zap.Logger) *Sender {
	return &Sender{logger: logger}
}

func (s *Sender) Send(ctx context.Context, event kafka.NotificationEvent) error {
	subject := subjectFor(event)
	s.logger.Info("sending notification",
		zap.String("type", event.Type),
		zap.String("email", event.Email),
		zap.Int64("booking_id", event.BookingID),
		zap.String("subject", subject),
	)
	return nil
}

func subjectFor(event kafka.NotificationEvent) string {
	switch event.Type {
	case kafka.NotifyPaymentConfirmed:
		return fmt.Sprintf("Payment of %d received for booking %d", event.Amount, event.BookingID)
	case kafka.NotifyPaymentCancelled:
		return fmt.Sprintf("Payment for booking %d was not completed", event.BookingID)
	case kafka.NotifyRefundCompleted:
		return fmt.Sprintf("Refund of %d for booking %d completed", event.Amount, event.BookingID)
	case kafka.NotifyRefundFailed:
		return fmt.Sprintf("Refund for booking %d needs attention", event.BookingID)
	case kafka.NotifyBookingCancelled:
		return fmt.Sprintf("Booking %d cancelled", event.BookingID)
	}
	return fmt.Sprintf("Update for booking %d", event.BookingID)
}
