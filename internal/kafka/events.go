package kafka

import "time"

// RefundTask asks the worker to settle one refund with the gateway. Tasks
// are durable: a refund created by the API survives a process restart and
// is picked up on redelivery.
type RefundTask struct {
	RefundID   int64     `json:"refund_id"`
	RefundCode string    `json:"refund_code"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NotificationEvent fans out customer-facing updates about settlement.
type NotificationEvent struct {
	Type      string `json:"type"`
	Email     string `json:"email"`
	BookingID int64  `json:"booking_id"`
	PaymentID int64  `json:"payment_id,omitempty"`
	RefundID  int64  `json:"refund_id,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	NotifyPaymentConfirmed = "payment_confirmed"
	NotifyPaymentCancelled = "payment_cancelled"
	NotifyBookingCancelled = "booking_cancelled"
	NotifyRefundCompleted  = "refund_completed"
	NotifyRefundFailed     = "refund_failed"
)
