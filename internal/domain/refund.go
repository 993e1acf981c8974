package domain

import "time"

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

// Refund is one refund request against a paid payment. At most one
// PENDING/PROCESSING refund may exist per payment at any time.
type Refund struct {
	ID              int64
	RefundCode      string
	PaymentID       int64
	BookingID       int64
	Amount          int64
	Reason          string
	Status          RefundStatus
	RequestedBy     int64
	GatewayRefundID string
	FailureReason   string
	NotifiedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *Refund) Active() bool {
	return r.Status == RefundStatusPending || r.Status == RefundStatusProcessing
}

func (r *Refund) Terminal() bool {
	return r.Status == RefundStatusCompleted
}
