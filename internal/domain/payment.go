package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Payment is a single gateway transaction attempt for a booking.
// TransactionID is the gateway-side order code and is unique across the table.
type Payment struct {
	ID              int64
	BookingID       int64
	PaymentCode     string
	TransactionID   int64
	Amount          int64
	PayType         PayType
	Status          PaymentStatus
	CheckoutURL     string
	QRCode          string
	GatewayResponse []byte
	FailureReason   string
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active payments count against a booking's outstanding amount.
func (p *Payment) Active() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusPaid
}

// PaymentTier is one of the prepayment percentages offered for a booking.
type PaymentTier int

const (
	Tier30   PaymentTier = 30
	Tier50   PaymentTier = 50
	TierFull PaymentTier = 100
)

var Tiers = []PaymentTier{Tier30, Tier50, TierFull}

// Amount computes the tier amount off the booking's final amount using
// integer minor-unit arithmetic. The full tier always equals finalAmount.
func (t PaymentTier) Amount(finalAmount int64) int64 {
	if t == TierFull {
		return finalAmount
	}
	return finalAmount * int64(t) / 100
}

func (t PaymentTier) PayType() PayType {
	switch t {
	case Tier30:
		return PayTypePrepay30
	case Tier50:
		return PayTypePrepay50
	default:
		return PayTypeFull
	}
}

func TierForPayType(pt PayType) (PaymentTier, bool) {
	switch pt {
	case PayTypePrepay30:
		return Tier30, true
	case PayTypePrepay50:
		return Tier50, true
	case PayTypeFull:
		return TierFull, true
	}
	return 0, false
}
