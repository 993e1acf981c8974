package domain

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

type PayType string

const (
	PayTypeNone     PayType = "NONE"
	PayTypePrepay30 PayType = "PREPAY_30"
	PayTypePrepay50 PayType = "PREPAY_50"
	PayTypeFull     PayType = "FULL"
)

// Booking is the aggregate root for a studio rental. Amounts are VND in
// minor units; FinalAmount must equal TotalBeforeDiscount - DiscountAmount.
type Booking struct {
	ID                  int64
	CustomerID          int64
	CustomerEmail       string
	ScheduleID          int64
	TotalBeforeDiscount int64
	DiscountAmount      int64
	FinalAmount         int64
	PayType             PayType
	Status              BookingStatus
	RefundedAmount      int64
	CancelReason        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Terminal reports whether no further payment activity is allowed.
func (b *Booking) Terminal() bool {
	return b.Status == BookingStatusCancelled || b.Status == BookingStatusCompleted
}
