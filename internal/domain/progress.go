package domain

// Payment progress thresholds. The slight shortfall from the exact
// percentages tolerates legacy rows whose tier amounts were rounded down
// from odd final amounts.
const (
	fullThreshold     = 0.999
	prepay50Threshold = 0.499
	prepay30Threshold = 0.299
)

// ProjectProgress maps the total paid amount against the booking's final
// amount onto the booking's pay type and status. It is the single place
// where percentage thresholds live; both the webhook handler and the
// remaining-payment flow go through it.
func ProjectProgress(finalAmount, totalPaid int64) (PayType, BookingStatus) {
	if finalAmount <= 0 {
		return PayTypeNone, BookingStatusPending
	}

	ratio := float64(totalPaid) / float64(finalAmount)
	switch {
	case ratio >= fullThreshold:
		return PayTypeFull, BookingStatusConfirmed
	case ratio >= prepay50Threshold:
		return PayTypePrepay50, BookingStatusConfirmed
	case ratio >= prepay30Threshold:
		return PayTypePrepay30, BookingStatusConfirmed
	}
	return PayTypeNone, BookingStatusPending
}
