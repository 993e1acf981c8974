package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avetrin/studiorent/internal/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	Cancel(ctx context.Context, id int64, reason string) (*domain.Booking, []domain.Payment, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `id, customer_id, customer_email, schedule_id, total_before_discount, discount_amount, final_amount, pay_type, status, refunded_amount, cancel_reason, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	if err := row.Scan(&b.ID, &b.CustomerID, &b.CustomerEmail, &b.ScheduleID, &b.TotalBeforeDiscount, &b.DiscountAmount, &b.FinalAmount, &b.PayType, &b.Status, &b.RefundedAmount, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	booking.Status = domain.BookingStatusPending
	booking.PayType = domain.PayTypeNone
	return r.db.QueryRow(ctx, `INSERT INTO bookings (customer_id, customer_email, schedule_id, total_before_discount, discount_amount, final_amount, pay_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		booking.CustomerID, booking.CustomerEmail, booking.ScheduleID, booking.TotalBeforeDiscount, booking.DiscountAmount, booking.FinalAmount, booking.PayType, booking.Status).
		Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("booking %d", id)
		}
		return nil, err
	}
	return b, nil
}

// Cancel marks the booking cancelled and cancels its pending payments in the
// same transaction. The cancelled pending payments are returned so the
// caller can revoke their checkout links at the gateway.
func (r *PGBookingRepository) Cancel(ctx context.Context, id int64, reason string) (*domain.Booking, []domain.Payment, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.NotFoundf("booking %d", id)
		}
		return nil, nil, err
	}
	if b.Status == domain.BookingStatusCancelled {
		return b, nil, nil
	}
	if b.Status == domain.BookingStatusCompleted {
		return nil, nil, domain.Validationf("booking %d is completed", id)
	}

	rows, err := tx.Query(ctx, `UPDATE payments SET status=$1, failure_reason=$2, updated_at=now()
		WHERE booking_id=$3 AND status=$4
		RETURNING `+paymentColumns, domain.PaymentStatusCancelled, reason, id, domain.PaymentStatusPending)
	if err != nil {
		return nil, nil, err
	}
	cancelled, err := collectPayments(rows)
	if err != nil {
		return nil, nil, err
	}

	row = tx.QueryRow(ctx, `UPDATE bookings SET status=$1, cancel_reason=$2, updated_at=now() WHERE id=$3
		RETURNING `+bookingColumns, domain.BookingStatusCancelled, reason, id)
	b, err = scanBooking(row)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return b, cancelled, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
