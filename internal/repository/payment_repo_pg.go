package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avetrin/studiorent/internal/domain"
)

// Settlement is the outcome of applying a paid webhook: the updated payment,
// the booking after projection, and the recomputed paid total.
type Settlement struct {
	Payment   *domain.Payment
	Booking   *domain.Booking
	TotalPaid int64
	// Reprocessed is set when a concurrent delivery already settled the
	// payment and this call was a no-op.
	Reprocessed bool
}

type PaymentRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID int64) (*domain.Payment, error)
	ListByBooking(ctx context.Context, bookingID int64) ([]domain.Payment, error)
	ListActiveByBooking(ctx context.Context, bookingID int64) ([]domain.Payment, error)
	SumPaidByBooking(ctx context.Context, bookingID int64) (int64, error)
	CreateBatch(ctx context.Context, payments []*domain.Payment) error
	SettlePaid(ctx context.Context, paymentID int64, gatewayResponse []byte, paidAt time.Time) (*Settlement, error)
	MarkCancelled(ctx context.Context, paymentID int64, reason string) (*domain.Payment, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.Payment, error)
}

type PGPaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &PGPaymentRepository{db: db}
}

const paymentColumns = `id, booking_id, payment_code, transaction_id, amount, pay_type, status, checkout_url, qr_code, gateway_response, failure_reason, paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	if err := row.Scan(&p.ID, &p.BookingID, &p.PaymentCode, &p.TransactionID, &p.Amount, &p.PayType, &p.Status, &p.CheckoutURL, &p.QRCode, &p.GatewayResponse, &p.FailureReason, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	defer rows.Close()
	payments := make([]domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PGPaymentRepository) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("payment %d", id)
		}
		return nil, err
	}
	return p, nil
}

func (r *PGPaymentRepository) GetByTransactionID(ctx context.Context, transactionID int64) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id=$1`, transactionID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("payment for order code %d", transactionID)
		}
		return nil, err
	}
	return p, nil
}

func (r *PGPaymentRepository) ListByBooking(ctx context.Context, bookingID int64) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=$1 ORDER BY amount`, bookingID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *PGPaymentRepository) ListActiveByBooking(ctx context.Context, bookingID int64) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=$1 AND status = ANY($2) ORDER BY amount`,
		bookingID, []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusPaid})
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *PGPaymentRepository) SumPaidByBooking(ctx context.Context, bookingID int64) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE booking_id=$1 AND status=$2`,
		bookingID, domain.PaymentStatusPaid).Scan(&total)
	return total, err
}

// CreateBatch inserts all payments in one transaction so a failure on any
// row leaves no partial set of options behind.
func (r *PGPaymentRepository) CreateBatch(ctx context.Context, payments []*domain.Payment) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range payments {
		p.Status = domain.PaymentStatusPending
		if err := tx.QueryRow(ctx, `INSERT INTO payments (booking_id, payment_code, transaction_id, amount, pay_type, status, checkout_url, qr_code, gateway_response)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at`,
			p.BookingID, p.PaymentCode, p.TransactionID, p.Amount, p.PayType, p.Status, p.CheckoutURL, p.QRCode, p.GatewayResponse).
			Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// SettlePaid marks a pending payment paid and reprojects the booking's pay
// type and status off the new paid total, all in one transaction. A payment
// already settled by a concurrent delivery is reported as a no-op rather
// than an error.
func (r *PGPaymentRepository) SettlePaid(ctx context.Context, paymentID int64, gatewayResponse []byte, paidAt time.Time) (*Settlement, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `UPDATE payments SET status=$1, gateway_response=$2, paid_at=$3, updated_at=now()
		WHERE id=$4 AND status=$5
		RETURNING `+paymentColumns,
		domain.PaymentStatusPaid, gatewayResponse, paidAt, paymentID, domain.PaymentStatusPending)
	payment, err := scanPayment(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		// Lost the race or the payment is in a non-pending state.
		current, getErr := r.GetByID(ctx, paymentID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == domain.PaymentStatusPaid {
			return &Settlement{Payment: current, Reprocessed: true}, nil
		}
		return nil, domain.Validationf("payment %d is %s, not pending", paymentID, current.Status)
	}

	var booking domain.Booking
	brow := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, payment.BookingID)
	b, err := scanBooking(brow)
	if err != nil {
		return nil, err
	}
	booking = *b

	var totalPaid int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE booking_id=$1 AND status=$2`,
		payment.BookingID, domain.PaymentStatusPaid).Scan(&totalPaid); err != nil {
		return nil, err
	}

	if totalPaid > booking.FinalAmount {
		return nil, domain.Validationf("paid total %d exceeds final amount %d for booking %d", totalPaid, booking.FinalAmount, booking.ID)
	}

	payType, status := domain.ProjectProgress(booking.FinalAmount, totalPaid)
	if status == domain.BookingStatusConfirmed {
		brow = tx.QueryRow(ctx, `UPDATE bookings SET pay_type=$1, status=$2, updated_at=now() WHERE id=$3
			RETURNING `+bookingColumns, payType, status, booking.ID)
		b, err = scanBooking(brow)
		if err != nil {
			return nil, err
		}
		booking = *b
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &Settlement{Payment: payment, Booking: &booking, TotalPaid: totalPaid}, nil
}

func (r *PGPaymentRepository) MarkCancelled(ctx context.Context, paymentID int64, reason string) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `UPDATE payments SET status=$1, failure_reason=$2, updated_at=now()
		WHERE id=$3 AND status=$4
		RETURNING `+paymentColumns,
		domain.PaymentStatusCancelled, reason, paymentID, domain.PaymentStatusPending)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Validationf("payment %d is not pending", paymentID)
		}
		return nil, err
	}
	return p, nil
}

func (r *PGPaymentRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status=$1 AND created_at <= $2`,
		domain.PaymentStatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

var _ PaymentRepository = (*PGPaymentRepository)(nil)
