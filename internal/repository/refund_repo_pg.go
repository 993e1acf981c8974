package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avetrin/studiorent/internal/domain"
)

// RefundSettlement is the outcome of completing a refund: the refund itself,
// the parent payment after any REFUNDED transition, and the booking for
// notification routing.
type RefundSettlement struct {
	Refund  *domain.Refund
	Payment *domain.Payment
	Booking *domain.Booking
}

type RefundRepository interface {
	Create(ctx context.Context, refund *domain.Refund) error
	GetByID(ctx context.Context, id int64) (*domain.Refund, error)
	ListByPayment(ctx context.Context, paymentID int64) ([]domain.Refund, error)
	HasActiveByPayment(ctx context.Context, paymentID int64) (bool, error)
	SumCompletedByPayment(ctx context.Context, paymentID int64) (int64, error)
	Transition(ctx context.Context, refundID int64, from, to domain.RefundStatus) (*domain.Refund, error)
	Complete(ctx context.Context, refundID int64, gatewayRefundID string) (*RefundSettlement, error)
	MarkFailed(ctx context.Context, refundID int64, reason string) (*domain.Refund, error)
}

type PGRefundRepository struct {
	db *pgxpool.Pool
}

func NewRefundRepository(db *pgxpool.Pool) RefundRepository {
	return &PGRefundRepository{db: db}
}

const refundColumns = `id, refund_code, payment_id, booking_id, amount, reason, status, requested_by, gateway_refund_id, failure_reason, notified_at, created_at, updated_at`

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var rf domain.Refund
	if err := row.Scan(&rf.ID, &rf.RefundCode, &rf.PaymentID, &rf.BookingID, &rf.Amount, &rf.Reason, &rf.Status, &rf.RequestedBy, &rf.GatewayRefundID, &rf.FailureReason, &rf.NotifiedAt, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
		return nil, err
	}
	return &rf, nil
}

func (r *PGRefundRepository) Create(ctx context.Context, refund *domain.Refund) error {
	refund.Status = domain.RefundStatusPending
	err := r.db.QueryRow(ctx, `INSERT INTO refunds (refund_code, payment_id, booking_id, amount, reason, status, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		refund.RefundCode, refund.PaymentID, refund.BookingID, refund.Amount, refund.Reason, refund.Status, refund.RequestedBy).
		Scan(&refund.ID, &refund.CreatedAt, &refund.UpdatedAt)
	if err != nil {
		// The partial unique index on active refunds backs the one-active-
		// refund rule under concurrent requests.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Validationf("an active refund already exists for payment %d", refund.PaymentID)
		}
		return err
	}
	return nil
}

func (r *PGRefundRepository) GetByID(ctx context.Context, id int64) (*domain.Refund, error) {
	row := r.db.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id=$1`, id)
	rf, err := scanRefund(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("refund %d", id)
		}
		return nil, err
	}
	return rf, nil
}

func (r *PGRefundRepository) ListByPayment(ctx context.Context, paymentID int64) ([]domain.Refund, error) {
	rows, err := r.db.Query(ctx, `SELECT `+refundColumns+` FROM refunds WHERE payment_id=$1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0)
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *rf)
	}
	return refunds, rows.Err()
}

func (r *PGRefundRepository) HasActiveByPayment(ctx context.Context, paymentID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refunds WHERE payment_id=$1 AND status = ANY($2))`,
		paymentID, []domain.RefundStatus{domain.RefundStatusPending, domain.RefundStatusProcessing}).Scan(&exists)
	return exists, err
}

func (r *PGRefundRepository) SumCompletedByPayment(ctx context.Context, paymentID int64) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id=$1 AND status=$2`,
		paymentID, domain.RefundStatusCompleted).Scan(&total)
	return total, err
}

// Transition moves a refund between states only when it is still in the
// expected source state, so duplicate task deliveries cannot double-process.
func (r *PGRefundRepository) Transition(ctx context.Context, refundID int64, from, to domain.RefundStatus) (*domain.Refund, error) {
	row := r.db.QueryRow(ctx, `UPDATE refunds SET status=$1, updated_at=now() WHERE id=$2 AND status=$3
		RETURNING `+refundColumns, to, refundID, from)
	rf, err := scanRefund(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Validationf("refund %d is not %s", refundID, from)
		}
		return nil, err
	}
	return rf, nil
}

// Complete finishes a processing refund. Once the payment is fully refunded
// it transitions to REFUNDED, and the booking's refunded total is bumped, in
// the same transaction.
func (r *PGRefundRepository) Complete(ctx context.Context, refundID int64, gatewayRefundID string) (*RefundSettlement, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `UPDATE refunds SET status=$1, gateway_refund_id=$2, updated_at=now()
		WHERE id=$3 AND status=$4
		RETURNING `+refundColumns,
		domain.RefundStatusCompleted, gatewayRefundID, refundID, domain.RefundStatusProcessing)
	refund, err := scanRefund(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Validationf("refund %d is not processing", refundID)
		}
		return nil, err
	}

	prow := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1 FOR UPDATE`, refund.PaymentID)
	payment, err := scanPayment(prow)
	if err != nil {
		return nil, err
	}

	var refundedTotal int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id=$1 AND status=$2`,
		refund.PaymentID, domain.RefundStatusCompleted).Scan(&refundedTotal); err != nil {
		return nil, err
	}
	if refundedTotal > payment.Amount {
		return nil, domain.Validationf("refunded total %d exceeds payment amount %d", refundedTotal, payment.Amount)
	}

	if refundedTotal == payment.Amount {
		prow = tx.QueryRow(ctx, `UPDATE payments SET status=$1, updated_at=now() WHERE id=$2 RETURNING `+paymentColumns,
			domain.PaymentStatusRefunded, payment.ID)
		payment, err = scanPayment(prow)
		if err != nil {
			return nil, err
		}
	}

	brow := tx.QueryRow(ctx, `UPDATE bookings SET refunded_amount = refunded_amount + $1, updated_at=now() WHERE id=$2
		RETURNING `+bookingColumns, refund.Amount, refund.BookingID)
	booking, err := scanBooking(brow)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &RefundSettlement{Refund: refund, Payment: payment, Booking: booking}, nil
}

func (r *PGRefundRepository) MarkFailed(ctx context.Context, refundID int64, reason string) (*domain.Refund, error) {
	row := r.db.QueryRow(ctx, `UPDATE refunds SET status=$1, failure_reason=$2, updated_at=now()
		WHERE id=$3 AND status=$4
		RETURNING `+refundColumns,
		domain.RefundStatusFailed, reason, refundID, domain.RefundStatusProcessing)
	rf, err := scanRefund(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Validationf("refund %d is not processing", refundID)
		}
		return nil, err
	}
	return rf, nil
}

var _ RefundRepository = (*PGRefundRepository)(nil)
