package payment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/avetrin/studiorent/internal/domain"
	"github.com/avetrin/studiorent/internal/gateway"
	"github.com/avetrin/studiorent/internal/repository"
)

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) Cancel(ctx context.Context, id int64, reason string) (*domain.Booking, []domain.Payment, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Booking), args.Get(1).([]domain.Payment), args.Error(2)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetByTransactionID(ctx context.Context, transactionID int64) (*domain.Payment, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListByBooking(ctx context.Context, bookingID int64) ([]domain.Payment, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListActiveByBooking(ctx context.Context, bookingID int64) ([]domain.Payment, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) SumPaidByBooking(ctx context.Context, bookingID int64) (int64, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPaymentRepository) CreateBatch(ctx context.Context, payments []*domain.Payment) error {
	args := m.Called(ctx, payments)
	return args.Error(0)
}

func (m *MockPaymentRepository) SettlePaid(ctx context.Context, paymentID int64, gatewayResponse []byte, paidAt time.Time) (*repository.Settlement, error) {
	args := m.Called(ctx, paymentID, gatewayResponse, paidAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Settlement), args.Error(1)
}

func (m *MockPaymentRepository) MarkCancelled(ctx context.Context, paymentID int64, reason string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.Payment, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]domain.Payment), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePaymentLink(ctx context.Context, req gateway.CreateLinkRequest) (*gateway.PaymentLink, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentLink), args.Error(1)
}

func (m *MockGateway) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	args := m.Called(ctx, orderCode, reason)
	return args.Error(0)
}

func (m *MockGateway) RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.RefundResult), args.Error(1)
}

func (m *MockGateway) VerifyWebhook(payload *gateway.WebhookPayload) bool {
	args := m.Called(payload)
	return args.Bool(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func newTestService(bookings *MockBookingRepository, payments *MockPaymentRepository, gw *MockGateway, cache *MockCache, producer *MockProducer) *PaymentService {
	return &PaymentService{
		bookings:           bookings,
		payments:           payments,
		gateway:            gw,
		cache:              cache,
		producer:           producer,
		notificationsTopic: "notifications",
		frontendURL:        "https://front",
		minAmount:          1000,
		optionClaimTTL:     30 * time.Second,
		webhookClaimTTL:    30 * time.Second,
		logger:             zap.NewNop(),
	}
}

func pendingBooking(finalAmount int64) *domain.Booking {
	return &domain.Booking{
		ID:                  7,
		CustomerEmail:       "customer@example.com",
		ScheduleID:          12,
		TotalBeforeDiscount: finalAmount,
		FinalAmount:         finalAmount,
		PayType:             domain.PayTypeNone,
		Status:              domain.BookingStatusPending,
	}
}

func TestPaymentService_CreatePaymentOptions_Success(t *testing.T) {
	bookings := &MockBookingRepository{}
	payments := &MockPaymentRepository{}
	gw := &MockGateway{}
	cache := &MockCache{}
	producer := &MockProducer{}
	service := newTestService(bookings, payments, gw, cache, producer)

	ctx := context.Background()
	bookings.On("GetByID", ctx, int64(7)).Return(pendingBooking(1000000), nil).Once()
	payments.On("ListActiveByBooking", ctx, int64(7)).Return([]domain.Payment{}, nil).Once()
	cache.On("Claim", ctx, "payment-options:7", 30*time.Second).Return(true, nil).Once()
	cache.On("Release", ctx, "payment-options:7").Return(nil).Once()

	for _, amount := range []int64{300000, 500000, 1000000} {
		amount := amount
		gw.On("CreatePaymentLink", ctx, mock.MatchedBy(func(req gateway.CreateLinkRequest) bool {
			return req.Amount == amount
		})).Return(&gateway.PaymentLink{
			CheckoutURL:   "https://pay/link",
			QRCode:        "QR",
			PaymentLinkID: "link-id",
		}, nil).Once()
	}
	payments.On("CreateBatch", ctx, mock.AnythingOfType("[]*domain.Payment")).Return(nil).Once()

	options, err := service.CreatePaymentOptions(ctx, 7)

	assert.NoError(t, err)
	assert.Len(t, options, 3)
	assert.Equal(t, int64(300000), options[0].Amount)
	assert.Equal(t, domain.PayTypePrepay30, options[0].PayType)
	assert.Equal(t, int64(500000), options[1].Amount)
	assert.Equal(t, domain.PayTypePrepay50, options[1].PayType)
	assert.Equal(t, int64(1000000), options[2].Amount)
	assert.Equal(t, domain.PayTypeFull, options[2].PayType)

	// Each option carries a distinct gateway order code.
	assert.NotEqual(t, options[0].TransactionID, options[1].TransactionID)
	assert.NotEqual(t, options[1].TransactionID, options[2].TransactionID)

	bookings.AssertExpectations(t)
	payments.AssertExpectations(t)
	gw.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestPaymentService_CreatePaymentOptions_Idempotent(t *testing.T) {
	bookings := &MockBookingRepository{}
	payments := &MockPaymentRepository{}
	gw := &MockGateway{}
	cache := &MockCache{}
	service := newTestService(bookings, payments, gw, cache, &MockProducer{})

	ctx := context.Background()
	existing := []domain.Payment{
		{ID: 1, BookingID: 7, Amount: 300000, PayType: domain.PayTypePrepay30, Status: domain.PaymentStatusPending},
		{ID: 2, BookingID: 7, Amount: 500000, PayType: domain.PayTypePrepay50, Status: domain.PaymentStatusPending},
		{ID: 3, BookingID: 7, Amount: 1000000, PayType: domain.PayTypeFull, Status: domain.PaymentStatusPending},
	}
	bookings.On("GetByID", ctx, int64(7)).Return(pendingBooking(1000000), nil).Once()
	payments.On("ListActiveByBooking", ctx, int64(7)).Return(existing, nil).Once()

	options, err := service.CreatePaymentOptions(ctx, 7)

	assert.NoError(t, err)
	assert.Equal(t, existing, options)
	gw.AssertNotCalled(t, "CreatePaymentLink", mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestPaymentService_CreatePaymentOptions_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		booking *domain.Booking
	}{
		{
			name: "Cancelled booking",
			booking: &domain.Booking{
				ID: 7, FinalAmount: 1000000, Status: domain.BookingStatusCancelled,
			},
		},
		{
			name: "Completed booking",
			booking: &domain.Booking{
				ID: 7, FinalAmount: 1000000, Status: domain.BookingStatusCompleted,
			},
		},
		{
			name: "Non-positive final amount",
			booking: &domain.Booking{
				ID: 7, FinalAmount: 0, Status: domain.BookingStatusPending,
			},
		},
		{
			name: "Smallest tier below minimum",
			booking: &domain.Booking{
				ID: 7, FinalAmount: 3000, Status: domain.BookingStatusPending,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bookings := &MockBookingRepository{}
			payments := &MockPaymentRepository{}
			service := newTestService(bookings, payments, &MockGateway{}, &MockCache{}, &MockProducer{})

			ctx := context.Background()
			bookings.On("GetByID", ctx, int64(7)).Return(tc.booking, nil).Once()

			_, err := service.CreatePaymentOptions(ctx, 7)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestPaymentService_CreatePaymentOptions_ClaimHeld(t *testing.T) {
	bookings := &MockBookingRepository{}
	payments := &MockPaymentRepository{}
	cache := &MockCache{}
	service := newTestService(bookings, payments, &MockGateway{}, cache, &MockProducer{})

	ctx := context.Background()
	bookings.On("GetByID", ctx, int64(7)).Return(pendingBooking(1000000), nil).Once()
	payments.On("ListActiveByBooking", ctx, int64(7)).Return([]domain.Payment{}, nil).Once()
	cache.On("Claim", ctx, "payment-options:7", 30*time.Second).Return(false, nil).Once()

	_, err := service.CreatePaymentOptions(ctx, 7)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPaymentService_CreatePaymentOptions_GatewayFailure(t *testing.T) {
	bookings := &MockBookingRepository{}
	payments := &MockPaymentRepository{}
	gw := &MockGateway{}
	cache := &MockCache{}
	service := newTestService(bookings, payments, gw, cache, &MockProducer{})

	ctx := context.Background()
	bookings.On("GetByID", ctx, int64(7)).Return(pendingBooking(1000000), nil).Once()
	payments.On("ListActiveByBooking", ctx, int64(7)).Return([]domain.Payment{}, nil).Once()
	cache.On("Claim", ctx, "payment-options:7", 30*time.Second).Return(true, nil).Once()
	cache.On("Release", ctx, "payment-options:7").Return(nil).Once()
	gw.On("CreatePaymentLink", ctx, mock.Anything).Return(nil, domain.ErrGateway).Once()

	_, err := service.CreatePaymentOptions(ctx, 7)

	assert.ErrorIs(t, err, domain.ErrGateway)
	payments.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestPaymentService_CreatePayment_ReturnsExistingTier(t *testing.T) {
	bookings := &MockBookingRepository{}
	payments := &MockPaymentRepository{}
	gw := &MockGateway{}
	service := newTestService(bookings, payments, gw, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	existing := []domain.Payment{
		{ID: 4, BookingID: 7, Amount: 300000, PayType: domain.PayTypePrepay30, Status: domain.PaymentStatusPending},
	}
	bookings.On("GetByID", ctx, int64(7)).Return(pendingBooking(1000000), nil).Once()
	payments.On("ListActiveByBooking", ctx, int64(7)).Return(existing, nil).Once()

	p, err := service.CreatePayment(ctx, 7, domain.PayTypePrepay30)

	assert.NoError(t, err)
	assert.Equal(t, int64(4), p.ID)
	gw.AssertNotCalled(t, "CreatePaymentLink", mock.Anything, mock.Anything)
}

func TestPaymentService_CreatePayment_UnknownPayType(t *testing.T) {
	service := newTestService(&MockBookingRepository{}, &MockPaymentRepository{}, &MockGateway{}, &MockCache{}, &MockProducer{})

	_, err := service.CreatePayment(context.Background(), 7, domain.PayType("HALFSIES"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPaymentService_CreateRemainingPayment(t *testing.T) {
	bookings := &MockBookingRepository{}
	payments := &MockPaymentRepository{}
	gw := &MockGateway{}
	service := newTestService(bookings, payments, gw, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	bookings.On("GetByID", ctx, int64(7)).Return(pendingBooking(1000000), nil).Once()
	payments.On("SumPaidByBooking", ctx, int64(7)).Return(int64(300000), nil).Once()
	gw.On("CreatePaymentLink", ctx, mock.MatchedBy(func(req gateway.CreateLinkRequest) bool {
		return req.Amount == 700000
	})).Return(&gateway.PaymentLink{CheckoutURL: "https://pay/rest", PaymentLinkID: "rest"}, nil).Once()
	payments.On("CreateBatch", ctx, mock.AnythingOfType("[]*domain.Payment")).Return(nil).Once()

	p, err := service.CreateRemainingPayment(ctx, 7)

	assert.NoError(t, err)
	assert.Equal(t, int64(700000), p.Amount)
	assert.Equal(t, domain.PayTypeFull, p.PayType)
}

func TestPaymentService_CreateRemainingPayment_FullyPaid(t *testing.T) {
	bookings := &MockBookingRepository{}
	payments := &MockPaymentRepository{}
	service := newTestService(bookings, payments, &MockGateway{}, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	bookings.On("GetByID", ctx, int64(7)).Return(pendingBooking(1000000), nil).Once()
	payments.On("SumPaidByBooking", ctx, int64(7)).Return(int64(1000000), nil).Once()

	_, err := service.CreateRemainingPayment(ctx, 7)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func successPayload(orderCode int64) *gateway.WebhookPayload {
	payload := &gateway.WebhookPayload{
		Code: gateway.WebhookCodeSuccess,
		Desc: "success",
		Data: gateway.WebhookData{OrderCode: orderCode, Amount: 300000},
	}
	payload.Raw, _ = json.Marshal(payload)
	return payload
}

func TestPaymentService_HandleWebhook_Success(t *testing.T) {
	bookings := &MockBookingRepository{}
	payments := &MockPaymentRepository{}
	gw := &MockGateway{}
	cache := &MockCache{}
	producer := &MockProducer{}
	service := newTestService(bookings, payments, gw, cache, producer)

	ctx := context.Background()
	payload := successPayload(555)
	pending := &domain.Payment{ID: 10, BookingID: 7, TransactionID: 555, Amount: 300000, Status: domain.PaymentStatusPending}
	confirmed := &domain.Booking{ID: 7, CustomerEmail: "customer@example.com", FinalAmount: 1000000, PayType: domain.PayTypePrepay30, Status: domain.BookingStatusConfirmed}

	gw.On("VerifyWebhook", payload).Return(true).Once()
	payments.On("GetByTransactionID", ctx, int64(555)).Return(pending, nil).Once()
	cache.On("Claim", ctx, "webhook:555", 30*time.Second).Return(true, nil).Once()
	payments.On("SettlePaid", ctx, int64(10), mock.Anything, mock.Anything).Return(&repository.Settlement{
		Payment:   &domain.Payment{ID: 10, BookingID: 7, Amount: 300000, Status: domain.PaymentStatusPaid},
		Booking:   confirmed,
		TotalPaid: 300000,
	}, nil).Once()
	producer.On("Publish", ctx, "notifications", "booking-7", mock.Anything).Return(nil).Once()

	settlement, err := service.HandleWebhook(ctx, payload)

	assert.NoError(t, err)
	assert.False(t, settlement.Reprocessed)
	assert.Equal(t, domain.PaymentStatusPaid, settlement.Payment.Status)
	assert.Equal(t, domain.BookingStatusConfirmed, settlement.Booking.Status)
	assert.Equal(t, domain.PayTypePrepay30, settlement.Booking.PayType)

	producer.AssertExpectations(t)
}

func TestPaymentService_HandleWebhook_InvalidSignature(t *testing.T) {
	gw := &MockGateway{}
	payments := &MockPaymentRepository{}
	service := newTestService(&MockBookingRepository{}, payments, gw, &MockCache{}, &MockProducer{})

	payload := successPayload(555)
	gw.On("VerifyWebhook", payload).Return(false).Once()

	_, err := service.HandleWebhook(context.Background(), payload)

	assert.ErrorIs(t, err, domain.ErrValidation)
	payments.AssertNotCalled(t, "GetByTransactionID", mock.Anything, mock.Anything)
}

func TestPaymentService_HandleWebhook_UnknownOrderCode(t *testing.T) {
	gw := &MockGateway{}
	payments := &MockPaymentRepository{}
	service := newTestService(&MockBookingRepository{}, payments, gw, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	payload := successPayload(999)
	gw.On("VerifyWebhook", payload).Return(true).Once()
	payments.On("GetByTransactionID", ctx, int64(999)).Return(nil, domain.NotFoundf("payment for order code 999")).Once()

	_, err := service.HandleWebhook(ctx, payload)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaymentService_HandleWebhook_AlreadyPaidIsNoop(t *testing.T) {
	gw := &MockGateway{}
	payments := &MockPaymentRepository{}
	service := newTestService(&MockBookingRepository{}, payments, gw, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	payload := successPayload(555)
	paid := &domain.Payment{ID: 10, BookingID: 7, TransactionID: 555, Amount: 300000, Status: domain.PaymentStatusPaid}

	gw.On("VerifyWebhook", payload).Return(true).Once()
	payments.On("GetByTransactionID", ctx, int64(555)).Return(paid, nil).Once()

	settlement, err := service.HandleWebhook(ctx, payload)

	assert.NoError(t, err)
	assert.True(t, settlement.Reprocessed)
	payments.AssertNotCalled(t, "SettlePaid", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_HandleWebhook_ConcurrentDeliverySuppressed(t *testing.T) {
	gw := &MockGateway{}
	payments := &MockPaymentRepository{}
	cache := &MockCache{}
	service := newTestService(&MockBookingRepository{}, payments, gw, cache, &MockProducer{})

	ctx := context.Background()
	payload := successPayload(555)
	pending := &domain.Payment{ID: 10, BookingID: 7, TransactionID: 555, Amount: 300000, Status: domain.PaymentStatusPending}

	gw.On("VerifyWebhook", payload).Return(true).Once()
	payments.On("GetByTransactionID", ctx, int64(555)).Return(pending, nil).Once()
	cache.On("Claim", ctx, "webhook:555", 30*time.Second).Return(false, nil).Once()

	settlement, err := service.HandleWebhook(ctx, payload)

	assert.NoError(t, err)
	assert.True(t, settlement.Reprocessed)
	payments.AssertNotCalled(t, "SettlePaid", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_HandleWebhook_FailureCode(t *testing.T) {
	gw := &MockGateway{}
	payments := &MockPaymentRepository{}
	cache := &MockCache{}
	producer := &MockProducer{}
	service := newTestService(&MockBookingRepository{}, payments, gw, cache, producer)

	ctx := context.Background()
	payload := &gateway.WebhookPayload{
		Code: "01",
		Desc: "card declined",
		Data: gateway.WebhookData{OrderCode: 555, Amount: 300000},
	}
	pending := &domain.Payment{ID: 10, BookingID: 7, TransactionID: 555, Amount: 300000, Status: domain.PaymentStatusPending}
	cancelled := &domain.Payment{ID: 10, BookingID: 7, TransactionID: 555, Amount: 300000, Status: domain.PaymentStatusCancelled, FailureReason: "card declined"}

	gw.On("VerifyWebhook", payload).Return(true).Once()
	payments.On("GetByTransactionID", ctx, int64(555)).Return(pending, nil).Once()
	cache.On("Claim", ctx, "webhook:555", 30*time.Second).Return(true, nil).Once()
	payments.On("MarkCancelled", ctx, int64(10), "card declined").Return(cancelled, nil).Once()
	producer.On("Publish", ctx, "notifications", "booking-7", mock.Anything).Return(nil).Once()

	settlement, err := service.HandleWebhook(ctx, payload)

	assert.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, settlement.Payment.Status)
	payments.AssertExpectations(t)
}
