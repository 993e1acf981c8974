package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MockGateway stands in for PayOS outside production. Links and refunds
// always succeed; webhook signatures are verified against the same checksum
// key so signed test payloads still round-trip.
type MockGateway struct {
	checksumKey string
}

func NewMockGateway(checksumKey string) *MockGateway {
	return &MockGateway{checksumKey: checksumKey}
}

func (g *MockGateway) CreatePaymentLink(_ context.Context, req CreateLinkRequest) (*PaymentLink, error) {
	id := uuid.NewString()
	return &PaymentLink{
		CheckoutURL:   fmt.Sprintf("https://pay.mock.local/web/%s", id),
		QRCode:        fmt.Sprintf("MOCKQR|%d|%d", req.OrderCode, req.Amount),
		PaymentLinkID: id,
	}, nil
}

func (g *MockGateway) CancelPaymentLink(_ context.Context, _ int64, _ string) error {
	return nil
}

func (g *MockGateway) RefundPayment(_ context.Context, _ RefundRequest) (*RefundResult, error) {
	return &RefundResult{RefundID: uuid.NewString(), Status: "SUCCEEDED"}, nil
}

func (g *MockGateway) VerifyWebhook(payload *WebhookPayload) bool {
	return payload.Signature == Sign(g.checksumKey, payload.Code+payload.Desc)
}

var _ PaymentGateway = (*MockGateway)(nil)
