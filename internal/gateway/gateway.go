package gateway

import (
	"context"
	"encoding/json"
)

// CreateLinkRequest describes one checkout link to create at the gateway.
type CreateLinkRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
	BuyerName   string
	BuyerEmail  string
	Items       []Item
	ReturnURL   string
	CancelURL   string
}

type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type PaymentLink struct {
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
	PaymentLinkID string `json:"paymentLinkId"`
}

type RefundRequest struct {
	PaymentLinkID string
	OrderCode     int64
	Amount        int64
	Reason        string
}

type RefundResult struct {
	RefundID string
	Status   string
}

// WebhookPayload is the gateway's signed callback body. Data is kept raw so
// the full provider response can be persisted for audit.
type WebhookPayload struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      WebhookData     `json:"data"`
	Signature string          `json:"signature"`
	Raw       json.RawMessage `json:"-"`
}

type WebhookData struct {
	OrderCode int64  `json:"orderCode"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

const WebhookCodeSuccess = "00"

// PaymentGateway is the single adapter contract for the external payment
// provider. The implementation is chosen once at startup from config.
type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (*PaymentLink, error)
	CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
	VerifyWebhook(payload *WebhookPayload) bool
}
