package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avetrin/studiorent/config"
	"github.com/avetrin/studiorent/internal/domain"
	"github.com/avetrin/studiorent/internal/telemetry"
)

const descriptionLimit = 25

// PayOSGateway talks to the PayOS merchant API over HTTP. Requests are
// signed with HMAC-SHA256 using the merchant checksum key; webhook payloads
// are verified the same way over code+desc.
type PayOSGateway struct {
	baseURL     string
	clientID    string
	apiKey      string
	checksumKey string
	httpClient  *http.Client
}

func NewPayOSGateway(cfg config.GatewayConfig) *PayOSGateway {
	return &PayOSGateway{
		baseURL:     cfg.BaseURL,
		clientID:    cfg.ClientID,
		apiKey:      cfg.APIKey,
		checksumKey: cfg.ChecksumKey,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

type payosEnvelope struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

type payosLinkData struct {
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
	PaymentLinkID string `json:"paymentLinkId"`
}

type payosRefundData struct {
	RefundID string `json:"refundId"`
	Status   string `json:"status"`
}

func (g *PayOSGateway) CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (*PaymentLink, error) {
	description := req.Description
	if len(description) > descriptionLimit {
		description = description[:descriptionLimit]
	}

	body := map[string]interface{}{
		"orderCode":   req.OrderCode,
		"amount":      req.Amount,
		"description": description,
		"items":       req.Items,
		"returnUrl":   req.ReturnURL,
		"cancelUrl":   req.CancelURL,
		"buyerName":   req.BuyerName,
		"buyerEmail":  req.BuyerEmail,
		"signature":   g.signCreate(req.OrderCode, req.Amount, description, req.ReturnURL, req.CancelURL),
	}

	var data payosLinkData
	if err := g.post(ctx, "/v2/payment-requests", "create_link", body, &data); err != nil {
		return nil, err
	}

	return &PaymentLink{
		CheckoutURL:   data.CheckoutURL,
		QRCode:        data.QRCode,
		PaymentLinkID: data.PaymentLinkID,
	}, nil
}

func (g *PayOSGateway) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	body := map[string]interface{}{"cancellationReason": reason}
	path := fmt.Sprintf("/v2/payment-requests/%d/cancel", orderCode)
	return g.post(ctx, path, "cancel_link", body, nil)
}

func (g *PayOSGateway) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]interface{}{
		"amount": req.Amount,
		"reason": req.Reason,
	}
	path := fmt.Sprintf("/v1/payment-requests/%s/refund", req.PaymentLinkID)

	var data payosRefundData
	if err := g.post(ctx, path, "refund", body, &data); err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: data.RefundID, Status: data.Status}, nil
}

// VerifyWebhook checks the HMAC-SHA256 signature computed over code+desc
// with the shared checksum key.
func (g *PayOSGateway) VerifyWebhook(payload *WebhookPayload) bool {
	expected := Sign(g.checksumKey, payload.Code+payload.Desc)
	return hmac.Equal([]byte(expected), []byte(payload.Signature))
}

func (g *PayOSGateway) post(ctx context.Context, path, operation string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", domain.ErrGateway, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrGateway, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", g.clientID)
	req.Header.Set("x-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		telemetry.GatewayRequests.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	defer resp.Body.Close()

	var envelope payosEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		telemetry.GatewayRequests.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("%w: decode response: %v", domain.ErrGateway, err)
	}

	if resp.StatusCode != http.StatusOK || envelope.Code != WebhookCodeSuccess {
		telemetry.GatewayRequests.WithLabelValues(operation, "rejected").Inc()
		return fmt.Errorf("%w: code=%s desc=%s", domain.ErrGateway, envelope.Code, envelope.Desc)
	}

	telemetry.GatewayRequests.WithLabelValues(operation, "ok").Inc()
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%w: decode data: %v", domain.ErrGateway, err)
		}
	}
	return nil
}

// signCreate signs link-creation requests over the alphabetically ordered
// field string required by the merchant API.
func (g *PayOSGateway) signCreate(orderCode, amount int64, description, returnURL, cancelURL string) string {
	raw := fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		amount, cancelURL, description, orderCode, returnURL)
	return Sign(g.checksumKey, raw)
}

// Sign computes the hex HMAC-SHA256 of data under key.
func Sign(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ PaymentGateway = (*PayOSGateway)(nil)
