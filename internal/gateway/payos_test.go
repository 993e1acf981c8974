package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avetrin/studiorent/config"
	"github.com/avetrin/studiorent/internal/domain"
)

func newTestGateway(serverURL string) *PayOSGateway {
	return NewPayOSGateway(config.GatewayConfig{
		BaseURL:     serverURL,
		ClientID:    "client-1",
		APIKey:      "key-1",
		ChecksumKey: "checksum-secret",
	})
}

func TestPayOSGateway_CreatePaymentLink(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payment-requests", r.URL.Path)
		assert.Equal(t, "client-1", r.Header.Get("x-client-id"))
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "00",
			"desc": "success",
			"data": map[string]interface{}{
				"checkoutUrl":   "https://pay.payos.vn/web/abc",
				"qrCode":        "QRDATA",
				"paymentLinkId": "abc",
			},
		})
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	link, err := g.CreatePaymentLink(context.Background(), CreateLinkRequest{
		OrderCode:   123456,
		Amount:      300000,
		Description: "a very long booking description that exceeds the limit",
		ReturnURL:   "https://front/return",
		CancelURL:   "https://front/cancel",
	})

	assert.NoError(t, err)
	assert.Equal(t, "https://pay.payos.vn/web/abc", link.CheckoutURL)
	assert.Equal(t, "abc", link.PaymentLinkID)

	// Description is truncated before signing and sending.
	desc := gotBody["description"].(string)
	assert.Len(t, desc, descriptionLimit)
	assert.True(t, strings.HasPrefix("a very long booking description", desc))
	assert.NotEmpty(t, gotBody["signature"])
}

func TestPayOSGateway_CreatePaymentLink_GatewayRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": "231", "desc": "duplicate order code"})
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.CreatePaymentLink(context.Background(), CreateLinkRequest{OrderCode: 1, Amount: 1000})

	assert.ErrorIs(t, err, domain.ErrGateway)
	assert.Contains(t, err.Error(), "duplicate order code")
}

func TestPayOSGateway_RefundPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment-requests/link-9/refund", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "00",
			"desc": "success",
			"data": map[string]interface{}{"refundId": "rf-1", "status": "SUCCEEDED"},
		})
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	result, err := g.RefundPayment(context.Background(), RefundRequest{
		PaymentLinkID: "link-9",
		Amount:        200000,
		Reason:        "customer request",
	})

	assert.NoError(t, err)
	assert.Equal(t, "rf-1", result.RefundID)
	assert.Equal(t, "SUCCEEDED", result.Status)
}

func TestPayOSGateway_VerifyWebhook(t *testing.T) {
	g := newTestGateway("http://unused")

	payload := &WebhookPayload{
		Code: "00",
		Desc: "success",
		Data: WebhookData{OrderCode: 42, Amount: 300000},
	}
	payload.Signature = Sign("checksum-secret", payload.Code+payload.Desc)
	assert.True(t, g.VerifyWebhook(payload))

	payload.Signature = Sign("wrong-key", payload.Code+payload.Desc)
	assert.False(t, g.VerifyWebhook(payload))

	payload.Signature = ""
	assert.False(t, g.VerifyWebhook(payload))
}
