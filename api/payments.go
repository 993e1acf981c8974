package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avetrin/studiorent/internal/domain"
	"github.com/avetrin/studiorent/internal/gateway"
	"github.com/avetrin/studiorent/internal/service/payment"
	"github.com/avetrin/studiorent/internal/service/refund"
)

type PaymentHandler struct {
	payments payment.PaymentUseCase
	refunds  refund.RefundUseCase
}

func NewPaymentHandler(payments payment.PaymentUseCase, refunds refund.RefundUseCase) *PaymentHandler {
	return &PaymentHandler{payments: payments, refunds: refunds}
}

func (h *PaymentHandler) Register(router *gin.RouterGroup) {
	router.POST("/options/:bookingId", h.createOptions)
	router.POST("/create/:bookingId", h.create)
	router.POST("/remaining/:bookingId", h.createRemaining)
	router.POST("/webhook", h.webhook)
	router.GET("/:paymentId", h.get)
	router.POST("/:paymentId/refund", h.createRefund)
	router.GET("/:paymentId/refund", h.listRefunds)
	router.POST("/:paymentId/refund/:refundId/retry", h.retryRefund)
}

type paymentResponse struct {
	ID          int64  `json:"id"`
	BookingID   int64  `json:"booking_id"`
	PaymentCode string `json:"payment_code"`
	OrderCode   int64  `json:"order_code"`
	Amount      int64  `json:"amount"`
	PayType     string `json:"pay_type"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	QRCode      string `json:"qr_code,omitempty"`
	PaidAt      string `json:"paid_at,omitempty"`
}

func toPaymentResponse(p *domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:          p.ID,
		BookingID:   p.BookingID,
		PaymentCode: p.PaymentCode,
		OrderCode:   p.TransactionID,
		Amount:      p.Amount,
		PayType:     string(p.PayType),
		Status:      string(p.Status),
		CheckoutURL: p.CheckoutURL,
		QRCode:      p.QRCode,
	}
	if p.PaidAt != nil {
		resp.PaidAt = p.PaidAt.Format(time.RFC3339)
	}
	return resp
}

type refundResponse struct {
	ID         int64  `json:"id"`
	RefundCode string `json:"refund_code"`
	PaymentID  int64  `json:"payment_id"`
	BookingID  int64  `json:"booking_id"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
}

func toRefundResponse(r *domain.Refund) refundResponse {
	return refundResponse{
		ID:         r.ID,
		RefundCode: r.RefundCode,
		PaymentID:  r.PaymentID,
		BookingID:  r.BookingID,
		Amount:     r.Amount,
		Reason:     r.Reason,
		Status:     string(r.Status),
	}
}

func (h *PaymentHandler) createOptions(c *gin.Context) {
	bookingID, err := strconv.ParseInt(c.Param("bookingId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	options, err := h.payments.CreatePaymentOptions(c.Request.Context(), bookingID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]paymentResponse, 0, len(options))
	for i := range options {
		resp = append(resp, toPaymentResponse(&options[i]))
	}
	c.JSON(http.StatusOK, gin.H{"options": resp})
}

type createPaymentRequest struct {
	PayType string `json:"pay_type"`
}

func (h *PaymentHandler) create(c *gin.Context) {
	bookingID, err := strconv.ParseInt(c.Param("bookingId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.payments.CreatePayment(c.Request.Context(), bookingID, domain.PayType(req.PayType))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentResponse(p))
}

func (h *PaymentHandler) createRemaining(c *gin.Context) {
	bookingID, err := strconv.ParseInt(c.Param("bookingId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	p, err := h.payments.CreateRemainingPayment(c.Request.Context(), bookingID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentResponse(p))
}

func (h *PaymentHandler) webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var payload gateway.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	payload.Raw = body
	if sig := c.GetHeader("x-payos-signature"); sig != "" {
		payload.Signature = sig
	}

	settlement, err := h.payments.HandleWebhook(c.Request.Context(), &payload)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"reprocessed": settlement.Reprocessed,
		"payment":     toPaymentResponse(settlement.Payment),
	})
}

func (h *PaymentHandler) get(c *gin.Context) {
	paymentID, err := strconv.ParseInt(c.Param("paymentId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	p, err := h.payments.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

func (h *PaymentHandler) createRefund(c *gin.Context) {
	paymentID, err := strconv.ParseInt(c.Param("paymentId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	var req refund.CreateRefundInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.refunds.CreateRefund(c.Request.Context(), paymentID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRefundResponse(r))
}

func (h *PaymentHandler) retryRefund(c *gin.Context) {
	refundID, err := strconv.ParseInt(c.Param("refundId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refund id"})
		return
	}

	r, err := h.refunds.RetryRefund(c.Request.Context(), refundID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(r))
}

func (h *PaymentHandler) listRefunds(c *gin.Context) {
	paymentID, err := strconv.ParseInt(c.Param("paymentId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	refunds, err := h.refunds.ListRefunds(c.Request.Context(), paymentID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]refundResponse, 0, len(refunds))
	for i := range refunds {
		resp = append(resp, toRefundResponse(&refunds[i]))
	}
	c.JSON(http.StatusOK, gin.H{"refunds": resp})
}
