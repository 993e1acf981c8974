package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avetrin/studiorent/internal/domain"
	"github.com/avetrin/studiorent/internal/service/booking"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.GET("/:id", h.get)
	router.DELETE("/:id", h.cancel)
}

type bookingResponse struct {
	ID                  int64  `json:"id"`
	CustomerID          int64  `json:"customer_id"`
	ScheduleID          int64  `json:"schedule_id"`
	TotalBeforeDiscount int64  `json:"total_before_discount"`
	DiscountAmount      int64  `json:"discount_amount"`
	FinalAmount         int64  `json:"final_amount"`
	PayType             string `json:"pay_type"`
	Status              string `json:"status"`
	RefundedAmount      int64  `json:"refunded_amount"`
	CreatedAt           string `json:"created_at"`
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:                  b.ID,
		CustomerID:          b.CustomerID,
		ScheduleID:          b.ScheduleID,
		TotalBeforeDiscount: b.TotalBeforeDiscount,
		DiscountAmount:      b.DiscountAmount,
		FinalAmount:         b.FinalAmount,
		PayType:             string(b.PayType),
		Status:              string(b.Status),
		RefundedAmount:      b.RefundedAmount,
		CreatedAt:           b.CreatedAt.Format(time.RFC3339),
	}
}

func (h *BookingHandler) create(c *gin.Context) {
	var req booking.CreateBookingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.CreateBooking(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBookingResponse(b))
}

func (h *BookingHandler) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	b, err := h.service.GetBooking(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) cancel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req cancelBookingRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}

	b, err := h.service.CancelBooking(c.Request.Context(), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}
