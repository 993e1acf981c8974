package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avetrin/studiorent/api"
	"github.com/avetrin/studiorent/config"
	"github.com/avetrin/studiorent/internal/service/booking"
	"github.com/avetrin/studiorent/internal/service/payment"
	"github.com/avetrin/studiorent/internal/service/refund"
	"github.com/avetrin/studiorent/internal/telemetry"
)

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func Run(ctx context.Context, cfg *config.Config, bookingSvc booking.BookingUseCase, paymentSvc payment.PaymentUseCase, refundSvc refund.RefundUseCase) error {
	router := newRouter(bookingSvc, paymentSvc, refundSvc)

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func newRouter(bookingSvc booking.BookingUseCase, paymentSvc payment.PaymentUseCase, refundSvc refund.RefundUseCase) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")
	api.NewBookingHandler(bookingSvc).Register(apiGroup.Group("/bookings"))
	api.NewPaymentHandler(paymentSvc, refundSvc).Register(apiGroup.Group("/payments"))

	return r
}
