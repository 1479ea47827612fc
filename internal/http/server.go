// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"delixmi/internal/http/handlers"
	"delixmi/internal/http/middleware"
	"delixmi/internal/modules/courier"
	"delixmi/internal/modules/dispatch"
	"delixmi/internal/modules/order"
)

type ServerDeps struct {
	Order    *order.Service
	Dispatch *dispatch.Service
	Courier  *courier.Service
	Logger   *slog.Logger
}

type Server struct {
	order    *order.Service
	dispatch *dispatch.Service
	courier  *courier.Service
	logger   *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		order:    deps.Order,
		dispatch: deps.Dispatch,
		courier:  deps.Courier,
		logger:   deps.Logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.logger), middleware.Logging(s.logger))

	driverHandler := handlers.NewDriverHandler(s.dispatch, s.courier)
	r.GET("/api/driver/orders/available", driverHandler.ListAvailable)
	r.POST("/api/driver/orders/:id/claim", driverHandler.Claim)
	r.POST("/api/driver/orders/:id/complete", driverHandler.Complete)
	r.PUT("/api/driver/location", driverHandler.UpdateLocation)
	r.POST("/api/driver/availability", driverHandler.SetAvailability)

	orderHandler := handlers.NewOrderHandler(s.order)
	r.GET("/api/orders/:id", orderHandler.Get)
	r.POST("/api/orders/:id/preparing", orderHandler.MarkPreparing)
	r.POST("/api/orders/:id/ready", orderHandler.MarkReady)
	r.POST("/api/orders/:id/reject", orderHandler.Reject)
	r.POST("/api/orders/:id/cancel", orderHandler.Cancel)

	webhookHandler := handlers.NewWebhookHandler(s.order)
	r.POST("/api/webhooks/payment", webhookHandler.PaymentCaptured)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
