package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ticketing/internal/auth"
	"ticketing/internal/config"
	"ticketing/internal/handlers"
	"ticketing/internal/metrics"
	"ticketing/internal/middleware"
)

// Server представляет HTTP сервер API
type Server struct {
	router   *gin.Engine
	config   *config.Config
	backends *Backends
	identity auth.Identity
}

// NewServer создает новый экземпляр сервера
func NewServer(cfg *config.Config) (*Server, error) {
	identity, err := auth.NewJWTIdentity(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to configure identity: %w", err)
	}

	backends, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	return newServer(cfg, backends, identity), nil
}

func newServer(cfg *config.Config, backends *Backends, identity auth.Identity) *Server {
	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Metrics(),
		middleware.Recovery(),
		middleware.CORS(),
		middleware.Timeout(cfg.RequestTimeout),
	)

	server := &Server{
		router:   router,
		config:   cfg,
		backends: backends,
		identity: identity,
	}
	server.setupRoutes()

	return server
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.backends.Services, s.backends.Payments)

	authn := middleware.Authenticate(s.identity)
	can := middleware.Authorize

	api := s.router.Group("/api")
	{
		events := api.Group("/events")
		{
			events.GET("", h.ListEvents)
			events.POST("", authn, can(auth.OpCreateEvent), h.CreateEvent)
			events.GET("/mine", authn, can(auth.OpListOwnEvents), h.ListMyEvents)
			events.GET("/:id", middleware.OptionalAuthenticate(s.identity), h.GetEvent)
			events.GET("/:id/registrations", authn, can(auth.OpListEventRegistrations), h.ListEventRegistrations)
		}

		checkouts := api.Group("/checkouts", authn)
		{
			checkouts.POST("", can(auth.OpRequestCheckout), h.RequestCheckout)
			checkouts.POST("/confirm", can(auth.OpConfirmCheckout), h.ConfirmCheckout)
			checkouts.GET("/:id", can(auth.OpViewCheckout), h.GetCheckout)
			checkouts.PATCH("/:id/cancel", can(auth.OpCancelCheckout), h.CancelCheckout)
		}

		tickets := api.Group("/tickets", authn)
		{
			tickets.GET("", can(auth.OpListOwnTickets), h.ListTickets)
			tickets.GET("/:id/history", can(auth.OpListOwnTickets), h.TicketHistory)
			tickets.PATCH("/:id/cancel", can(auth.OpCancelTicket), h.CancelTicket)
			tickets.PATCH("/:id/transfer", can(auth.OpTransferTicket), h.TransferTicket)
		}

		api.GET("/registrations", authn, can(auth.OpListOwnRegistrations), h.ListRegistrations)
		api.GET("/registrations/:id", authn, can(auth.OpViewRegistration), h.GetRegistration)

		admin := api.Group("/admin", authn)
		{
			admin.GET("/events/pending", can(auth.OpListPendingEvents), h.ListPendingEvents)
			admin.PATCH("/events/:id/status", can(auth.OpModerateEvent), h.ModerateEvent)
			admin.POST("/checkouts/:id/expire", can(auth.OpExpireCheckout), h.ExpireCheckout)
		}

		// Шлюз подписывает уведомления токеном, JWT здесь нет
		api.POST("/payments/notifications", h.OnPaymentUpdates)
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// healthCheck обрабатывает health check запросы
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	db := s.backends.DB.HealthCheck(ctx)
	status := http.StatusOK
	if db.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":   db.Status,
		"service":  "ticketing-api",
		"database": db,
		"cache":    s.backends.Cache != nil,
		"queue":    s.backends.NATS != nil,
		"search":   s.backends.Search != nil,
	})
}

// Router возвращает роутер для тестирования
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Backends exposes the connections for background jobs started next to
// the API.
func (s *Server) Backends() *Backends {
	return s.backends
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() error {
	return s.backends.Close()
}
