// Package router registers the HTTP routes of the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/rail-ticketing/internal/config"
	"github.com/iliyamo/rail-ticketing/internal/handler"
	"github.com/iliyamo/rail-ticketing/internal/middleware"
)

// Handlers bundles the route handlers.
type Handlers struct {
	Public    *handler.PublicHandler
	Passenger *handler.PassengerHandler
	Conductor *handler.ConductorHandler
	Admin     *handler.AdminHandler
}

// Options carries what the middlewares need.  Redis may be nil, in which
// case caching and rate limiting are off.
type Options struct {
	JWTSecret string
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
}

// RegisterRoutes mounts every route on e.
func RegisterRoutes(e *echo.Echo, h Handlers, opts Options) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	RegisterPublic(e, h.Public, opts)
	RegisterPassenger(e, h.Passenger, opts)
	RegisterConductor(e, h.Conductor, opts.JWTSecret)
	RegisterAdmin(e, h.Admin, opts.JWTSecret)
}

// RegisterPublic mounts unauthenticated browsing.  Schedule availability
// is served through the short-lived response cache.
func RegisterPublic(e *echo.Echo, h *handler.PublicHandler, opts Options) {
	g := e.Group("/v1")
	g.GET("/schedules/:id", h.GetSchedule, middleware.NewRedisCache(opts.Cache, opts.Redis))
	g.GET("/trains/:id/schedules", h.ListTrainSchedules)
}

// RegisterPassenger mounts the PASSENGER endpoints.  Booking is rate
// limited per user.
func RegisterPassenger(e *echo.Echo, h *handler.PassengerHandler, opts Options) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(opts.JWTSecret),
		middleware.RequireRole(middleware.RolePassenger),
	)
	g.POST("/schedules/:id/book", h.Book, middleware.NewTokenBucket(opts.RateLimit, opts.Redis))
	g.GET("/my-tickets", h.MyTickets)
	g.POST("/tickets/:id/refund", h.Refund)
	g.GET("/wallet", h.Wallet)
	g.GET("/wallet/transactions", h.Transactions)
}

// RegisterConductor mounts ticket verification for conductors and gates.
func RegisterConductor(e *echo.Echo, h *handler.ConductorHandler, jwtSecret string) {
	g := e.Group(
		"/v1/tickets",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleConductor),
	)
	g.POST("/verify", h.Verify)
}

// RegisterAdmin mounts timetable management, wallet top-ups and the audit
// views.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	g.POST("/trains", h.CreateTrain)
	g.POST("/schedules", h.CreateSchedule)
	g.PATCH("/schedules/:id/status", h.SetScheduleStatus)
	g.POST("/wallets/:user_id/credit", h.CreditWallet)
	g.GET("/wallets/:user_id/reconcile", h.ReconcileWallet)
	g.GET("/tickets/:id/verifications", h.TicketVerifications)
	g.GET("/holds/:token", h.Holds)
}
