package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/metamax/dashboard/docs"
	"github.com/metamax/dashboard/internal/api/handler"
	"github.com/metamax/dashboard/internal/api/middleware"
	"github.com/metamax/dashboard/internal/core/domain"
	"github.com/metamax/dashboard/internal/core/ports"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Accounts ports.AccountService
	// Users verifies bearer tokens when JWTSecret is empty.
	Users     middleware.UserLookup
	JWTSecret string
	Public    handler.PublicConfig
	Checks    map[string]handler.Check
	Log       zerolog.Logger

	// Registerer and Gatherer default to the global Prometheus registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	if d.Registerer == nil {
		d.Registerer = prometheus.DefaultRegisterer
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(d.Log))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "metamax",
		Subsystem:  "http",
		Registerer: d.Registerer,
	}))

	// --- Account creation (no auth: callers have no session yet) ---
	signup := handler.NewSignupHandler(d.Accounts, d.Log)
	e.POST("/api/signup", signup.Signup)
	e.POST("/api/auth/signup", signup.Signup)

	e.GET("/api/config", handler.NewConfigHandler(d.Public).Public)

	// --- Authenticated routes ---
	dashboard := e.Group("/api/dashboard",
		middleware.Auth(d.JWTSecret, d.Users),
		middleware.RBAC(domain.RoleAuthenticated),
	)
	dashboard.GET("/summary", handler.NewDashboardHandler().Summary)

	// --- Health probes (no auth required) ---
	e.GET("/health", handler.NewHealthHandler().Liveness)
	e.GET("/health/ready", handler.NewReadinessHandler(d.Checks).Readiness)

	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: d.Gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}
