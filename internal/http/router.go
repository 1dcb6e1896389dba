package http

import (
	"log/slog"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/http/handlers"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps is everything the router needs from the composition root.
// A nil LoginLimiter leaves POST /login unthrottled, a nil Gatherer drops /metrics.
type Deps struct {
	Accounts     *accounts.Service
	Prom         *observability.Prom
	Gatherer     prometheus.Gatherer
	LoginLimiter middlewares.Limiter
	Checks       []handlers.Check
}

func NewRouter(log *slog.Logger, cfg config.Config, deps Deps) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// forwarded headers only count when they come from a configured proxy,
	// otherwise ClientIP is the socket peer and login throttling cannot be dodged
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error("invalid TRUSTED_PROXIES, trusting none", "err", err)
		_ = r.SetTrustedProxies(nil)
	}

	// middleware

	r.Use(gin.Recovery())
	if cfg.OTelEnabled {
		r.Use(otelgin.Middleware(cfg.OTelServiceName))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(middlewares.RequireJSON())

	// health
	h := handlers.NewHealthHandler(deps.Checks...)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/docs/openapi.yaml", handlers.OpenAPISpec)
	r.GET("/swagger", handlers.SwaggerUI)

	// wire up handlers
	usersHandler := handlers.NewUsersHandler(deps.Accounts)
	authHandler := handlers.NewAuthHandler(deps.Accounts)

	r.POST("/users", usersHandler.CreateUser)
	r.GET("/users", usersHandler.ListUsers)
	r.GET("/users/role/:role", usersHandler.ListByRole)
	r.GET("/users/:email", usersHandler.GetUser)
	r.DELETE("/users/:email", usersHandler.DeleteUser)

	login := []gin.HandlerFunc{}
	if deps.LoginLimiter != nil {
		login = append(login, middlewares.RateLimit(deps.LoginLimiter, middlewares.KeyByIP))
	}
	login = append(login, authHandler.Login)
	r.POST("/login", login...)

	return r
}
