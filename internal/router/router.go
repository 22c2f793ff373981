package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/doctor-branch-service/internal/middleware"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	"github.com/jwalitptl/doctor-branch-service/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type AdminHandler interface {
	RegisterAdminRoutes(*gin.RouterGroup)
}

type HealthHandler interface {
	RegisterRoutes(gin.IRouter)
}

type Router struct {
	engine  *gin.Engine
	auth    *middleware.AuthMiddleware
	limiter *middleware.RateLimiter
	health  HealthHandler
	api     []Handler
	admin   []AdminHandler
}

type RouterConfig struct {
	RateLimit   rate.Limit
	RateBurst   int
	CORSConfig  middleware.CORSConfig
	MaxBodySize int64
	Mode        string
}

type Handlers struct {
	Health HealthHandler
	API    []Handler
	Admin  []AdminHandler
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, log *logger.Logger, m *metrics.Metrics, config RouterConfig) *Router {
	mode := config.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	engine := gin.New()

	r := &Router{
		engine: engine,
		auth:   auth,
		health: handlers.Health,
		api:    handlers.API,
		admin:  handlers.Admin,
	}
	if config.RateLimit > 0 {
		r.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.Metrics(m),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(config.MaxBodySize),
		middleware.ErrorHandler(log),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	if r.health != nil {
		r.health.RegisterRoutes(api)
	}

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	if r.limiter != nil {
		protected.Use(r.limiter.RateLimit())
	}
	for _, h := range r.api {
		h.RegisterRoutes(protected)
	}

	admin := protected.Group("/admin")
	admin.Use(r.auth.RequireAdmin())
	for _, h := range r.admin {
		h.RegisterAdminRoutes(admin)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
