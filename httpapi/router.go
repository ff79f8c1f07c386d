// Package httpapi exposes the engine as a JSON API on gin.
//
// Handlers translate engine sentinels into status codes and short generic
// messages. An unknown email and a wrong password get the same answer.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/agencyauth"
	"github.com/MrEthical07/agencyauth/middleware"
)

// Options configures the router.
type Options struct {
	CookieName string
	// SecureCookies should be false only for plain-HTTP local development.
	SecureCookies bool
	LoginPath     string
	Logger        *zap.Logger
	// RateLimitRPS and RateLimitBurst bound requests per client IP on the
	// unauthenticated endpoints. Zero disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int
	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler
}

// Server holds the handlers.
type Server struct {
	engine *agencyauth.Engine
	opts   Options
	guard  middleware.GuardOptions
	now    func() time.Time
}

// NewRouter wires every endpoint onto a fresh gin engine.
func NewRouter(engine *agencyauth.Engine, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CookieName == "" {
		opts.CookieName = middleware.DefaultCookieName
	}

	s := &Server{
		engine: engine,
		opts:   opts,
		guard: middleware.GuardOptions{
			CookieName: opts.CookieName,
			LoginPath:  opts.LoginPath,
			Secure:     opts.SecureCookies,
			Logger:     opts.Logger,
		},
		now: time.Now,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(opts.Logger), requestContext())

	r.GET("/healthz", s.health)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := r.Group("/api")

	public := api.Group("")
	if opts.RateLimitRPS > 0 {
		public.Use(NewIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst).Middleware())
	}
	public.POST("/register", s.register)
	public.POST("/login", s.login)
	public.POST("/verify-code", s.verifyCode)
	public.POST("/resend-code", s.resendCode)
	public.POST("/forgot-password", s.forgotPassword)
	public.POST("/reset-password", s.resetPassword)

	api.GET("/checksession", gin.WrapH(middleware.CheckSessionHandler(engine, s.guard)))

	private := api.Group("")
	private.Use(
		fromHTTP(middleware.SessionGuard(engine, s.guard)),
		fromHTTP(middleware.RequireSession(s.guard)),
	)
	private.POST("/keepalive", gin.WrapH(middleware.KeepAliveHandler(engine, opts.Logger)))
	private.POST("/change-password", s.changePassword)
	private.POST("/logout", s.logout)
	private.GET("/me", s.me)

	return r
}

// fromHTTP runs a net/http middleware inside gin. The chain continues only if
// the middleware called next.
func fromHTTP(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
		}))
		h.ServeHTTP(c.Writer, c.Request)
		if !called {
			c.Abort()
		}
	}
}

// requestContext records the caller address and agent for audit entries.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := agencyauth.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = agencyauth.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
