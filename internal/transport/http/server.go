package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/config"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/core"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/execengine"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
)

// Deps carries the wired application components the HTTP layer serves.
type Deps struct {
	Hub      *core.Hub
	Router   *core.Router
	Registry *session.Registry
	Verifier *auth.Verifier
	Accounts *auth.Service
	Engine   execengine.Engine
	Limiter  *core.IPRateLimiter
}

// NewServer builds the combined REST + WebSocket server. The listen
// address is left to the caller, which probes ports itself.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler(deps.Registry))
	router.GET("/ws", gin.WrapH(NewWSHandler(deps, cfg, logger)))

	api := NewAPIHandlers(deps.Accounts, deps.Engine, logger)
	sessions := NewSessionHandlers(deps.Registry, deps.Router, logger)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/register", api.Register)
		apiGroup.POST("/login", api.Login)
		apiGroup.POST("/guest", api.GuestLogin)
		apiGroup.GET("/runtimes", api.Runtimes)

		protected := apiGroup.Group("")
		protected.Use(AuthMiddleware(deps.Verifier, logger))
		{
			protected.POST("/sessions/create", sessions.Create)
			protected.POST("/sessions/join", sessions.Join)
			protected.GET("/sessions", sessions.List)
			protected.GET("/sessions/:id", sessions.Get)
			protected.POST("/sessions/:id/regenerate-key", sessions.RegenerateKey)
			protected.DELETE("/sessions/:id", sessions.Delete)
		}
	}

	return &stdhttp.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{
			"status":         "ok",
			"activeSessions": registry.Count(),
			"activeUsers":    registry.TotalMembers(),
		})
	}
}
