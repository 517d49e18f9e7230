package api

import (
	"net/http"

	"github.com/evetabi/surebet/internal/api/handler"
	"github.com/evetabi/surebet/internal/api/middleware"
	"github.com/evetabi/surebet/internal/config"
	"github.com/evetabi/surebet/internal/service"
	"github.com/evetabi/surebet/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc       *service.AuthService
	MatchSvc      *service.MatchService
	SettlementSvc *service.SettlementService
	ProvenanceSvc *service.ProvenanceService
	LedgerSvc     *service.LedgerService
	Hub           *ws.Hub
	Registry      *prometheus.Registry
	Cfg           *config.Config
}

// SetupRouter creates the collaborator API engine with all routes,
// middleware, CORS and rate limiting.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health and metrics ───────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	betH := handler.NewBetHandler(deps.MatchSvc)
	surebetH := handler.NewSurebetHandler(deps.MatchSvc, deps.SettlementSvc, deps.ProvenanceSvc)
	associateH := handler.NewAssociateHandler(deps.LedgerSvc, deps.ProvenanceSvc)

	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)
	rl := middleware.RateLimitMiddleware(deps.Cfg.Server.RateLimitRPS, deps.Cfg.Server.RateLimitBurst)
	settlers := middleware.RoleMiddleware(service.RoleOperator, service.RoleAdmin)
	matchers := middleware.RoleMiddleware(service.RoleService, service.RoleOperator, service.RoleAdmin)

	api := r.Group("/api")
	api.Use(jwtMW, rl)
	{
		api.POST("/bets/:id/match", matchers, betH.Match)

		surebets := api.Group("/surebets/:id")
		{
			surebets.GET("", surebetH.Get)
			surebets.GET("/provenance", surebetH.Provenance)
			surebets.POST("/settlement/preview", settlers, surebetH.Preview)
			surebets.POST("/settlement/commit", settlers, surebetH.Commit)
		}

		associates := api.Group("/associates/:id")
		{
			associates.GET("/provenance", associateH.Provenance)
			associates.GET("/balance", associateH.Balance)
			associates.GET("/ledger", associateH.Ledger)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware sets CORS headers. Outside production every origin is
// allowed; in production only Server.AllowedOrigins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
