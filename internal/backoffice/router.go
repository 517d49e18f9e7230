package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/surebet/internal/api/middleware"
	"github.com/evetabi/surebet/internal/backoffice/handler"
	"github.com/evetabi/surebet/internal/config"
	"github.com/evetabi/surebet/internal/service"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc       *service.AuthService
	LedgerSvc     *service.LedgerService
	CorrectionSvc *service.CorrectionService
	ProvenanceSvc *service.ProvenanceService
	MatchSvc      *service.MatchService
	Cfg           *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ledgerH := handler.NewLedgerAdminHandler(deps.LedgerSvc, deps.CorrectionSvc)
	opsH := handler.NewOpsHandler(deps.MatchSvc, deps.ProvenanceSvc, deps.Cfg.Scheduler.MatchSweepSize)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.AuthSvc), middleware.AdminMiddleware())
	{
		admin.POST("/corrections", ledgerH.Correction)
		admin.POST("/funding", ledgerH.Funding)

		l := admin.Group("/ledger")
		{
			l.GET("", ledgerH.Ledger)
			l.PUT("/:id", ledgerH.RejectMutation)
			l.DELETE("/:id", ledgerH.RejectMutation)
		}

		p := admin.Group("/provenance/backfill")
		{
			p.POST("", opsH.BackfillAll)
			p.POST("/:associate_id", opsH.Backfill)
		}

		admin.POST("/bets/sweep", opsH.Sweep)
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			allowed[ip] = true
		}
	}
	if len(allowed) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}
