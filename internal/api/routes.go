package api

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/storymint/verification-engine/internal/db"
	"github.com/storymint/verification-engine/internal/license"
	"github.com/storymint/verification-engine/internal/minttoken"
	"github.com/storymint/verification-engine/internal/similarity"
	"github.com/storymint/verification-engine/internal/worker"
)

type APIHandler struct {
	tokens   *minttoken.Service
	engine   *similarity.Engine
	licenses *license.Cache
	dbStore  *db.PostgresStore
	wsHub    *Hub
	sweeper  *worker.ExpiryWorker
}

func SetupRouter(tokens *minttoken.Service, engine *similarity.Engine, licenses *license.Cache,
	dbStore *db.PostgresStore, wsHub *Hub, sweeper *worker.ExpiryWorker) *gin.Engine {

	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://app.storymint.io
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		tokens:   tokens,
		engine:   engine,
		licenses: licenses,
		dbStore:  dbStore,
		wsHub:    wsHub,
		sweeper:  sweeper,
	}

	// Mutating verification routes are both authenticated and rate limited;
	// status, stats and the stream stay public for dashboards.
	limiter := NewRateLimiter(30, 10)
	auth := AuthMiddleware()

	verification := r.Group("/api/verification")
	{
		verification.POST("/generate-mint-token", auth, limiter.Middleware(), handler.handleGenerateMintToken)
		verification.GET("/token/:nonce/status", handler.handleTokenStatus)
		verification.PATCH("/token/:nonce/update", auth, limiter.Middleware(), handler.handleTokenUpdate)
		verification.PATCH("/token/:nonce/finalize", auth, limiter.Middleware(), handler.handleTokenFinalize)
		verification.POST("/revoke-token", auth, limiter.Middleware(), handler.handleRevokeToken)
		verification.GET("/stats", handler.handleStats)
		verification.GET("/stream", wsHub.Subscribe)
	}

	licenseTerms := r.Group("/api/license-terms")
	{
		licenseTerms.GET("/find", handler.handleLicenseFind)
		licenseTerms.POST("/cache", auth, handler.handleLicenseCache)
	}

	r.GET("/api/v1/health", handler.handleHealth)

	return r
}
