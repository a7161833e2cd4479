package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/reqshield/reqshield/pkg/cache"
	"github.com/reqshield/reqshield/pkg/checks"
	"github.com/reqshield/reqshield/pkg/config"
	"github.com/reqshield/reqshield/pkg/engine"
	"github.com/reqshield/reqshield/pkg/geoip"
	"github.com/reqshield/reqshield/pkg/models"
	"github.com/reqshield/reqshield/pkg/stats"
	"github.com/reqshield/reqshield/pkg/threatlist"
)

type analyzeRequest struct {
	IP        string `json:"ip" binding:"required,ip"`
	UserAgent string `json:"userAgent"`
}

// Bulk analysis accepts at most 100 addresses per call.
type bulkAnalyzeRequest struct {
	IPs []string `json:"ips" binding:"required,min=1,max=100,dive,ip"`
}

var (
	riskEngine *engine.Engine
	lists      *threatlist.Store
	aggregator *stats.Aggregator
)

func main() {
	cfg := config.LoadFromDotEnv()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	geoService, err := geoip.NewService(cfg.CityDBPath, cfg.ASNDBPath)
	if err != nil {
		logger.Fatal("geoip databases unavailable", zap.Error(err))
	}
	defer geoService.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lists = threatlist.NewStore(threatlist.Config{}, logger)
	lists.Load(ctx)
	go lists.Run(ctx)

	cacheStore := newCacheStore(cfg, logger)
	if redisStore, ok := cacheStore.(*cache.RedisStore); ok {
		defer redisStore.Close()
	}

	aggregator, err = stats.New(cfg.LogDir, cfg.FlushInterval, logger)
	if err != nil {
		logger.Fatal("evaluation log unavailable", zap.Error(err))
	}
	go aggregator.Run(ctx)

	riskEngine = engine.New(cacheStore, aggregator, cfg.StrictMode, logger)
	configureChecks(riskEngine, geoService, lists, cfg)

	router := gin.Default()
	api := router.Group("/api/v1")
	api.POST("/analyze", handleAnalyze)
	api.POST("/analyze/bulk", handleBulkAnalyze)
	api.GET("/stats", handleStats)
	api.GET("/logs", handleLogs)
	api.POST("/threatlists/refresh", handleRefresh)
	router.GET("/health", handleHealth)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Bool("strictMode", cfg.StrictMode),
			zap.Bool("blockVpnTor", cfg.BlockVPNTor))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	aggregator.Close()
	logger.Info("server stopped")
}

// configureChecks wires the signal collectors in evaluation order.
func configureChecks(eng *engine.Engine, geo *geoip.Service, lists *threatlist.Store, cfg config.Config) {
	eng.AddCheck(checks.NewGeoIPCheck(geo))
	eng.AddCheck(checks.NewTorCheck(lists, cfg.BlockVPNTor))
	eng.AddCheck(checks.NewVPNCheck(lists, cfg.VPNAPIKey, cfg.BlockVPNTor))
	eng.AddCheck(checks.NewUserAgentCheck())
	eng.AddCheck(checks.NewReputationCheck(cfg.AbuseIPDBKey))
}

// newCacheStore picks Redis when configured and reachable, otherwise the
// in-memory store.
func newCacheStore(cfg config.Config, logger *zap.Logger) cache.Store {
	if cfg.RedisURL == "" {
		return cache.NewMemoryStore(cfg.CacheTTL)
	}
	store, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheTTL, logger)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-memory cache", zap.Error(err))
		return cache.NewMemoryStore(cfg.CacheTTL)
	}
	return store
}

func handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	analysis := riskEngine.Analyze(c.Request.Context(), req.IP, req.UserAgent)
	c.JSON(http.StatusOK, analysis)
}

func handleBulkAnalyze(c *gin.Context) {
	var req bulkAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := make([]*models.RiskAnalysis, 0, len(req.IPs))
	for _, ip := range req.IPs {
		results = append(results, riskEngine.Analyze(c.Request.Context(), ip, ""))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

func handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, aggregator.Stats())
}

func handleLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	logs := aggregator.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"count": len(logs), "logs": logs})
}

func handleRefresh(c *gin.Context) {
	tor, vpn := lists.ForceRefresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"torExitNodes": tor,
		"vpnRanges":    vpn,
		"lists":        lists.Status(),
	})
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
