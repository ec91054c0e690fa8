package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoattend/internal/agent"
	"geoattend/internal/auth"
	"geoattend/internal/checker"
	"geoattend/internal/config"
	"geoattend/internal/geo"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/localstate"
	"geoattend/internal/location"
	"geoattend/internal/monitor"
	"geoattend/internal/notify"
	"geoattend/internal/queue"
	"geoattend/internal/reconcile"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("agent failed: %v", err)
	}
}

func run(cfg config.App) error {
	var st store.Store
	var redisClient *store.Redis
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		redisClient = store.NewRedis(cfg.RedisAddr)
		st = store.NewPostgres(db.Client, redisClient.Client)
	default:
		st = store.NewMemory()
		log.Println("using in-memory store (STORE_BACKEND=memory)")
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		if redisClient == nil {
			redisClient = store.NewRedis(cfg.RedisAddr)
		}
		q = queue.NewRedisQueue(redisClient.Client, "geoattend:checkins")
	} else {
		q = queue.NewInMemory(64)
	}

	local, err := localstate.OpenSQLite(cfg.LocalStatePath)
	if err != nil {
		return err
	}
	defer local.Close()

	// The dev agent simulates the device at a fixed start position; a real
	// build swaps in the platform provider.
	provider := location.NewStaticProvider(geo.Coordinate{Latitude: cfg.AgentLat, Longitude: cfg.AgentLng})
	locations := location.NewManager(provider, location.WatchOptions{Interval: cfg.LocationInterval}, cfg.Env == "dev")

	notifier := newNotifier(cfg)

	a := &agent.Agent{
		StudentID:  os.Getenv("STUDENT_ID"),
		Store:      st,
		Locations:  locations,
		Checker:    checker.New(st, locations, local, q, cfg.DevCheckDelay),
		Watcher:    monitor.New(st, locations, notifier, local, monitor.Config{SampleInterval: cfg.SampleInterval, Grace: cfg.AutoCheckoutGrace}),
		Reconciler: reconcile.New(st, local),
		Local:      local,
	}
	if a.StudentID == "" {
		a.StudentID = "student-dev"
	}
	defer a.Shutdown()

	ctx := context.Background()
	if err := a.Startup(ctx); err != nil {
		log.Printf("warning: startup reconciliation failed: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		redisHealthy := true
		if redisClient != nil {
			redisHealthy = redisClient.Healthy(c.Request.Context())
		}
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy})
	})

	// Dev token issue for the device UI.
	r.POST("/v1/token", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.StudentID, "student", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.StudentAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/checkin", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		if claims.StudentID != a.StudentID {
			c.JSON(http.StatusForbidden, gin.H{"error": "student mismatch"})
			return
		}
		res := a.RunCheck(c.Request.Context())
		status := http.StatusOK
		if !res.Success && !res.Cancelled {
			status = http.StatusBadGateway
		}
		c.JSON(status, res)
	})

	authGroup.POST("/checkin/cancel", func(c *gin.Context) {
		a.CancelCheck()
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	})

	authGroup.POST("/checkout", func(c *gin.Context) {
		if err := a.LeaveEarly(c.Request.Context()); err != nil {
			if err == agent.ErrNotAttending {
				c.JSON(http.StatusConflict, gin.H{"error": "not attending any session"})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checked_out": true})
	})

	authGroup.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Snapshot())
	})

	authGroup.POST("/location/permission", func(c *gin.Context) {
		if err := locations.RequestPermission(c.Request.Context()); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"granted": true})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("agent listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}
	log.Println("agent exited")
	return nil
}

func newNotifier(cfg config.App) notify.Scheduler {
	var sink notify.Sink = notify.ConsoleSink{}
	if !cfg.NotifySkip {
		sink = notify.NewPushSink(cfg.NotifyServiceURL, false)
	}
	return notify.NewLocalScheduler(sink)
}

// CORS middleware for the device UI during development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
