package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/whisprlabs/whispr/server/api/rest"
	"github.com/whisprlabs/whispr/server/api/sse"
	apows "github.com/whisprlabs/whispr/server/api/ws"
	"github.com/whisprlabs/whispr/server/audit"
	"github.com/whisprlabs/whispr/server/cache"
	"github.com/whisprlabs/whispr/server/chat"
	"github.com/whisprlabs/whispr/server/config"
	dbadapter "github.com/whisprlabs/whispr/server/db"
	"github.com/whisprlabs/whispr/server/feed"
	"github.com/whisprlabs/whispr/server/mailer"
	mw "github.com/whisprlabs/whispr/server/middleware"
	"github.com/whisprlabs/whispr/server/model"
	"github.com/whisprlabs/whispr/server/presence"
	"github.com/whisprlabs/whispr/server/scheduler"
	"github.com/whisprlabs/whispr/server/storage"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		log.Fatal("security.jwt_secret must be set")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(nil)

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Live Feed / Presence ----
	pub := feed.NewPublisher(pubsub, logger)
	pm := presence.NewManager(c, logger)
	defer pm.CloseAll()

	// ---- Object Storage ----
	var store storage.Store
	if cfg.Storage.Endpoint != "" {
		store, err = storage.NewMinioStore(cfg.Storage, logger,
			cfg.Storage.AvatarBucket, cfg.Storage.NodeIconBucket)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		logger.Info("Object storage initialized", zap.String("endpoint", cfg.Storage.Endpoint))
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("storage.endpoint is not set; uploads are kept in memory and lost on restart")
	}

	// ---- Mailer ----
	mail := mailer.New(cfg.Mail, logger)

	// ---- Chat Service ----
	chatSvc := chat.NewService(db, c, pub, cfg.Chat)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	sched.AddTicker("password_reset_prune", 10*time.Minute, func() {
		res := db.Where("expires_at < ?", time.Now()).Delete(&model.PasswordReset{})
		if res.Error != nil {
			logger.Warn("password reset prune failed", zap.Error(res.Error))
		} else if res.RowsAffected > 0 {
			logger.Info("pruned expired password resets", zap.Int64("rows", res.RowsAffected))
		}
	})
	sched.AddTicker("presence_report", 5*time.Minute, func() {
		logger.Debug("connected realtime clients", zap.Int("count", pm.Count()))
	})

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	chatWS := apows.NewChatHandlers(db, chatSvc, pubsub, pm, logger)
	chatWS.Register(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security, cfg.Mail, mail, auditSvc)
	profileH := apirest.NewProfileHandler(db, pm, store, cfg.Storage, pub)
	socialH := apirest.NewSocialHandler(db, pm, pub)
	notifH := apirest.NewNotificationHandler(db, pub)
	msgH := apirest.NewMessageHandler(chatSvc)
	nodeH := apirest.NewNodeHandler(db, store, cfg.Storage)

	api := r.Group("/api")
	{
		api.POST("/auth/signup", authH.Signup)
		api.POST("/auth/login", authH.Login)
		api.POST("/auth/password-reset", authH.RequestPasswordReset)
		api.POST("/auth/password-reset/confirm", authH.ConfirmPasswordReset)

		authed := api.Group("", mw.Auth(cfg.Security, c))
		authed.POST("/auth/logout", authH.Logout)
		authed.POST("/auth/refresh", authH.Refresh)

		authed.GET("/profiles/me", profileH.Me)
		authed.PUT("/profiles/me", profileH.Update)
		authed.POST("/profiles/me/avatar", profileH.UploadAvatar)
		authed.PUT("/profiles/me/status", profileH.SetStatus)
		authed.GET("/profiles/:id", profileH.Get)

		authed.GET("/social/search", socialH.Search)
		authed.GET("/social/friends", socialH.ListFriends)
		authed.POST("/social/friends/request", socialH.SendFriendRequest)
		authed.POST("/social/friends/accept/:id", socialH.AcceptFriendRequest)
		authed.POST("/social/friends/deny/:id", socialH.DenyFriendRequest)
		authed.DELETE("/social/friends/:id", socialH.Unfriend)

		authed.GET("/notifications", notifH.List)
		authed.GET("/notifications/unread-count", notifH.UnreadCount)
		authed.PUT("/notifications/read-all", notifH.MarkAllRead)
		authed.PUT("/notifications/:id/read", notifH.MarkRead)
		authed.DELETE("/notifications/:id", notifH.Delete)

		authed.GET("/chats/:user_id/messages", msgH.History)
		authed.POST("/chats/:user_id/messages", msgH.Send)

		authed.GET("/nodes", nodeH.List)
		authed.POST("/nodes", nodeH.Create)
		authed.GET("/nodes/:id", nodeH.Get)
		authed.PUT("/nodes/:id", nodeH.Update)
		authed.DELETE("/nodes/:id", nodeH.Delete)
		authed.POST("/nodes/:id/join", nodeH.Join)
		authed.POST("/nodes/:id/leave", nodeH.Leave)
		authed.DELETE("/nodes/:id/members/:user_id", nodeH.Kick)
		authed.POST("/nodes/:id/icon", nodeH.UploadIcon)
		authed.POST("/nodes/:id/channels", nodeH.CreateChannel)
		authed.DELETE("/nodes/:id/channels/:channel_id", nodeH.DeleteChannel)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(c, cfg.Security, pm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Ops endpoints ----
	internal := r.Group("/internal", mw.IPWhitelist(cfg.Security.OpsAllowedIPs))
	internal.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{
			"realtime_clients": pm.Count(),
			"scheduler_tasks":  sched.ListTickers(),
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
