package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"vendio/internal/infra/config"
	"vendio/internal/infra/obs"
)

// Handlers groups the HTTP surfaces the server exposes. Nil members are
// simply not routed.
type Handlers struct {
	Chat  ChatHTTP
	Admin AdminHTTP
	Live  LiveHTTP
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Name", "X-User-Roles"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	router.Use(IdentityMiddleware())

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.GET("/conversations", h.Chat.ListMyConversations)
		api.POST("/conversations", h.Chat.CreateListingConversation)
		api.GET("/conversations/:id/messages", h.Chat.ListMessages)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
		api.POST("/conversations/:id/voice", h.Chat.SendVoice)
		api.POST("/conversations/:id/read", h.Chat.MarkRead)
		api.POST("/conversations/:id/typing", h.Chat.Typing)
		api.POST("/conversations/:id/attachments", h.Chat.UploadAttachments)
		api.POST("/voice", h.Chat.UploadVoice)
	}
	if h.Live != nil {
		api.GET("/conversations/:id/live", h.Live.Attach)
	}
	if h.Admin != nil {
		adminGroup := api.Group("/admin")
		adminGroup.GET("/overview", h.Admin.Overview)
		adminGroup.GET("/conversations", h.Admin.ListConversations)
		adminGroup.POST("/conversations/:id/flag", h.Admin.Flag)
		adminGroup.POST("/conversations/:id/block", h.Admin.Block)
		adminGroup.GET("/conversations/:id/export", h.Admin.Export)
		adminGroup.GET("/conversations/:id/audit", h.Admin.AuditHistory)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
