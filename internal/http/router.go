package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/research-agent-backend/internal/http/handlers"
	httpMW "github.com/yungbote/research-agent-backend/internal/http/middleware"
	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	ChatHandler     *httpH.ChatHandler
	MessageHandler  *httpH.MessageHandler
	AgentHandler    *httpH.AgentHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachRequestData())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	api := r.Group("/api")
	{
		// Chats
		if cfg.ChatHandler != nil {
			api.POST("/chats", cfg.ChatHandler.CreateChat)
			api.GET("/chats/:id", cfg.ChatHandler.GetChat)
			api.PATCH("/chats/:id", cfg.ChatHandler.RenameChat)
			api.GET("/chats/:id/history", cfg.ChatHandler.History)
			api.GET("/chats/:id/messages", cfg.ChatHandler.ListPage)
			api.POST("/chats/:id/send", cfg.ChatHandler.Send)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/chats/:id/events", cfg.RealtimeHandler.ChatEvents)
		}

		// Messages
		if cfg.MessageHandler != nil {
			api.POST("/messages", cfg.MessageHandler.Append)
			api.GET("/messages/:id", cfg.MessageHandler.Get)
			api.PUT("/messages/:id", cfg.MessageHandler.ReplaceFragments)
			api.DELETE("/messages/:id", cfg.MessageHandler.Delete)
		}

		// Agent runs
		if cfg.AgentHandler != nil {
			api.POST("/agent", cfg.AgentHandler.Run)
			api.GET("/runs/:id", cfg.AgentHandler.GetRun)
			api.GET("/runs/:id/events", cfg.AgentHandler.Events)
			api.POST("/runs/:id/cancel", cfg.AgentHandler.Cancel)
		}
	}

	return r
}
