package router

import (
	"signalflow/conf"
	"signalflow/internal/handler/message"
	"signalflow/internal/middleware"

	"github.com/gin-gonic/gin"
)

type ApiRouter struct {
	messageHandler *message.Handler
	webhook        conf.WebhookConfig
}

func NewApiRouter(mh *message.Handler, webhook conf.WebhookConfig) *ApiRouter {
	return &ApiRouter{messageHandler: mh, webhook: webhook}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	base := g.Group("/api/v1")

	// 消息入口，带webhook签名校验
	w := base.Group("/webhook", middleware.WebhookAuth(api.webhook.Secret))
	{
		w.POST("/message", api.messageHandler.HandleMessage())
	}

	admin := base.Group("/admin")
	{
		admin.GET("/status", api.messageHandler.GetStatus())
		admin.POST("/trading", api.messageHandler.SetTrading())
		admin.GET("/positions", api.messageHandler.GetPositions())
		admin.POST("/positions/close", api.messageHandler.ClosePosition())
		admin.GET("/risk", api.messageHandler.GetRiskReport())
		admin.GET("/history", api.messageHandler.GetHistory())
		admin.GET("/signals", api.messageHandler.GetSignals())
	}
}
