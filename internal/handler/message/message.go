package message

import (
	"fmt"
	"time"

	"signalflow/internal/dao"
	"signalflow/internal/engine"
	"signalflow/internal/exchange"
	"signalflow/internal/model"
	"signalflow/internal/monitor"
	"signalflow/internal/risk"
	"signalflow/pkg/logger"
	"signalflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

// Handler 接收聊天平台推送的消息并交给执行管道
type Handler struct {
	engine  *engine.Engine
	riskMgr *risk.Manager
	monitor *monitor.Monitor
	client  exchange.ExecutionClient

	signalDao dao.SignalDao
	tradeDao  dao.TradeDao
}

type Option func(*Handler)

// WithDao 配置了数据库时启用落库查询
func WithDao(signalDao dao.SignalDao, tradeDao dao.TradeDao) Option {
	return func(h *Handler) {
		h.signalDao = signalDao
		h.tradeDao = tradeDao
	}
}

func NewHandler(e *engine.Engine, riskMgr *risk.Manager, mon *monitor.Monitor, client exchange.ExecutionClient, opts ...Option) *Handler {
	h := &Handler{engine: e, riskMgr: riskMgr, monitor: mon, client: client}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMessage 消息入口。解析失败不是错误，一律返回ok
func (h *Handler) HandleMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var event model.MessageEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			response.JSON(c, fmt.Errorf("消息格式不正确: %w", err), nil)
			return
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}
		if err := h.engine.OnMessage(c.Request.Context(), event); err != nil {
			response.JSON(c, err, nil)
			return
		}
		response.JSON(c, nil, nil)
	}
}

// GetStatus 运行状态：交易开关、监控状态与活跃目标数
func (h *Handler) GetStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{
			"trading_enabled": h.engine.Enabled(),
			"monitor_state":   h.monitor.State(),
			"active_targets":  h.monitor.TargetCount(),
		}
		if h.signalDao != nil {
			midnight := time.Now().UTC().Truncate(24 * time.Hour)
			if n, err := h.signalDao.CountSince(c.Request.Context(), midnight); err == nil {
				status["signals_today"] = n
			}
		}
		response.JSON(c, nil, status)
	}
}

// SetTrading 交易总开关
func (h *Handler) SetTrading() gin.HandlerFunc {
	type req struct {
		Enabled bool `json:"enabled"`
	}
	return func(c *gin.Context) {
		var body req
		if err := c.ShouldBindJSON(&body); err != nil {
			response.JSON(c, err, nil)
			return
		}
		h.engine.SetEnabled(body.Enabled)
		response.JSON(c, nil, gin.H{"enabled": body.Enabled})
	}
}

// GetPositions 本地账本里的持仓
func (h *Handler) GetPositions() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, h.riskMgr.GetPositions())
	}
}

// ClosePosition 手动市价全平并结算本地账本，配置了数据库时回填成交记录
func (h *Handler) ClosePosition() gin.HandlerFunc {
	type req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	return func(c *gin.Context) {
		var body req
		if err := c.ShouldBindJSON(&body); err != nil {
			response.JSON(c, err, nil)
			return
		}
		ctx := c.Request.Context()

		price, err := h.client.GetCurrentPrice(ctx, body.Symbol)
		if err != nil {
			response.JSON(c, fmt.Errorf("获取当前价格失败: %w", err), nil)
			return
		}
		if _, err := h.client.ClosePartial(ctx, body.Symbol, 100); err != nil {
			response.JSON(c, fmt.Errorf("平仓失败: %w", err), nil)
			return
		}

		record := h.riskMgr.ClosePosition(body.Symbol, price, risk.ReasonManual)
		if record != nil && h.tradeDao != nil {
			// 最近一条该交易对的落库记录就是刚平掉的这笔
			recent, derr := h.tradeDao.GetRecentBySymbol(ctx, body.Symbol, 1)
			if derr == nil && len(recent) > 0 {
				derr = h.tradeDao.CloseTrade(ctx, recent[0].OrderId, price, record.Pnl, record.ClosedAt)
			}
			if derr != nil {
				logger.Warnf("回填成交记录失败: %v", derr)
			}
		}
		response.JSON(c, nil, record)
	}
}

// GetRiskReport 风控状态报告，配置了数据库时带上落库口径的当日盈亏
func (h *Handler) GetRiskReport() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := h.riskMgr.GetReport(0)
		if h.tradeDao == nil {
			response.JSON(c, nil, report)
			return
		}
		midnight := time.Now().UTC().Truncate(24 * time.Hour)
		pnl, err := h.tradeDao.SumPnlSince(c.Request.Context(), midnight)
		if err != nil {
			response.JSON(c, nil, report)
			return
		}
		response.JSON(c, nil, gin.H{"report": report, "persisted_daily_pnl": pnl})
	}
}

// GetHistory 已平仓的交易记录；带symbol参数且配置了数据库时查落库记录
func (h *Handler) GetHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Query("symbol")
		if symbol != "" && h.tradeDao != nil {
			limit := cast.ToInt(c.DefaultQuery("limit", "20"))
			records, err := h.tradeDao.GetRecentBySymbol(c.Request.Context(), symbol, limit)
			response.JSON(c, err, records)
			return
		}
		response.JSON(c, nil, h.riskMgr.History())
	}
}

// GetSignals 指定来源群组最近落库的信号
func (h *Handler) GetSignals() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.signalDao == nil {
			response.JSON(c, fmt.Errorf("未配置数据库"), nil)
			return
		}
		limit := cast.ToInt(c.DefaultQuery("limit", "20"))
		records, err := h.signalDao.GetRecentBySource(c.Request.Context(), c.Query("source"), limit)
		response.JSON(c, err, records)
	}
}
