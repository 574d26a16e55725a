package model

import (
	"time"
)

// OrderSide 订单方向
type OrderSide string

const (
	Buy  OrderSide = "buy"  // 买入/做多
	Sell OrderSide = "sell" // 卖出/做空
)

// Opposite 返回平仓方向对应的开仓方向
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PosSide 持仓方向 long/short
type PosSide string

const (
	PosLong  PosSide = "long"
	PosShort PosSide = "short"
)

// PosSideOf 开仓方向对应的持仓方向
func PosSideOf(side OrderSide) PosSide {
	if side == Buy {
		return PosLong
	}
	return PosShort
}

// SignalKind 信号类型
type SignalKind string

const (
	KindMarket SignalKind = "market" // 市价单
	KindLimit  SignalKind = "limit"  // 限价单
	// KindTakeProfit 独立止盈信号，symbol可能为空，需要结合上下文推断
	KindTakeProfit SignalKind = "take_profit"
)

/*
来源于Telegram群组的喊单消息，例如：

	#TREE 市價空
	第一止盈: 0.367
	止损: 0.398
*/
type TradingSignal struct {
	Symbol           string     `json:"symbol"` // 规范化交易对，如 TREEUSDT
	Side             OrderSide  `json:"side"`
	Kind             SignalKind `json:"kind"`
	Amount           float64    `json:"amount"`   // 保证金金额（USDT），0表示未指定
	Price            float64    `json:"price"`    // 限价单价格
	StopLoss         float64    `json:"stop_loss"`
	TakeProfit       float64    `json:"take_profit"`        // 主要止盈（第一级）
	TakeProfitLevels []float64  `json:"take_profit_levels"` // 多级止盈，按级别排序
	Leverage         int        `json:"leverage"`
	Confidence       float64    `json:"confidence"` // 置信度 0~1，仅用于观测
	PatternName      string     `json:"pattern_name"`
	SourceGroup      string     `json:"source_group"` // 来源群组
	RawMessage       string     `json:"raw_message"`
	ParsedAt         time.Time  `json:"parsed_at"`
}

// IsComplete 是否一条可直接下单的完整信号
func (s *TradingSignal) IsComplete() bool {
	return s.Symbol != "" && s.Kind != KindTakeProfit
}

// MessageEvent 聊天平台推送过来的一条消息
type MessageEvent struct {
	Text        string    `json:"text" binding:"required"`
	SenderName  string    `json:"sender_name"`
	SourceGroup string    `json:"source_group"`
	Timestamp   time.Time `json:"timestamp"`
}
