package model

import "time"

// Position 本地持仓账本里的一条仓位，跟随价格更新浮动盈亏
type Position struct {
	Symbol       string
	Side         OrderSide
	Size         float64 // 合约张数
	EntryPrice   float64
	CurrentPrice float64
	Pnl          float64 // 浮动盈亏（USDT）
	PnlPercent   float64
	StopLoss     float64
	TakeProfit   float64
	CreatedAt    time.Time
}

// TradeRecord 平仓后归档的一笔交易
type TradeRecord struct {
	Symbol      string
	Side        OrderSide
	Size        float64
	EntryPrice  float64
	ClosePrice  float64
	Pnl         float64
	PnlPercent  float64
	HoldTime    time.Duration
	CloseReason string
	ClosedAt    time.Time
}

// TakeProfitTarget 价格监控目标，同一symbol最多一个未执行目标
type TakeProfitTarget struct {
	Symbol       string
	Price        float64
	Side         PosSide
	RegisteredAt time.Time
	Executed     bool
}

// SignalContext 最近信号上下文里的一条记录，用于给无币种的止盈消息找归属
type SignalContext struct {
	Symbol      string
	Side        OrderSide
	SourceGroup string
	Timestamp   time.Time
}
