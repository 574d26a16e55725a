package model

import "time"

// Bitget USDT永续（UMCBL）接口的请求与响应结构
// 所有数值字段按字符串十进制传输

type OrderType string

const (
	// 市价购买
	Market OrderType = "market"
	// 限价购买
	Limit OrderType = "limit"
)

// 合约下单方向
const (
	SideOpenLong   = "open_long"
	SideOpenShort  = "open_short"
	SideCloseLong  = "close_long"
	SideCloseShort = "close_short"
)

// OrderRequest 普通下单
type OrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	Size          string `json:"size"` // 合约张数
	Price         string `json:"price,omitempty"`
	ClientOrderID string `json:"clientOrderId"`
	ProductType   string `json:"productType"`
	MarginCoin    string `json:"marginCoin"`
	MarginMode    string `json:"marginMode"` // crossed 全仓
}

// PlanOrderRequest 计划委托（触发单），用于止损与保本止损
type PlanOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	Size          string `json:"size"`
	TriggerPrice  string `json:"triggerPrice"`
	TriggerType   string `json:"triggerType"` // fill_price 最新价触发
	ClientOrderID string `json:"clientOrderId"`
	ProductType   string `json:"productType"`
	PlanType      string `json:"planType"`
	MarginCoin    string `json:"marginCoin"`
	MarginMode    string `json:"marginMode"`
}

// OrderInfo 下单返回
type OrderInfo struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
}

// OrderStatus 订单状态查询返回
type OrderStatus struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"` // filled 已成交
	FillPrice string `json:"fillPrice"`
	FillSize  string `json:"fillSize"`
}

// AccountInfo 合约账户
type AccountInfo struct {
	MarginCoin string `json:"marginCoin"`
	Available  string `json:"available"`
}

// PositionInfo 交易所侧的持仓
// size 与 total 两个字段在不同接口下有一个可能为0，取数时必须都检查
type PositionInfo struct {
	Symbol           string `json:"symbol"`
	HoldSide         string `json:"holdSide"` // long / short
	Size             string `json:"size"`
	Total            string `json:"total"`
	Available        string `json:"available"`
	AverageOpenPrice string `json:"averageOpenPrice"`
	UnrealizedPL     string `json:"unrealizedPL"`
	Leverage         string `json:"leverage"`
	CTime            string `json:"cTime"` // 开仓时间戳（毫秒）
}

// TickerInfo 行情
type TickerInfo struct {
	Symbol string `json:"symbol"`
	Last   string `json:"last"`
	Close  string `json:"close"`
}

// ExecutionResult ExecuteSignal 的执行结果
// 市价单成交后挂保护止损失败不会回滚仓位，只以警告形式带出
type ExecutionResult struct {
	Signal       *TradingSignal
	Order        *OrderInfo
	StopOrder    *OrderInfo // 保护止损（固定亏损）
	TPOrder      *OrderInfo // 信号止盈挂单
	SLOrder      *OrderInfo // 信号止损挂单
	Symbol       string     // 合约格式的交易对
	EntryPrice   float64
	FilledSize   float64
	MarginAmount float64
	ContractSize float64
	Leverage     int
	ExecutedAt   time.Time
	StopWarning  error // 非nil表示保护止损最终没挂上
}
