package exchange

import (
	"context"

	"signalflow/internal/model"
)

// ExecutionClient 交易所执行接口，目前由bitget实现
type ExecutionClient interface {
	// 获取可用余额（USDT）
	GetBalance(ctx context.Context, coin string) (float64, error)
	// 获取持仓列表，symbol为空时返回全部非零仓位
	GetPositions(ctx context.Context, symbol string) ([]model.PositionInfo, error)
	// 获取最新成交价
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	// 查询订单状态
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*model.OrderStatus, error)

	// ExecuteSignal 按信号开仓：计算合约张数、市价下单、挂保护止损
	ExecuteSignal(ctx context.Context, sig *model.TradingSignal) (*model.ExecutionResult, error)
	// ClosePartial 按比例市价平掉部分仓位
	ClosePartial(ctx context.Context, symbol string, percentage float64) (*model.OrderInfo, error)
	// SetFixedLossStop 在指定价位挂市价触发的止损计划委托
	SetFixedLossStop(ctx context.Context, symbol string, stopPrice, quantity float64, side model.OrderSide) (*model.OrderInfo, error)
	// SetBreakEvenStop 把止损挂到开仓价（保本止损）
	SetBreakEvenStop(ctx context.Context, symbol string, entryPrice float64) (*model.OrderInfo, error)
}
