package bitget

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"signalflow/internal/model"
	"signalflow/pkg/logger"

	"github.com/spf13/cast"
)

// 下单后等待成交再查状态
var fillWait = 2 * time.Second

// 保护止损挂单失败后的重试间隔
var stopRetryDelay = 2 * time.Second

const stopRetryCount = 3

// ExecuteSignal 执行交易信号：
// 合约张数 = 保证金 / (当前价格 / 杠杆)，
// 市价开仓后按配置挂固定亏损保护止损。
// 保护止损挂单失败不回滚仓位，通过 StopWarning 带出。
func (c *Client) ExecuteSignal(ctx context.Context, sig *model.TradingSignal) (*model.ExecutionResult, error) {
	logger.Info("执行交易信号",
		logger.Pair("symbol", sig.Symbol),
		logger.Pair("side", sig.Side),
		logger.Pair("leverage", sig.Leverage))

	balance, err := c.GetBalance(ctx, c.marginCoin)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	if balance <= 0 {
		return nil, fmt.Errorf("账户余额不足")
	}

	margin := sig.Amount
	if margin <= 0 {
		margin = c.trading.DefaultAmount
	}
	leverage := sig.Leverage
	if leverage <= 0 {
		leverage = c.trading.DefaultLeverage
	}
	if margin > balance {
		logger.Warnf("保证金(%vU)超过余额(%vU)，使用全部余额", margin, balance)
		margin = balance
	}

	symbol := c.contractSymbol(sig.Symbol)
	price, err := c.GetCurrentPrice(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("获取当前价格失败: %w", err)
	}

	// size参数是合约张数，不是USDT价值
	contractSize := margin / (price / float64(leverage))

	openSide := model.SideOpenLong
	if sig.Side == model.Sell {
		openSide = model.SideOpenShort
	}

	orderReq := &model.OrderRequest{
		Symbol:        symbol,
		Side:          openSide,
		OrderType:     string(model.Market),
		Size:          formatFloat(contractSize),
		ClientOrderID: c.newClientOrderID("sig"),
	}
	if sig.Kind == model.KindLimit && sig.Price > 0 {
		orderReq.OrderType = string(model.Limit)
		orderReq.Price = formatFloat(roundTo(sig.Price, 4))
	}

	order, err := c.placeOrder(ctx, orderReq)
	if err != nil {
		return nil, fmt.Errorf("下单失败: %w", err)
	}

	result := &model.ExecutionResult{
		Signal:       sig,
		Order:        order,
		Symbol:       symbol,
		EntryPrice:   price,
		FilledSize:   contractSize,
		MarginAmount: margin,
		ContractSize: contractSize,
		Leverage:     leverage,
		ExecutedAt:   time.Now().UTC(),
	}

	// 等待成交后用真实成交价/量取代估算值
	filledPrice, filledQty := c.waitFill(ctx, symbol, order.OrderID)
	if filledPrice > 0 {
		result.EntryPrice = filledPrice
	}
	if filledQty > 0 {
		result.FilledSize = filledQty
	}

	// 按信号里的止盈止损挂限价平仓单
	if c.trading.UseSignalStops && (sig.StopLoss > 0 || sig.TakeProfit > 0) {
		c.placeSignalStops(ctx, sig, result)
	}

	// 固定亏损保护止损
	if c.trading.AutoStopLossAmount > 0 {
		stopOrder, stopErr := c.setFixedLossStop(ctx, symbol, sig.Side, result.EntryPrice, result.FilledSize, leverage)
		if stopErr != nil {
			logger.Error("保护止损挂单失败，仓位保持开启",
				logger.Pair("symbol", symbol),
				logger.Pair("error", stopErr.Error()))
			result.StopWarning = stopErr
		} else {
			result.StopOrder = stopOrder
		}
	}

	logger.Info("信号执行成功",
		logger.Pair("orderId", order.OrderID),
		logger.Pair("contractSize", contractSize),
		logger.Pair("margin", margin))
	return result, nil
}

// waitFill 等待订单成交，返回成交价与成交量；失败时返回0交由调用方兜底
func (c *Client) waitFill(ctx context.Context, symbol, orderID string) (float64, float64) {
	select {
	case <-time.After(fillWait):
	case <-ctx.Done():
		return 0, 0
	}
	status, err := c.GetOrderStatus(ctx, symbol, orderID)
	if err != nil {
		logger.Warnf("查询订单状态失败: %v", err)
		return 0, 0
	}
	if status.Status != "filled" {
		logger.Warnf("订单 %s 未完全成交: %s", orderID, status.Status)
		return 0, 0
	}
	return cast.ToFloat64(status.FillPrice), cast.ToFloat64(status.FillSize)
}

// placeSignalStops 按喊单里的止盈止损价挂限价平仓单，失败只记日志
func (c *Client) placeSignalStops(ctx context.Context, sig *model.TradingSignal, result *model.ExecutionResult) {
	closeSide := model.SideCloseLong
	if sig.Side == model.Sell {
		closeSide = model.SideCloseShort
	}
	size := formatFloat(result.FilledSize)

	if sig.StopLoss > 0 {
		order, err := c.placeOrder(ctx, &model.OrderRequest{
			Symbol:        result.Symbol,
			Side:          closeSide,
			OrderType:     string(model.Limit),
			Size:          size,
			Price:         formatFloat(roundTo(sig.StopLoss, 4)),
			ClientOrderID: c.newClientOrderID("sl"),
		})
		if err != nil {
			logger.Errorf("止损单挂单失败: %v", err)
		} else {
			result.SLOrder = order
		}
	}
	if sig.TakeProfit > 0 {
		order, err := c.placeOrder(ctx, &model.OrderRequest{
			Symbol:        result.Symbol,
			Side:          closeSide,
			OrderType:     string(model.Limit),
			Size:          size,
			Price:         formatFloat(roundTo(sig.TakeProfit, 4)),
			ClientOrderID: c.newClientOrderID("tp"),
		})
		if err != nil {
			logger.Errorf("止盈单挂单失败: %v", err)
		} else {
			result.TPOrder = order
		}
	}
}

// setFixedLossStop 按固定亏损金额推导止损价再挂单：
// priceDelta = 亏损金额 / (成交量 / 杠杆)
// 多头止损价 = 开仓价 - priceDelta，空头 = 开仓价 + priceDelta
func (c *Client) setFixedLossStop(ctx context.Context, symbol string, side model.OrderSide, entryPrice, filledQty float64, leverage int) (*model.OrderInfo, error) {
	if entryPrice <= 0 || filledQty <= 0 {
		return nil, fmt.Errorf("成交数据无效: price=%v qty=%v", entryPrice, filledQty)
	}

	priceDelta := c.trading.AutoStopLossAmount / (filledQty / float64(leverage))
	stopPrice := entryPrice - priceDelta
	if side == model.Sell {
		stopPrice = entryPrice + priceDelta
	}

	logger.Info("挂固定亏损保护止损",
		logger.Pair("symbol", symbol),
		logger.Pair("entryPrice", entryPrice),
		logger.Pair("stopPrice", stopPrice),
		logger.Pair("lossAmount", c.trading.AutoStopLossAmount))

	return c.SetFixedLossStop(ctx, symbol, stopPrice, filledQty, side)
}

// SetFixedLossStop 在指定价位挂市价触发的止损计划委托，挂单失败会重试
func (c *Client) SetFixedLossStop(ctx context.Context, symbol string, stopPrice, quantity float64, side model.OrderSide) (*model.OrderInfo, error) {
	if stopPrice <= 0 || quantity <= 0 {
		return nil, fmt.Errorf("止损参数无效: price=%v qty=%v", stopPrice, quantity)
	}
	closeSide := model.SideCloseLong
	if side == model.Sell {
		closeSide = model.SideCloseShort
	}
	stopPrice = roundTo(stopPrice, 4)

	var lastErr error
	for attempt := 0; attempt < stopRetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(stopRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		order, err := c.placePlanOrder(ctx, &model.PlanOrderRequest{
			Symbol:        c.contractSymbol(symbol),
			Side:          closeSide,
			OrderType:     string(model.Market),
			Size:          formatFloat(quantity),
			TriggerPrice:  formatFloat(stopPrice),
			ClientOrderID: c.newClientOrderID("autosl"),
		})
		if err == nil {
			return order, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("保护止损%d次挂单均失败: %w", stopRetryCount, lastErr)
}

// ClosePartial 按比例市价平仓。
// size字段可能为0，真实持仓数量在total字段，取数时两个都检查。
func (c *Client) ClosePartial(ctx context.Context, symbol string, percentage float64) (*model.OrderInfo, error) {
	if percentage <= 0 || percentage > 100 {
		return nil, fmt.Errorf("非法的平仓比例: %v", percentage)
	}
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("未找到 %s 的持仓", symbol)
	}
	pos := positions[0]

	currentSize := cast.ToFloat64(pos.Total)
	if currentSize <= 0 {
		currentSize = cast.ToFloat64(pos.Size)
	}
	if currentSize <= 0 {
		return nil, fmt.Errorf("%s 当前持仓为空", symbol)
	}

	closeSide := model.SideCloseLong
	if pos.HoldSide == string(model.PosShort) {
		closeSide = model.SideCloseShort
	}
	closeSize := roundTo(currentSize*(percentage/100.0), 8)

	logger.Info("部分平仓",
		logger.Pair("symbol", symbol),
		logger.Pair("currentSize", currentSize),
		logger.Pair("percentage", percentage),
		logger.Pair("closeSize", closeSize))

	return c.placeOrder(ctx, &model.OrderRequest{
		Symbol:        c.contractSymbol(symbol),
		Side:          closeSide,
		OrderType:     string(model.Market),
		Size:          formatFloat(closeSize),
		ClientOrderID: c.newClientOrderID("close"),
	})
}

// SetBreakEvenStop 把剩余仓位的止损挂到开仓价
func (c *Client) SetBreakEvenStop(ctx context.Context, symbol string, entryPrice float64) (*model.OrderInfo, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("无效的开仓价: %v", entryPrice)
	}
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("未找到 %s 的持仓", symbol)
	}
	pos := positions[0]

	currentSize := cast.ToFloat64(pos.Total)
	if currentSize <= 0 {
		currentSize = cast.ToFloat64(pos.Size)
	}
	if currentSize <= 0 {
		return nil, fmt.Errorf("%s 当前持仓为空", symbol)
	}

	closeSide := model.SideCloseLong
	if pos.HoldSide == string(model.PosShort) {
		closeSide = model.SideCloseShort
	}
	triggerPrice := roundTo(entryPrice, 4)

	logger.Info("设置保本止损",
		logger.Pair("symbol", symbol),
		logger.Pair("size", currentSize),
		logger.Pair("triggerPrice", triggerPrice))

	return c.placePlanOrder(ctx, &model.PlanOrderRequest{
		Symbol:        c.contractSymbol(symbol),
		Side:          closeSide,
		OrderType:     string(model.Market),
		Size:          formatFloat(currentSize),
		TriggerPrice:  formatFloat(triggerPrice),
		ClientOrderID: c.newClientOrderID("besl"),
	})
}

func roundTo(v float64, places int) float64 {
	pow := math.Pow10(places)
	return math.Round(v*pow) / pow
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
