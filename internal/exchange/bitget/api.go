package bitget

import (
	"context"
	"fmt"
	"strings"

	"signalflow/internal/model"

	"github.com/spf13/cast"
)

// Bitget USDT永续接口封装

// ContractSymbol 把 TREEUSDT 转成合约交易对 TREEUSDT_UMCBL
func ContractSymbol(symbol string) string {
	if strings.HasSuffix(symbol, "_"+productType) {
		return symbol
	}
	return symbol + "_" + productType
}

// GetBalance 返回指定币种的可用余额
func (c *Client) GetBalance(ctx context.Context, coin string) (float64, error) {
	if coin == "" {
		coin = c.marginCoin
	}
	var accounts []model.AccountInfo
	err := c.get(ctx, "/api/mix/v1/account/accounts", map[string]string{"productType": c.productType}, &accounts)
	if err != nil {
		return 0, err
	}
	for _, acc := range accounts {
		if acc.MarginCoin == coin {
			return cast.ToFloat64(acc.Available), nil
		}
	}
	return 0, nil
}

// GetPositions 返回非零持仓，symbol为空时返回全部
// size 与 total 任一大于0即视为有仓位
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]model.PositionInfo, error) {
	params := map[string]string{"productType": c.productType}
	if symbol != "" {
		params["symbol"] = c.contractSymbol(symbol)
	}
	var all []model.PositionInfo
	if err := c.get(ctx, "/api/mix/v1/position/allPosition", params, &all); err != nil {
		return nil, err
	}
	positions := make([]model.PositionInfo, 0, len(all))
	for _, pos := range all {
		if cast.ToFloat64(pos.Size) > 0 || cast.ToFloat64(pos.Total) > 0 {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

// GetCurrentPrice 返回最新成交价，last为空时退回close
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker model.TickerInfo
	err := c.get(ctx, "/api/mix/v1/market/ticker", map[string]string{"symbol": c.contractSymbol(symbol)}, &ticker)
	if err != nil {
		return 0, err
	}
	price := cast.ToFloat64(ticker.Last)
	if price <= 0 {
		price = cast.ToFloat64(ticker.Close)
	}
	if price <= 0 {
		return 0, fmt.Errorf("无法获取 %s 的有效价格", symbol)
	}
	return price, nil
}

// GetOrderStatus 查询订单成交状态
func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (*model.OrderStatus, error) {
	var status model.OrderStatus
	err := c.get(ctx, "/api/mix/v1/order/detail", map[string]string{
		"symbol":  c.contractSymbol(symbol),
		"orderId": orderID,
	}, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// placeOrder 普通下单（市价/限价）
func (c *Client) placeOrder(ctx context.Context, req *model.OrderRequest) (*model.OrderInfo, error) {
	req.ProductType = c.productType
	req.MarginCoin = c.marginCoin
	req.MarginMode = marginMode
	var info model.OrderInfo
	if err := c.post(ctx, "/api/mix/v1/order/placeOrder", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// placePlanOrder 计划委托（触发止损）
func (c *Client) placePlanOrder(ctx context.Context, req *model.PlanOrderRequest) (*model.OrderInfo, error) {
	req.ProductType = c.productType
	req.MarginCoin = c.marginCoin
	req.MarginMode = marginMode
	req.PlanType = "normal_plan"
	req.TriggerType = "fill_price"
	var info model.OrderInfo
	if err := c.post(ctx, "/api/mix/v1/plan/placePlan", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
