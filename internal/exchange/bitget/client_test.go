package bitget

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"signalflow/conf"
	"signalflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// 测试里不真正等待成交与重试间隔
	fillWait = 5 * time.Millisecond
	stopRetryDelay = time.Millisecond
}

// fakeExchange 模拟Bitget接口，记录收到的下单请求
type fakeExchange struct {
	t *testing.T

	mu            sync.Mutex
	orders        []map[string]interface{}
	planOrders    []map[string]interface{}
	requestCounts map[string]int

	balance       string
	tickerLast    string
	positionSize  string
	positionTotal string
	holdSide      string
	fillPrice     string
	fillSize      string

	planFailCode    string // 非空时placePlan返回该业务错误码
	transientFails  int    // ticker接口先失败几次
	transientStatus int    // 失败时的HTTP状态码，0表示500
	badSignatureMsg string
}

func newFakeExchange(t *testing.T) *fakeExchange {
	return &fakeExchange{
		t:             t,
		requestCounts: map[string]int{},
		balance:       "50",
		tickerLast:    "100",
		positionSize:  "0",
		positionTotal: "0.5",
		holdSide:      "long",
		fillPrice:     "100",
		fillSize:      "0.5",
	}
}

func (f *fakeExchange) handler(secretKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requestCounts[r.URL.Path]++

		body, _ := io.ReadAll(r.Body)

		// 服务端按同样的算法重新计算签名
		requestPath := r.URL.Path
		if r.URL.RawQuery != "" {
			requestPath += "?" + r.URL.RawQuery
		}
		message := r.Header.Get("ACCESS-TIMESTAMP") + r.Method + requestPath + string(body)
		mac := hmac.New(sha256.New, []byte(secretKey))
		mac.Write([]byte(message))
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if r.Header.Get("ACCESS-SIGN") != expected {
			f.badSignatureMsg = fmt.Sprintf("签名不匹配: path=%s", requestPath)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":"40009","msg":"sign signature error"}`)
			return
		}

		switch r.URL.Path {
		case "/api/mix/v1/account/accounts":
			fmt.Fprintf(w, `{"code":"00000","msg":"success","data":[{"marginCoin":"USDT","available":"%s"}]}`, f.balance)
		case "/api/mix/v1/market/ticker":
			if f.transientFails > 0 {
				f.transientFails--
				status := f.transientStatus
				if status == 0 {
					status = http.StatusInternalServerError
				}
				w.WriteHeader(status)
				fmt.Fprintf(w, `{"code":"%d","msg":"upstream error"}`, status)
				return
			}
			fmt.Fprintf(w, `{"code":"00000","msg":"success","data":{"symbol":"X","last":"%s"}}`, f.tickerLast)
		case "/api/mix/v1/order/placeOrder":
			var req map[string]interface{}
			require.NoError(f.t, json.Unmarshal(body, &req))
			f.orders = append(f.orders, req)
			fmt.Fprintf(w, `{"code":"00000","msg":"success","data":{"orderId":"%d","clientOrderId":"%s"}}`,
				1000+len(f.orders), req["clientOrderId"])
		case "/api/mix/v1/order/detail":
			fmt.Fprintf(w, `{"code":"00000","msg":"success","data":{"orderId":"1001","status":"filled","fillPrice":"%s","fillSize":"%s"}}`,
				f.fillPrice, f.fillSize)
		case "/api/mix/v1/position/allPosition":
			fmt.Fprintf(w, `{"code":"00000","msg":"success","data":[{"symbol":"TREEUSDT_UMCBL","holdSide":"%s","size":"%s","total":"%s","averageOpenPrice":"100","cTime":"1700000000000"}]}`,
				f.holdSide, f.positionSize, f.positionTotal)
		case "/api/mix/v1/plan/placePlan":
			if f.planFailCode != "" {
				fmt.Fprintf(w, `{"code":"%s","msg":"plan order rejected"}`, f.planFailCode)
				return
			}
			var req map[string]interface{}
			require.NoError(f.t, json.Unmarshal(body, &req))
			f.planOrders = append(f.planOrders, req)
			fmt.Fprintf(w, `{"code":"00000","msg":"success","data":{"orderId":"2001","clientOrderId":"%s"}}`, req["clientOrderId"])
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":"40404","msg":"not found"}`)
		}
	})
}

const testSecret = "test-secret-key"

func newTestClient(t *testing.T, fake *fakeExchange, trading conf.TradingConfig) *Client {
	srv := httptest.NewServer(fake.handler(testSecret))
	t.Cleanup(srv.Close)

	client, err := NewClient(conf.BitgetConfig{
		ApiKey:     "test-key",
		SecretKey:  testSecret,
		Passphrase: "test-pass",
		BaseURL:    srv.URL,
	}, trading)
	require.NoError(t, err)
	return client
}

func TestSignatureAcceptedByServer(t *testing.T) {
	fake := newFakeExchange(t)
	client := newTestClient(t, fake, conf.TradingConfig{})

	// GET带query参数与POST带body都要能通过服务端校验
	_, err := client.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)

	_, err = client.GetPositions(context.Background(), "TREEUSDT")
	require.NoError(t, err)

	_, err = client.ClosePartial(context.Background(), "TREEUSDT", 50)
	require.NoError(t, err)

	assert.Empty(t, fake.badSignatureMsg)
}

func TestContractSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT_UMCBL", ContractSymbol("BTCUSDT"))
	assert.Equal(t, "BTCUSDT_UMCBL", ContractSymbol("BTCUSDT_UMCBL"))
}

func TestSandboxUsesDemoProduct(t *testing.T) {
	client, err := NewClient(conf.BitgetConfig{
		ApiKey:     "test-key",
		SecretKey:  testSecret,
		Passphrase: "test-pass",
		Sandbox:    true,
	}, conf.TradingConfig{})
	require.NoError(t, err)

	assert.Equal(t, "SUMCBL", client.productType)
	assert.Equal(t, "SUSDT", client.marginCoin)
	assert.Equal(t, "SBTCSUSDT_SUMCBL", client.contractSymbol("SBTCSUSDT"))
}

func TestGetCurrentPriceRetriesTransientErrors(t *testing.T) {
	fake := newFakeExchange(t)
	fake.transientFails = 2
	client := newTestClient(t, fake, conf.TradingConfig{})

	price, err := client.GetCurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	// 两次500 + 一次成功
	assert.Equal(t, 3, fake.requestCounts["/api/mix/v1/market/ticker"])
}

func TestRateLimitedResponseRetried(t *testing.T) {
	fake := newFakeExchange(t)
	fake.transientFails = 2
	fake.transientStatus = http.StatusTooManyRequests
	client := newTestClient(t, fake, conf.TradingConfig{})

	// 429是临时状况，和5xx一样走重试而不是当业务错误返回
	price, err := client.GetCurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 3, fake.requestCounts["/api/mix/v1/market/ticker"])
}

func TestSetFixedLossStopPlacesPlanOrder(t *testing.T) {
	fake := newFakeExchange(t)
	client := newTestClient(t, fake, conf.TradingConfig{})

	order, err := client.SetFixedLossStop(context.Background(), "TREEUSDT", 92.5, 0.5, model.Buy)
	require.NoError(t, err)
	require.NotNil(t, order)

	require.Len(t, fake.planOrders, 1)
	plan := fake.planOrders[0]
	assert.Equal(t, "TREEUSDT_UMCBL", plan["symbol"])
	assert.Equal(t, model.SideCloseLong, plan["side"])
	assert.Equal(t, "92.5", plan["triggerPrice"])
	assert.Equal(t, "0.5", plan["size"])
	assert.Equal(t, "normal_plan", plan["planType"])
	assert.Equal(t, "fill_price", plan["triggerType"])
}

func TestSetFixedLossStopShortSide(t *testing.T) {
	fake := newFakeExchange(t)
	client := newTestClient(t, fake, conf.TradingConfig{})

	_, err := client.SetFixedLossStop(context.Background(), "TREEUSDT", 107.5, 0.5, model.Sell)
	require.NoError(t, err)
	require.Len(t, fake.planOrders, 1)
	assert.Equal(t, model.SideCloseShort, fake.planOrders[0]["side"])
	assert.Equal(t, "107.5", fake.planOrders[0]["triggerPrice"])
}

func TestSetFixedLossStopRejectsBadParams(t *testing.T) {
	fake := newFakeExchange(t)
	client := newTestClient(t, fake, conf.TradingConfig{})

	_, err := client.SetFixedLossStop(context.Background(), "TREEUSDT", 0, 0.5, model.Buy)
	require.Error(t, err)
	_, err = client.SetFixedLossStop(context.Background(), "TREEUSDT", 92.5, 0, model.Buy)
	require.Error(t, err)
	assert.Empty(t, fake.planOrders)
}

func TestLogicalErrorNotRetried(t *testing.T) {
	fake := newFakeExchange(t)
	fake.planFailCode = "40099"
	client := newTestClient(t, fake, conf.TradingConfig{})

	_, err := client.SetBreakEvenStop(context.Background(), "TREEUSDT", 100.0)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "40099", apiErr.Code)
	// 业务错误不重试，placePlan只应收到一次请求
	assert.Equal(t, 1, fake.requestCounts["/api/mix/v1/plan/placePlan"])
}

func TestGetPositionsFiltersEmpty(t *testing.T) {
	fake := newFakeExchange(t)
	fake.positionSize = "0"
	fake.positionTotal = "0"
	client := newTestClient(t, fake, conf.TradingConfig{})

	positions, err := client.GetPositions(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestExecuteSignalContractSizing(t *testing.T) {
	fake := newFakeExchange(t)
	client := newTestClient(t, fake, conf.TradingConfig{
		DefaultAmount:   2.0,
		DefaultLeverage: 20,
	})

	// balance=50, margin=5, leverage=10, price=100 → size = 5/(100/10) = 0.5
	sig := &model.TradingSignal{
		Symbol:   "TREEUSDT",
		Side:     model.Buy,
		Kind:     model.KindMarket,
		Amount:   5.0,
		Leverage: 10,
	}
	result, err := client.ExecuteSignal(context.Background(), sig)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.ContractSize, 1e-9)
	assert.Equal(t, "TREEUSDT_UMCBL", result.Symbol)
	assert.Equal(t, 5.0, result.MarginAmount)
	assert.Nil(t, result.StopWarning)

	require.Len(t, fake.orders, 1)
	assert.Equal(t, "open_long", fake.orders[0]["side"])
	assert.Equal(t, "market", fake.orders[0]["orderType"])
	assert.Equal(t, "0.5", fake.orders[0]["size"])
	assert.Equal(t, "UMCBL", fake.orders[0]["productType"])
	assert.Equal(t, "crossed", fake.orders[0]["marginMode"])

	// 随后按50%平仓应平掉0.25
	order, err := client.ClosePartial(context.Background(), "TREEUSDT", 50)
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Len(t, fake.orders, 2)
	assert.Equal(t, "close_long", fake.orders[1]["side"])
	assert.Equal(t, "0.25", fake.orders[1]["size"])
}

func TestExecuteSignalMarginCappedByBalance(t *testing.T) {
	fake := newFakeExchange(t)
	fake.balance = "3"
	client := newTestClient(t, fake, conf.TradingConfig{DefaultLeverage: 20})

	sig := &model.TradingSignal{
		Symbol: "TREEUSDT", Side: model.Buy, Kind: model.KindMarket,
		Amount: 5.0, Leverage: 10,
	}
	result, err := client.ExecuteSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, 3.0, result.MarginAmount)
}

func TestExecuteSignalFixedLossStop(t *testing.T) {
	fake := newFakeExchange(t)
	client := newTestClient(t, fake, conf.TradingConfig{
		DefaultAmount:      2.0,
		DefaultLeverage:    20,
		AutoStopLossAmount: 1.0,
	})

	// 成交量0.5、杠杆10：priceDelta = 1/(0.5/10) = 20 → 多头止损价 100-20=80
	sig := &model.TradingSignal{
		Symbol: "TREEUSDT", Side: model.Buy, Kind: model.KindMarket,
		Amount: 5.0, Leverage: 10,
	}
	result, err := client.ExecuteSignal(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result.StopOrder)
	assert.Nil(t, result.StopWarning)

	require.Len(t, fake.planOrders, 1)
	assert.Equal(t, "close_long", fake.planOrders[0]["side"])
	assert.Equal(t, "80", fake.planOrders[0]["triggerPrice"])
	assert.Equal(t, "fill_price", fake.planOrders[0]["triggerType"])
	assert.Equal(t, "normal_plan", fake.planOrders[0]["planType"])
}

func TestExecuteSignalShortStopAboveEntry(t *testing.T) {
	fake := newFakeExchange(t)
	fake.holdSide = "short"
	client := newTestClient(t, fake, conf.TradingConfig{
		DefaultLeverage:    20,
		AutoStopLossAmount: 1.0,
	})

	sig := &model.TradingSignal{
		Symbol: "TREEUSDT", Side: model.Sell, Kind: model.KindMarket,
		Amount: 5.0, Leverage: 10,
	}
	result, err := client.ExecuteSignal(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result.StopOrder)

	require.Len(t, fake.planOrders, 1)
	// 空头止损价在开仓价上方
	assert.Equal(t, "close_short", fake.planOrders[0]["side"])
	assert.Equal(t, "120", fake.planOrders[0]["triggerPrice"])
	require.Len(t, fake.orders, 1)
	assert.Equal(t, "open_short", fake.orders[0]["side"])
}

func TestExecuteSignalStopFailureIsWarningNotError(t *testing.T) {
	fake := newFakeExchange(t)
	fake.planFailCode = "40099"
	client := newTestClient(t, fake, conf.TradingConfig{
		DefaultLeverage:    20,
		AutoStopLossAmount: 1.0,
	})

	sig := &model.TradingSignal{
		Symbol: "TREEUSDT", Side: model.Buy, Kind: model.KindMarket,
		Amount: 5.0, Leverage: 10,
	}
	// 市价单已成交，止损失败不能让整单报错
	result, err := client.ExecuteSignal(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Nil(t, result.StopOrder)
	assert.Error(t, result.StopWarning)
}

func TestClosePartialFallsBackToSizeField(t *testing.T) {
	fake := newFakeExchange(t)
	fake.positionTotal = "0"
	fake.positionSize = "0.5"
	client := newTestClient(t, fake, conf.TradingConfig{})

	_, err := client.ClosePartial(context.Background(), "TREEUSDT", 50)
	require.NoError(t, err)
	require.Len(t, fake.orders, 1)
	assert.Equal(t, "0.25", fake.orders[0]["size"])
}

func TestClosePartialRejectsBadPercentage(t *testing.T) {
	fake := newFakeExchange(t)
	client := newTestClient(t, fake, conf.TradingConfig{})

	_, err := client.ClosePartial(context.Background(), "TREEUSDT", 0)
	assert.Error(t, err)
	_, err = client.ClosePartial(context.Background(), "TREEUSDT", 150)
	assert.Error(t, err)
}

func TestSetBreakEvenStop(t *testing.T) {
	fake := newFakeExchange(t)
	client := newTestClient(t, fake, conf.TradingConfig{})

	order, err := client.SetBreakEvenStop(context.Background(), "TREEUSDT", 0.36789)
	require.NoError(t, err)
	require.NotNil(t, order)

	require.Len(t, fake.planOrders, 1)
	// 触发价按4位小数处理
	assert.Equal(t, "0.3679", fake.planOrders[0]["triggerPrice"])
	assert.Equal(t, "close_long", fake.planOrders[0]["side"])
	assert.Equal(t, "0.5", fake.planOrders[0]["size"])
}

func TestContractSizeRoundTrip(t *testing.T) {
	// size = M/(P/L) 且 size*P/L == M
	cases := []struct{ m, l, p float64 }{
		{5, 10, 100},
		{2, 20, 0.367},
		{100, 125, 45000},
		{0.5, 1, 3.1415},
	}
	for _, tc := range cases {
		size := tc.m / (tc.p / tc.l)
		assert.InDelta(t, tc.m, size*tc.p/tc.l, 1e-9)
	}
}
