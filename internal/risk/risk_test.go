package risk

import (
	"testing"
	"time"

	"signalflow/conf"
	"signalflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() conf.TradingConfig {
	return conf.TradingConfig{
		DefaultAmount:      2.0,
		DefaultLeverage:    20,
		RiskPercentage:     2.0,
		MaxPositionSize:    100.0,
		MaxDailyLoss:       5.0,
		MaxTradesPerDay:    50,
		MaxConsecutiveLoss: 5,
		Cooldown:           30 * time.Minute,
	}
}

func longSignal(symbol string, amount float64) *model.TradingSignal {
	return &model.TradingSignal{
		Symbol:   symbol,
		Side:     model.Buy,
		Kind:     model.KindMarket,
		Amount:   amount,
		Leverage: 10,
	}
}

func TestEvaluateApproves(t *testing.T) {
	m := NewManager(testConfig())

	ok, reason, sizing := m.Evaluate(longSignal("BTCUSDT", 5), 50)
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, 5.0, sizing.SuggestedAmount)
}

func TestEvaluateRejectsZeroBalance(t *testing.T) {
	m := NewManager(testConfig())

	ok, reason, _ := m.Evaluate(longSignal("BTCUSDT", 5), 0)
	assert.False(t, ok)
	assert.Contains(t, reason, "余额")
}

func TestEvaluateRejectsDailyLossLimit(t *testing.T) {
	m := NewManager(testConfig())
	m.dailyPnl = -6.0 // 超过5.0的日亏损上限

	ok, reason, _ := m.Evaluate(longSignal("BTCUSDT", 5), 50)
	assert.False(t, ok)
	assert.Contains(t, reason, "日最大亏损")

	// 拒绝不能改变风控状态
	assert.Equal(t, -6.0, m.dailyPnl)
	assert.Equal(t, 0, m.tradesToday)
	assert.Empty(t, m.positions)
}

func TestEvaluateRejectsTradeCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTradesPerDay = 2
	m := NewManager(cfg)
	m.tradesToday = 2

	ok, reason, _ := m.Evaluate(longSignal("BTCUSDT", 5), 50)
	assert.False(t, ok)
	assert.Contains(t, reason, "日交易次数")
}

func TestEvaluateRejectsConsecutiveLosses(t *testing.T) {
	m := NewManager(testConfig())
	m.consecutiveLosses = 5

	ok, reason, _ := m.Evaluate(longSignal("BTCUSDT", 5), 50)
	assert.False(t, ok)
	assert.Contains(t, reason, "连续亏损")
}

func TestEvaluateRejectsCooldown(t *testing.T) {
	m := NewManager(testConfig())
	now := time.Now()
	m.now = func() time.Time { return now }
	m.lastTradeTime = now.Add(-10 * time.Minute)

	ok, reason, _ := m.Evaluate(longSignal("BTCUSDT", 5), 50)
	assert.False(t, ok)
	assert.Contains(t, reason, "冷却期")

	// 冷却期结束后放行
	m.now = func() time.Time { return now.Add(25 * time.Minute) }
	ok, _, _ = m.Evaluate(longSignal("BTCUSDT", 5), 50)
	assert.True(t, ok)
}

func TestEvaluateRejectsOversizedAmount(t *testing.T) {
	m := NewManager(testConfig())

	ok, reason, _ := m.Evaluate(longSignal("BTCUSDT", 150), 500)
	assert.False(t, ok)
	assert.Contains(t, reason, "最大限制")
}

func TestEvaluateSameDirectionRejected(t *testing.T) {
	m := NewManager(testConfig())
	m.RegisterPosition(longSignal("BTCUSDT", 5), 100, 0.5)
	// 绕过冷却期，只验证方向闸门
	m.lastTradeTime = time.Time{}

	ok, reason, _ := m.Evaluate(longSignal("BTCUSDT", 5), 50)
	assert.False(t, ok)
	assert.Contains(t, reason, "同方向")

	// 反方向是独立新仓，放行
	short := &model.TradingSignal{Symbol: "BTCUSDT", Side: model.Sell, Kind: model.KindMarket, Amount: 5, Leverage: 10}
	ok, _, _ = m.Evaluate(short, 50)
	assert.True(t, ok)
}

func TestSuggestedAmountDerived(t *testing.T) {
	m := NewManager(testConfig())

	// 无显式金额：余额*风险百分比 = 50*0.02 = 1.0
	sig := longSignal("BTCUSDT", 0)
	ok, _, sizing := m.Evaluate(sig, 50)
	require.True(t, ok)
	assert.InDelta(t, 1.0, sizing.SuggestedAmount, 1e-9)

	// 显式金额超过余额时以余额封顶
	ok, _, sizing = m.Evaluate(longSignal("BTCUSDT", 80), 60)
	require.True(t, ok)
	assert.Equal(t, 60.0, sizing.SuggestedAmount)

	// 带止损时按价差反推，但不超过风险额
	withStop := longSignal("BTCUSDT", 0)
	withStop.Price = 100
	withStop.StopLoss = 90
	ok, _, sizing = m.Evaluate(withStop, 50)
	require.True(t, ok)
	assert.InDelta(t, 1.0, sizing.SuggestedAmount, 1e-9)
}

func TestUpdatePositionPnl(t *testing.T) {
	m := NewManager(testConfig())
	m.RegisterPosition(longSignal("BTCUSDT", 5), 100, 0.5)

	// 多头：(current-entry)/entry*size
	m.UpdatePosition("BTCUSDT", 110)
	pos, ok := m.GetPosition("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.05, pos.Pnl, 1e-9)

	// 空头方向相反
	short := &model.TradingSignal{Symbol: "ETHUSDT", Side: model.Sell, Kind: model.KindMarket, Amount: 5, Leverage: 10}
	m.RegisterPosition(short, 100, 0.5)
	m.UpdatePosition("ETHUSDT", 110)
	pos, ok = m.GetPosition("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, -0.05, pos.Pnl, 1e-9)
}

func TestUpdatePositionAdvisory(t *testing.T) {
	m := NewManager(testConfig())
	sig := longSignal("BTCUSDT", 5)
	sig.StopLoss = 90
	sig.TakeProfit = 120
	m.RegisterPosition(sig, 100, 0.5)

	assert.Empty(t, m.UpdatePosition("BTCUSDT", 100))
	assert.Equal(t, ReasonStopLoss, m.UpdatePosition("BTCUSDT", 89))
	assert.Equal(t, ReasonTakeProfit, m.UpdatePosition("BTCUSDT", 121))
	// 建议不应有副作用，仓位仍在
	_, ok := m.GetPosition("BTCUSDT")
	assert.True(t, ok)
}

func TestClosePositionSettles(t *testing.T) {
	m := NewManager(testConfig())
	m.RegisterPosition(longSignal("BTCUSDT", 5), 100, 0.5)

	record := m.ClosePosition("BTCUSDT", 90, ReasonStopLoss)
	require.NotNil(t, record)
	assert.InDelta(t, -0.05, record.Pnl, 1e-9)
	assert.Equal(t, ReasonStopLoss, record.CloseReason)

	// 亏损计入当日并累加连亏
	assert.InDelta(t, -0.05, m.dailyPnl, 1e-9)
	assert.Equal(t, 1, m.consecutiveLosses)
	_, ok := m.GetPosition("BTCUSDT")
	assert.False(t, ok)
	assert.Len(t, m.History(), 1)

	// 盈利平仓重置连亏计数
	m.RegisterPosition(longSignal("ETHUSDT", 5), 100, 0.5)
	record = m.ClosePosition("ETHUSDT", 110, ReasonTakeProfit)
	require.NotNil(t, record)
	assert.Equal(t, 0, m.consecutiveLosses)
}

func TestDailyRollover(t *testing.T) {
	m := NewManager(testConfig())
	day1 := time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day1 }

	m.RegisterPosition(longSignal("BTCUSDT", 5), 100, 0.5)
	m.ClosePosition("BTCUSDT", 90, ReasonStopLoss)
	require.Equal(t, 1, m.GetReport(50).TradesToday)

	// UTC跨天后每日计数清零，连亏计数保留
	m.now = func() time.Time { return day1.Add(2 * time.Hour) }
	report := m.GetReport(50)
	assert.Equal(t, 0, report.TradesToday)
	assert.Equal(t, 0.0, report.DailyPnl)
	assert.Equal(t, 1, report.ConsecutiveLosses)
}

func TestGetReport(t *testing.T) {
	m := NewManager(testConfig())
	m.RegisterPosition(longSignal("BTCUSDT", 5), 100, 0.5)
	m.UpdatePosition("BTCUSDT", 110)

	report := m.GetReport(50)
	assert.Equal(t, 50.0, report.Balance)
	assert.Equal(t, 1, report.PositionCount)
	assert.Equal(t, 1, report.TradesToday)
	assert.InDelta(t, 0.05, report.TotalPnl, 1e-9)
	assert.True(t, report.InCooldown)
}
