package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"signalflow/conf"
	"signalflow/internal/model"
	"signalflow/pkg/logger"
)

// 平仓原因
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonManual     = "manual"
)

// Sizing 审批通过时给出的建议金额与当时的风控状态快照
type Sizing struct {
	SuggestedAmount   float64
	TradesToday       int
	DailyPnl          float64
	ConsecutiveLosses int
}

// Report 风控状态报告
type Report struct {
	Balance           float64
	DailyPnl          float64
	TradesToday       int
	ConsecutiveLosses int
	PositionCount     int
	TotalPnl          float64
	InCooldown        bool
	MaxDailyLoss      float64
	MaxTradesPerDay   int
}

// Manager 交易前的风控闸门与本地持仓账本。
// 状态只在本结构内变更，检查不通过时不产生任何副作用。
type Manager struct {
	mu sync.Mutex

	cfg conf.TradingConfig

	dailyPnl          float64
	tradesToday       int
	consecutiveLosses int
	lastTradeTime     time.Time
	lastResetDate     string // UTC日期，跨天时清零每日计数

	positions map[string]*model.Position
	history   []model.TradeRecord

	now func() time.Time
}

func NewManager(cfg conf.TradingConfig) *Manager {
	return &Manager{
		cfg:       cfg,
		positions: make(map[string]*model.Position),
		now:       time.Now,
	}
}

// Evaluate 按固定顺序做闸门检查，第一个不通过即拒绝。
// 拒绝不改变任何状态，审批通过后由调用方下单并回调 RegisterPosition。
func (m *Manager) Evaluate(sig *model.TradingSignal, balance float64) (bool, string, Sizing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyCounters()

	sizing := Sizing{
		TradesToday:       m.tradesToday,
		DailyPnl:          m.dailyPnl,
		ConsecutiveLosses: m.consecutiveLosses,
	}

	if balance <= 0 {
		return false, "账户余额不足", sizing
	}
	if m.tradesToday >= m.cfg.MaxTradesPerDay {
		return false, fmt.Sprintf("已达到日交易次数限制(%d)", m.cfg.MaxTradesPerDay), sizing
	}
	if m.dailyPnl < -m.cfg.MaxDailyLoss {
		return false, fmt.Sprintf("已达到日最大亏损限制(%v)", m.cfg.MaxDailyLoss), sizing
	}
	if m.consecutiveLosses >= m.cfg.MaxConsecutiveLoss {
		return false, fmt.Sprintf("连续亏损次数过多(%d)", m.consecutiveLosses), sizing
	}
	if m.inCooldown() {
		remaining := m.cfg.Cooldown - m.now().Sub(m.lastTradeTime)
		return false, fmt.Sprintf("冷却期内，剩余%v", remaining.Round(time.Second)), sizing
	}

	amount := m.suggestedAmount(sig, balance)
	if amount > m.cfg.MaxPositionSize {
		return false, fmt.Sprintf("交易金额超过最大限制(%v)", m.cfg.MaxPositionSize), sizing
	}

	// 同方向同币种的仓位已存在时拒绝加仓，反方向视为独立新仓
	if pos, ok := m.positions[sig.Symbol]; ok && pos.Side == sig.Side {
		return false, fmt.Sprintf("%s 已有同方向持仓", sig.Symbol), sizing
	}

	sizing.SuggestedAmount = amount
	return true, "", sizing
}

// suggestedAmount 有显式金额时直接用（不超过余额），
// 否则按余额的风险百分比推导；带止损时按价差反推仓位并以风险额封顶。
func (m *Manager) suggestedAmount(sig *model.TradingSignal, balance float64) float64 {
	if sig.Amount > 0 {
		return math.Min(sig.Amount, balance)
	}
	riskAmount := balance * (m.cfg.RiskPercentage / 100)
	if sig.StopLoss > 0 && sig.Price > 0 {
		distance := math.Abs(sig.Price-sig.StopLoss) / sig.Price
		if distance > 0 {
			return math.Min(riskAmount/distance, riskAmount)
		}
	}
	return riskAmount
}

func (m *Manager) inCooldown() bool {
	if m.lastTradeTime.IsZero() {
		return false
	}
	return m.now().Sub(m.lastTradeTime) < m.cfg.Cooldown
}

// UTC跨天时清零每日盈亏与交易计数
func (m *Manager) resetDailyCounters() {
	today := m.now().UTC().Format("2006-01-02")
	if m.lastResetDate == "" {
		m.lastResetDate = today
		return
	}
	if today != m.lastResetDate {
		logger.Info("风控每日计数清零",
			logger.Pair("date", today),
			logger.Pair("yesterdayPnl", m.dailyPnl),
			logger.Pair("yesterdayTrades", m.tradesToday))
		m.dailyPnl = 0
		m.tradesToday = 0
		m.lastResetDate = today
	}
}

// RegisterPosition 成交确认后把仓位记入账本
func (m *Manager) RegisterPosition(sig *model.TradingSignal, entryPrice, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[sig.Symbol] = &model.Position{
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Size:         size,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		CreatedAt:    m.now().UTC(),
	}
	m.tradesToday++
	m.lastTradeTime = m.now()

	logger.Info("持仓已登记",
		logger.Pair("symbol", sig.Symbol),
		logger.Pair("side", sig.Side),
		logger.Pair("size", size),
		logger.Pair("entryPrice", entryPrice))
}

// UpdatePosition 按最新价刷新浮动盈亏，返回触及止盈止损时的建议原因。
// 只给出建议，不会发起任何交易所调用。
func (m *Manager) UpdatePosition(symbol string, currentPrice float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return ""
	}
	pos.CurrentPrice = currentPrice

	if pos.Side == model.Buy {
		pos.Pnl = (currentPrice - pos.EntryPrice) * pos.Size / pos.EntryPrice
	} else {
		pos.Pnl = (pos.EntryPrice - currentPrice) * pos.Size / pos.EntryPrice
	}
	if pos.Size > 0 {
		pos.PnlPercent = pos.Pnl / pos.Size * 100
	}

	if pos.Side == model.Buy {
		if pos.StopLoss > 0 && currentPrice <= pos.StopLoss {
			return ReasonStopLoss
		}
		if pos.TakeProfit > 0 && currentPrice >= pos.TakeProfit {
			return ReasonTakeProfit
		}
	} else {
		if pos.StopLoss > 0 && currentPrice >= pos.StopLoss {
			return ReasonStopLoss
		}
		if pos.TakeProfit > 0 && currentPrice <= pos.TakeProfit {
			return ReasonTakeProfit
		}
	}
	return ""
}

// ClosePosition 平仓结算：盈亏计入当日累计、刷新连亏计数、归档交易并移除仓位
func (m *Manager) ClosePosition(symbol string, closePrice float64, reason string) *model.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil
	}

	pos.CurrentPrice = closePrice
	if pos.Side == model.Buy {
		pos.Pnl = (closePrice - pos.EntryPrice) * pos.Size / pos.EntryPrice
	} else {
		pos.Pnl = (pos.EntryPrice - closePrice) * pos.Size / pos.EntryPrice
	}
	if pos.Size > 0 {
		pos.PnlPercent = pos.Pnl / pos.Size * 100
	}

	record := model.TradeRecord{
		Symbol:      symbol,
		Side:        pos.Side,
		Size:        pos.Size,
		EntryPrice:  pos.EntryPrice,
		ClosePrice:  closePrice,
		Pnl:         pos.Pnl,
		PnlPercent:  pos.PnlPercent,
		HoldTime:    m.now().UTC().Sub(pos.CreatedAt),
		CloseReason: reason,
		ClosedAt:    m.now().UTC(),
	}
	m.history = append(m.history, record)

	m.dailyPnl += pos.Pnl
	if pos.Pnl < 0 {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
	delete(m.positions, symbol)

	logger.Info("持仓已平仓",
		logger.Pair("symbol", symbol),
		logger.Pair("pnl", record.Pnl),
		logger.Pair("reason", reason))
	return &record
}

// GetPosition 返回账本里的仓位副本
func (m *Manager) GetPosition(symbol string) (model.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// GetPositions 返回全部仓位副本
func (m *Manager) GetPositions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// History 返回已归档的交易记录
func (m *Manager) History() []model.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TradeRecord, len(m.history))
	copy(out, m.history)
	return out
}

// GetReport 汇总当前风控状态
func (m *Manager) GetReport(balance float64) Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyCounters()

	var totalPnl float64
	for _, pos := range m.positions {
		totalPnl += pos.Pnl
	}
	return Report{
		Balance:           balance,
		DailyPnl:          m.dailyPnl,
		TradesToday:       m.tradesToday,
		ConsecutiveLosses: m.consecutiveLosses,
		PositionCount:     len(m.positions),
		TotalPnl:          totalPnl,
		InCooldown:        m.inCooldown(),
		MaxDailyLoss:      m.cfg.MaxDailyLoss,
		MaxTradesPerDay:   m.cfg.MaxTradesPerDay,
	}
}
