package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"signalflow/conf"
	"signalflow/internal/exchange"
	"signalflow/internal/model"
	"signalflow/pkg/logger"

	"github.com/spf13/cast"
	"go.uber.org/multierr"
)

// State 监控循环状态
type State string

const (
	StateIdle       State = "idle"       // 无活跃目标
	StatePolling    State = "polling"    // 有目标，按轮询间隔比价
	StateTriggering State = "triggering" // 目标命中，执行两段式止盈
)

// 部分平仓后等待成交再取开仓价
var triggerWait = 2 * time.Second

// 保本止损重试间隔
var breakEvenRetryDelay = 2 * time.Second

const breakEvenRetryCount = 3

// Monitor 价格监控：轮询活跃止盈目标，命中后先平一半仓、
// 再把剩余仓位的止损移到开仓价。
type Monitor struct {
	client exchange.ExecutionClient
	recent *RecentSignalContext
	cfg    conf.MonitorConfig

	mu      sync.Mutex
	targets map[string]*model.TakeProfitTarget
	state   State

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

func NewMonitor(client exchange.ExecutionClient, recent *RecentSignalContext, cfg conf.MonitorConfig) *Monitor {
	return &Monitor{
		client:  client,
		recent:  recent,
		cfg:     cfg,
		targets: make(map[string]*model.TakeProfitTarget),
		state:   StateIdle,
		now:     time.Now,
	}
}

// Start 启动监控循环，重复调用无效果
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
	logger.Info("价格监控已启动",
		logger.Pair("pollInterval", m.cfg.PollInterval),
		logger.Pair("idleInterval", m.cfg.IdleInterval))
}

// Stop 停止监控循环并等待退出，触发中的止盈序列会先走完
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("价格监控已停止")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	for {
		interval := m.cfg.IdleInterval
		if m.TargetCount() > 0 {
			interval = m.cfg.PollInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if m.TargetCount() == 0 {
			continue
		}
		if err := m.runCycle(ctx); err != nil {
			// 单个周期的失败只记日志，下个周期重试
			logger.Warnf("监控周期出现错误: %v", err)
		}
	}
}

// State 当前状态
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TargetCount 活跃目标数
func (m *Monitor) TargetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

// RegisterTarget 登记止盈目标。同一币种最多一个未执行目标，
// 重复登记只覆盖价格。
func (m *Monitor) RegisterTarget(symbol string, price float64, side model.PosSide) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[symbol] = &model.TakeProfitTarget{
		Symbol:       symbol,
		Price:        price,
		Side:         side,
		RegisteredAt: m.now(),
	}
	if m.state == StateIdle {
		m.state = StatePolling
	}
	logger.Info("止盈目标已登记",
		logger.Pair("symbol", symbol),
		logger.Pair("price", price),
		logger.Pair("side", side))
}

// TrackSignal 把已执行的完整信号写入最近信号上下文
func (m *Monitor) TrackSignal(sig *model.TradingSignal) {
	m.recent.Add(sig)
}

// ResolveTakeProfit 为止盈信号确定币种和持仓方向并登记目标。
// 优先级：信号自带币种 > 近期信号上下文（同群组优先）> 最近开仓的持仓。
func (m *Monitor) ResolveTakeProfit(ctx context.Context, sig *model.TradingSignal) error {
	if sig.TakeProfit <= 0 {
		return fmt.Errorf("止盈信号缺少目标价")
	}

	symbol := sig.Symbol
	var side model.PosSide

	if symbol != "" {
		positions, err := m.client.GetPositions(ctx, symbol)
		if err != nil {
			return fmt.Errorf("查询 %s 持仓失败: %w", symbol, err)
		}
		if len(positions) == 0 {
			return fmt.Errorf("%s 无持仓，忽略止盈信号", symbol)
		}
		side = model.PosSide(positions[0].HoldSide)
		logger.Info("止盈目标按信号自带币种登记", logger.Pair("symbol", symbol))
	} else if entry, ok := m.recent.Resolve(sig.SourceGroup); ok {
		symbol = entry.Symbol
		side = model.PosSideOf(entry.Side)
		logger.Info("止盈目标按最近信号上下文推断",
			logger.Pair("symbol", symbol),
			logger.Pair("sourceGroup", entry.SourceGroup),
			logger.Pair("signalAt", entry.Timestamp))
	} else {
		// 上下文没有线索时退回最近开仓的持仓
		positions, err := m.client.GetPositions(ctx, "")
		if err != nil {
			return fmt.Errorf("查询持仓失败: %w", err)
		}
		var latest *model.PositionInfo
		for i := range positions {
			if latest == nil || cast.ToInt64(positions[i].CTime) > cast.ToInt64(latest.CTime) {
				latest = &positions[i]
			}
		}
		if latest == nil {
			return fmt.Errorf("无法推断止盈目标归属：上下文为空且无持仓")
		}
		symbol = trimContractSuffix(latest.Symbol)
		side = model.PosSide(latest.HoldSide)
		logger.Info("止盈目标按最近开仓的持仓推断",
			logger.Pair("symbol", symbol),
			logger.Pair("cTime", latest.CTime))
	}

	m.RegisterTarget(symbol, sig.TakeProfit, side)
	return nil
}

// runCycle 一个监控周期：先做健全性清扫，再做触发检查，最后清理已执行目标
func (m *Monitor) runCycle(ctx context.Context) error {
	m.mu.Lock()
	snapshot := make([]*model.TakeProfitTarget, 0, len(m.targets))
	for _, t := range m.targets {
		snapshot = append(snapshot, t)
	}
	m.mu.Unlock()

	var errs error

	for _, target := range snapshot {
		if removed, err := m.sweepTarget(ctx, target); err != nil {
			// 本周期跳过该目标，循环继续
			errs = multierr.Append(errs, err)
			continue
		} else if removed {
			continue
		}

		price, err := m.client.GetCurrentPrice(ctx, target.Symbol)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("获取 %s 价格失败: %w", target.Symbol, err))
			continue
		}
		if !triggered(target.Side, price, target.Price) {
			continue
		}

		m.setState(StateTriggering)
		// 触发后的两段式止盈必须走完，不跟随停机取消：
		// 部分平仓已经发出后若中途放弃，剩余仓位会裸奔没有保本止损
		m.executeTwoPhaseExit(context.Background(), target, price)
	}

	// 清理已执行目标并回到对应状态
	m.mu.Lock()
	for symbol, t := range m.targets {
		if t.Executed {
			delete(m.targets, symbol)
		}
	}
	if len(m.targets) == 0 {
		m.state = StateIdle
	} else {
		m.state = StatePolling
	}
	m.mu.Unlock()

	return errs
}

// sweepTarget 健全性清扫：持仓消失、开仓价异常、目标价偏离超过200%时作废目标
func (m *Monitor) sweepTarget(ctx context.Context, target *model.TakeProfitTarget) (bool, error) {
	positions, err := m.client.GetPositions(ctx, target.Symbol)
	if err != nil {
		return false, fmt.Errorf("清扫 %s 时查询持仓失败: %w", target.Symbol, err)
	}
	if len(positions) == 0 {
		m.removeTarget(target.Symbol, "持仓已不存在")
		return true, nil
	}
	entry := cast.ToFloat64(positions[0].AverageOpenPrice)
	if entry <= 0 {
		m.removeTarget(target.Symbol, "开仓价异常")
		return true, nil
	}
	// 偏离开仓价两倍以上的目标视为陈旧或归属错误。
	// 取绝对偏离即可：价格为正时向下偏离到不了100%，
	// 超过该阈值的只可能是信号方向上的偏离
	if deviation := abs(target.Price-entry) / entry; deviation > 2.0 {
		m.removeTarget(target.Symbol, fmt.Sprintf("目标价偏离开仓价%.0f%%", deviation*100))
		return true, nil
	}
	return false, nil
}

func (m *Monitor) removeTarget(symbol, reason string) {
	m.mu.Lock()
	delete(m.targets, symbol)
	m.mu.Unlock()
	logger.Warn("止盈目标已作废",
		logger.Pair("symbol", symbol),
		logger.Pair("reason", reason))
}

// executeTwoPhaseExit 两段式止盈：
// 先市价平掉一半仓位，再把剩余仓位的止损挂到开仓价。
// 保本止损重试失败不回滚，目标仍标记为已执行（部分平仓已经完成）。
func (m *Monitor) executeTwoPhaseExit(ctx context.Context, target *model.TakeProfitTarget, price float64) {
	logger.Info("止盈目标命中，执行两段式止盈",
		logger.Pair("symbol", target.Symbol),
		logger.Pair("targetPrice", target.Price),
		logger.Pair("currentPrice", price))

	closePercent := m.cfg.ClosePercent
	if closePercent <= 0 {
		closePercent = 50
	}

	defer func() {
		m.mu.Lock()
		target.Executed = true
		m.mu.Unlock()
	}()

	if _, err := m.client.ClosePartial(ctx, target.Symbol, closePercent); err != nil {
		logger.Errorf("部分平仓失败: %v", err)
		return
	}

	// 等待平仓成交后重新取开仓价
	select {
	case <-time.After(triggerWait):
	case <-ctx.Done():
		return
	}

	positions, err := m.client.GetPositions(ctx, target.Symbol)
	if err != nil || len(positions) == 0 {
		logger.Warnf("部分平仓后查询 %s 剩余持仓失败: %v", target.Symbol, err)
		return
	}
	entry := cast.ToFloat64(positions[0].AverageOpenPrice)
	if entry <= 0 {
		logger.Warnf("%s 开仓价异常，跳过保本止损", target.Symbol)
		return
	}

	for attempt := 0; attempt < breakEvenRetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(breakEvenRetryDelay):
			case <-ctx.Done():
				return
			}
		}
		if _, err := m.client.SetBreakEvenStop(ctx, target.Symbol, entry); err == nil {
			logger.Info("保本止损已设置",
				logger.Pair("symbol", target.Symbol),
				logger.Pair("entryPrice", entry))
			return
		} else {
			logger.Warnf("保本止损第%d次设置失败: %v", attempt+1, err)
		}
	}
	logger.Error("保本止损多次设置失败，需要人工处理",
		logger.Pair("symbol", target.Symbol))
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// triggered 多头价格达到目标即触发，空头价格跌到目标即触发
func triggered(side model.PosSide, price, target float64) bool {
	if side == model.PosShort {
		return price <= target
	}
	return price >= target
}

// 交易对本身不含下划线，下划线之后是合约产品后缀
func trimContractSuffix(symbol string) string {
	if i := strings.IndexByte(symbol, '_'); i > 0 {
		return symbol[:i]
	}
	return symbol
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
