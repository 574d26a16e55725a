package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signalflow/conf"
	"signalflow/internal/dao"
	"signalflow/internal/exchange"
	"signalflow/internal/model"
	"signalflow/internal/model/entity"
	"signalflow/internal/monitor"
	"signalflow/internal/notify"
	"signalflow/internal/parser"
	"signalflow/internal/risk"
	"signalflow/pkg/logger"
)

// bufferedMessage 同一来源群组的近期消息，供跨消息合并解析
type bufferedMessage struct {
	text string
	at   time.Time
}

// executedKey 某来源最近执行过的信号指纹，避免补充消息触发重复下单
type executedKey struct {
	symbol string
	side   model.OrderSide
	at     time.Time
}

// Engine 信号到下单的完整管道：
// 消息 → 解析 → 校验 → 风控 → 执行 → 登记持仓与止盈目标 → 落库与广播
type Engine struct {
	cfg      conf.TradingConfig
	parser   *parser.Parser
	risk     *risk.Manager
	client   exchange.ExecutionClient
	monitor  *monitor.Monitor
	notifier notify.Notifier

	// 落库接口可为nil（未配置数据库时只走内存流程）
	signalDao dao.SignalDao
	tradeDao  dao.TradeDao

	mu           sync.Mutex
	enabled      bool
	buffers      map[string][]bufferedMessage
	lastExecuted map[string]executedKey
	window       time.Duration

	now func() time.Time
}

type Option func(*Engine)

func WithDao(signalDao dao.SignalDao, tradeDao dao.TradeDao) Option {
	return func(e *Engine) {
		e.signalDao = signalDao
		e.tradeDao = tradeDao
	}
}

func NewEngine(
	cfg conf.TradingConfig,
	p *parser.Parser,
	riskMgr *risk.Manager,
	client exchange.ExecutionClient,
	mon *monitor.Monitor,
	notifier notify.Notifier,
	window time.Duration,
	opts ...Option,
) *Engine {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	e := &Engine{
		cfg:          cfg,
		parser:       p,
		risk:         riskMgr,
		client:       client,
		monitor:      mon,
		notifier:     notifier,
		enabled:      cfg.Enabled,
		buffers:      make(map[string][]bufferedMessage),
		lastExecuted: make(map[string]executedKey),
		window:       window,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetEnabled 交易总开关，关闭后只解析不下单
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	logger.Info("交易开关已切换", logger.Pair("enabled", enabled))
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// OnMessage 处理一条群组消息。
// 未命中模式的消息静默丢弃，其余失败只影响这一条信号。
func (e *Engine) OnMessage(ctx context.Context, event model.MessageEvent) error {
	e.buffer(event.SourceGroup, event.Text)

	sig := e.parser.Parse(event.Text, event.SourceGroup)
	if sig == nil {
		// 单条未命中时尝试跟同群组近期消息合并解析
		sig = e.correlateBuffered(event.SourceGroup)
		if sig == nil {
			return nil
		}
	}

	recordID := e.persistSignal(ctx, sig, event)

	if sig.Kind == model.KindTakeProfit {
		return e.handleTakeProfit(ctx, sig, recordID)
	}

	if err := e.parser.Validate(sig); err != nil {
		logger.Warn("信号校验不通过",
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("reason", err.Error()))
		e.markSignal(ctx, recordID, entity.SignalStatusIgnored, err.Error())
		return nil
	}

	return e.executeSignal(ctx, sig, recordID)
}

// executeSignal 完整信号的风控与执行
func (e *Engine) executeSignal(ctx context.Context, sig *model.TradingSignal, recordID uint) error {
	if !e.Enabled() {
		logger.Info("交易开关关闭，信号只记录不执行", logger.Pair("symbol", sig.Symbol))
		e.markSignal(ctx, recordID, entity.SignalStatusIgnored, "trading disabled")
		return nil
	}

	balance, err := e.client.GetBalance(ctx, "USDT")
	if err != nil {
		e.markSignal(ctx, recordID, entity.SignalStatusFailed, err.Error())
		return fmt.Errorf("查询余额失败: %w", err)
	}

	approved, reason, sizing := e.risk.Evaluate(sig, balance)
	if !approved {
		logger.Info("信号被风控拒绝",
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("reason", reason))
		e.markSignal(ctx, recordID, entity.SignalStatusIgnored, reason)
		e.notifier.Notify(ctx, notify.Event{
			Type: notify.EventSignalIgnored, Symbol: sig.Symbol, Reason: reason, Signal: sig,
		})
		return nil
	}
	// 信号本身不改动，建议保证金写在执行用的副本上
	execSig := sig
	if sig.Amount <= 0 {
		sized := *sig
		sized.Amount = sizing.SuggestedAmount
		execSig = &sized
	}

	result, err := e.client.ExecuteSignal(ctx, execSig)
	if err != nil {
		e.markSignal(ctx, recordID, entity.SignalStatusFailed, err.Error())
		e.notifier.Notify(ctx, notify.Event{
			Type: notify.EventSignalIgnored, Symbol: sig.Symbol, Reason: err.Error(), Signal: sig,
		})
		return fmt.Errorf("执行信号失败: %w", err)
	}

	e.risk.RegisterPosition(execSig, result.EntryPrice, result.FilledSize)
	e.monitor.TrackSignal(sig)
	e.rememberExecuted(sig)

	// 信号自带止盈价时登记监控目标
	if sig.TakeProfit > 0 {
		e.monitor.RegisterTarget(sig.Symbol, sig.TakeProfit, model.PosSideOf(sig.Side))
	}

	e.persistTrade(ctx, execSig, result)
	e.markSignal(ctx, recordID, entity.SignalStatusExecuted, "")

	e.notifier.Notify(ctx, notify.Event{
		Type: notify.EventOrderExecuted, Symbol: sig.Symbol, Signal: sig, OrderID: result.Order.OrderID,
	})
	if result.StopWarning != nil {
		// 仓位已开但保护止损没挂上，单独告警
		e.notifier.Notify(ctx, notify.Event{
			Type: notify.EventStopWarning, Symbol: sig.Symbol, Reason: result.StopWarning.Error(),
		})
	}
	return nil
}

// handleTakeProfit 独立止盈信号走归属推断后登记监控目标
func (e *Engine) handleTakeProfit(ctx context.Context, sig *model.TradingSignal, recordID uint) error {
	if err := e.monitor.ResolveTakeProfit(ctx, sig); err != nil {
		logger.Warnf("止盈信号无法登记: %v", err)
		e.markSignal(ctx, recordID, entity.SignalStatusIgnored, err.Error())
		return nil
	}
	e.markSignal(ctx, recordID, entity.SignalStatusExecuted, "")
	e.notifier.Notify(ctx, notify.Event{
		Type: notify.EventSignalReceived, Symbol: sig.Symbol, Signal: sig,
	})
	return nil
}

// buffer 记录消息并清理窗口外的旧消息
func (e *Engine) buffer(sourceGroup, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	msgs := e.buffers[sourceGroup]
	kept := msgs[:0]
	for _, msg := range msgs {
		if now.Sub(msg.at) < e.window {
			kept = append(kept, msg)
		}
	}
	kept = append(kept, bufferedMessage{text: text, at: now})
	if len(kept) > 10 {
		kept = kept[len(kept)-10:]
	}
	e.buffers[sourceGroup] = kept
}

// correlateBuffered 用同群组窗口内的消息做合并解析。
// 合并结果与最近已执行的信号同指纹时视为补充消息，不再重复下单。
func (e *Engine) correlateBuffered(sourceGroup string) *model.TradingSignal {
	e.mu.Lock()
	msgs := e.buffers[sourceGroup]
	texts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		texts = append(texts, msg.text)
	}
	last, hasLast := e.lastExecuted[sourceGroup]
	e.mu.Unlock()

	if len(texts) < 2 {
		return nil
	}
	sig := e.parser.ParseCorrelated(texts, sourceGroup)
	if sig == nil || !sig.IsComplete() {
		return nil
	}
	if hasLast && last.symbol == sig.Symbol && last.side == sig.Side && e.now().Sub(last.at) < e.window {
		logger.Debugf("合并信号与最近执行的 %s 相同，按补充消息忽略", sig.Symbol)
		return nil
	}
	return sig
}

func (e *Engine) rememberExecuted(sig *model.TradingSignal) {
	e.mu.Lock()
	e.lastExecuted[sig.SourceGroup] = executedKey{symbol: sig.Symbol, side: sig.Side, at: e.now()}
	e.mu.Unlock()
}

// persistSignal 信号落库，返回记录ID；库不可用时返回0并继续内存流程
func (e *Engine) persistSignal(ctx context.Context, sig *model.TradingSignal, event model.MessageEvent) uint {
	if e.signalDao == nil {
		return 0
	}
	record := &entity.SignalRecord{
		Symbol:      sig.Symbol,
		Side:        string(sig.Side),
		Kind:        string(sig.Kind),
		Amount:      sig.Amount,
		StopLoss:    sig.StopLoss,
		TakeProfit:  sig.TakeProfit,
		Leverage:    sig.Leverage,
		Confidence:  sig.Confidence,
		PatternName: sig.PatternName,
		SourceGroup: sig.SourceGroup,
		SenderName:  event.SenderName,
		RawMessage:  sig.RawMessage,
		Status:      entity.SignalStatusReceived,
	}
	if err := e.signalDao.PersistSignal(ctx, record); err != nil {
		logger.Errorf("信号落库失败: %v", err)
		return 0
	}
	return record.ID
}

func (e *Engine) markSignal(ctx context.Context, id uint, status, reason string) {
	if e.signalDao == nil || id == 0 {
		return
	}
	if err := e.signalDao.UpdateSignalStatus(ctx, id, status, reason); err != nil {
		logger.Errorf("更新信号状态失败: %v", err)
	}
}

func (e *Engine) persistTrade(ctx context.Context, sig *model.TradingSignal, result *model.ExecutionResult) {
	if e.tradeDao == nil {
		return
	}
	record := &entity.TradeRecord{
		Symbol:     sig.Symbol,
		Side:       string(sig.Side),
		OrderId:    result.Order.OrderID,
		Size:       result.FilledSize,
		EntryPrice: result.EntryPrice,
		Margin:     result.MarginAmount,
		Leverage:   result.Leverage,
	}
	if err := e.tradeDao.InsertTrade(ctx, record); err != nil {
		logger.Errorf("成交记录落库失败: %v", err)
	}
}
