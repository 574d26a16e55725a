package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"signalflow/conf"
	"signalflow/internal/model"
	"signalflow/pkg/logger"

	"github.com/spf13/cast"
)

// 基础喊单行：#币种 市價多/空
var baseSignalRe = regexp.MustCompile(`#(\w+)\s+市[價价]([多空])`)

// 止盈行：第一止盈: 0.367（第X级 + 价格）
var takeProfitRe = regexp.MustCompile(`第([一二三四五六七八九十])止[盈贏][:：]?\s*(\d+(?:\.\d+)?)`)

// 止损行：止损: 0.398
var stopLossRe = regexp.MustCompile(`止[损損][:：]?\s*(\d+(?:\.\d+)?)`)

// 杠杆：20x / 20X / 20倍
var leverageRe = regexp.MustCompile(`(\d+)[xX倍]`)

// 金额：市價多 100U / 100USDT
var amountRe = regexp.MustCompile(`市[價价][多空]\s+(\d+(?:\.\d+)?)\s*[Uu](?:SDT)?`)

var hashSymbolRe = regexp.MustCompile(`#(\w+)`)

var chineseOrdinals = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5,
	"六": 6, "七": 7, "八": 8, "九": 9, "十": 10,
}

type patternFunc func(p *Parser, m []string, message string, confidence float64) *model.TradingSignal

// pattern 单条识别模式，按置信度从高到低依次尝试，首个命中即返回
type pattern struct {
	name       string
	re         *regexp.Regexp
	confidence float64
	parse      patternFunc
}

// Parser 把群组里的自由文本消息解析成结构化交易信号
type Parser struct {
	defaultAmount   float64
	defaultLeverage int
	patterns        []pattern
	aliases         map[string]string
}

func NewParser(tc conf.TradingConfig) *Parser {
	p := &Parser{
		defaultAmount:   tc.DefaultAmount,
		defaultLeverage: tc.DefaultLeverage,
		aliases:         symbolAliases(),
	}
	p.patterns = []pattern{
		{
			// 一条消息带全部信息：#TREE 市價空 ... 第一止盈: ... 止损: ...
			name:       "complete_signal",
			re:         regexp.MustCompile(`#(\w+)\s+市[價价]([多空])[\s\S]*?止[盈贏损損]`),
			confidence: 0.95,
			parse:      parseCompleteSignal,
		},
		{
			// 带金额：#BTC 市價多 100U
			name:       "market_with_amount",
			re:         regexp.MustCompile(`#(\w+)\s+市[價价]([多空])\s+(\d+(?:\.\d+)?)\s*[Uu](?:SDT)?`),
			confidence: 0.93,
			parse:      parseMarketWithAmount,
		},
		{
			// 基础市价信号：#WLFI 市價空
			name:       "basic_market_signal",
			re:         baseSignalRe,
			confidence: 0.90,
			parse:      parseBasicMarket,
		},
		{
			// 独立止盈消息，无币种时symbol留空，由上游结合近期信号上下文推断
			name:       "take_profit_only",
			re:         takeProfitRe,
			confidence: 0.88,
			parse:      parseTakeProfitOnly,
		},
		{
			// 英文格式：#BTC long @45000
			name:       "english_signal",
			re:         regexp.MustCompile(`(?i)#(\w+)\s+(long|short|buy|sell)\s*(?:@\s*(\d+(?:\.\d+)?))?`),
			confidence: 0.80,
			parse:      parseEnglish,
		},
	}
	// 保证按置信度降序匹配
	sort.SliceStable(p.patterns, func(i, j int) bool {
		return p.patterns[i].confidence > p.patterns[j].confidence
	})
	return p
}

// Parse 解析单条消息。未命中任何模式时返回nil，不视为错误。
func (p *Parser) Parse(message string, sourceGroup string) *model.TradingSignal {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}

	for _, pt := range p.patterns {
		m := pt.re.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		sig := pt.parse(p, m, message, pt.confidence)
		if sig == nil {
			// 命中但不能独立成单（例如孤立止损行），继续尝试
			continue
		}
		sig.PatternName = pt.name
		sig.SourceGroup = sourceGroup
		sig.RawMessage = message
		sig.ParsedAt = time.Now()
		logger.Info("解析到信号",
			logger.Pair("pattern", pt.name),
			logger.Pair("symbol", sig.Symbol),
			logger.Pair("side", sig.Side))
		return sig
	}
	logger.Debugf("消息未命中任何信号模式: %s", message)
	return nil
}

// ParseCorrelated 把同一上下文窗口内的多条消息合并解析：
// 基础喊单行 + 若干止盈行 + 止损行 可能分散在不同消息里。
func (p *Parser) ParseCorrelated(messages []string, sourceGroup string) *model.TradingSignal {
	if len(messages) == 0 {
		return nil
	}
	combined := strings.Join(messages, "\n")

	var base *model.TradingSignal
	var tpLevels []tpLevel
	var stopLoss float64

	for _, msg := range messages {
		if base == nil {
			if m := baseSignalRe.FindStringSubmatch(msg); m != nil {
				base = &model.TradingSignal{
					Symbol:     p.NormalizeSymbol(m[1]),
					Side:       sideOfChinese(m[2]),
					Kind:       model.KindMarket,
					Amount:     p.defaultAmount,
					Leverage:   p.extractLeverage(msg),
					Confidence: 0.90,
				}
			}
		}
		for _, tm := range takeProfitRe.FindAllStringSubmatch(msg, -1) {
			price := cast.ToFloat64(tm[2])
			if price > 0 {
				tpLevels = append(tpLevels, tpLevel{ordinal: chineseOrdinals[tm[1]], price: price})
			}
		}
		if stopLoss == 0 {
			if sm := stopLossRe.FindStringSubmatch(msg); sm != nil {
				stopLoss = cast.ToFloat64(sm[1])
			}
		}
	}

	if base == nil {
		// 没有基础喊单行，退回单条解析（可能是独立止盈）
		return p.Parse(combined, sourceGroup)
	}

	if len(tpLevels) > 0 {
		sort.SliceStable(tpLevels, func(i, j int) bool { return tpLevels[i].ordinal < tpLevels[j].ordinal })
		for _, lv := range tpLevels {
			base.TakeProfitLevels = append(base.TakeProfitLevels, lv.price)
		}
		// 主要止盈取最低级别
		base.TakeProfit = tpLevels[0].price
	}
	base.StopLoss = stopLoss

	switch {
	case len(tpLevels) > 0 && stopLoss > 0:
		base.Confidence = 0.98
	case len(tpLevels) > 0 || stopLoss > 0:
		base.Confidence = 0.95
	}
	base.PatternName = "multi_message_signal"
	base.SourceGroup = sourceGroup
	base.RawMessage = combined
	base.ParsedAt = time.Now()
	return base
}

type tpLevel struct {
	ordinal int
	price   float64
}

// Validate 校验信号是否可以进入下单流程，不通过时返回具体原因
func (p *Parser) Validate(sig *model.TradingSignal) error {
	if sig == nil {
		return fmt.Errorf("信号为空")
	}
	if sig.Kind != model.KindTakeProfit && sig.Symbol == "" {
		return fmt.Errorf("缺少交易对")
	}
	if sig.Leverage < 1 || sig.Leverage > 125 {
		return fmt.Errorf("杠杆倍数 %d 超出 [1,125]", sig.Leverage)
	}
	if sig.Price < 0 || sig.StopLoss < 0 || sig.TakeProfit < 0 {
		return fmt.Errorf("价格字段不能为负")
	}
	if sig.Kind == model.KindLimit && sig.Price == 0 {
		return fmt.Errorf("限价单缺少价格")
	}
	// 止盈止损须在入场价的正确一侧：做多止盈>止损，做空止盈<止损
	if sig.StopLoss > 0 && sig.TakeProfit > 0 {
		if sig.Side == model.Buy && sig.TakeProfit <= sig.StopLoss {
			return fmt.Errorf("做多信号止盈(%v)应高于止损(%v)", sig.TakeProfit, sig.StopLoss)
		}
		if sig.Side == model.Sell && sig.TakeProfit >= sig.StopLoss {
			return fmt.Errorf("做空信号止盈(%v)应低于止损(%v)", sig.TakeProfit, sig.StopLoss)
		}
	}
	return nil
}

// NormalizeSymbol 统一交易对写法：大写、套用别名表、补全USDT后缀
func (p *Parser) NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if full, ok := p.aliases[symbol]; ok {
		return full
	}
	if strings.HasSuffix(symbol, "USDT") {
		return symbol
	}
	return symbol + "USDT"
}

func (p *Parser) extractLeverage(message string) int {
	m := leverageRe.FindStringSubmatch(message)
	if m == nil {
		return p.defaultLeverage
	}
	lv := cast.ToInt(m[1])
	if lv < 1 {
		return 1
	}
	if lv > 125 {
		return 125
	}
	return lv
}

func parseBasicMarket(p *Parser, m []string, message string, confidence float64) *model.TradingSignal {
	return &model.TradingSignal{
		Symbol:     p.NormalizeSymbol(m[1]),
		Side:       sideOfChinese(m[2]),
		Kind:       model.KindMarket,
		Amount:     p.defaultAmount,
		Leverage:   p.extractLeverage(message),
		Confidence: confidence,
	}
}

func parseMarketWithAmount(p *Parser, m []string, message string, confidence float64) *model.TradingSignal {
	sig := parseBasicMarket(p, m, message, confidence)
	if amount := cast.ToFloat64(m[3]); amount > 0 {
		sig.Amount = amount
	}
	return sig
}

func parseCompleteSignal(p *Parser, m []string, message string, confidence float64) *model.TradingSignal {
	sig := parseBasicMarket(p, m, message, confidence)

	if am := amountRe.FindStringSubmatch(message); am != nil {
		if amount := cast.ToFloat64(am[1]); amount > 0 {
			sig.Amount = amount
		}
	}

	var levels []tpLevel
	for _, tm := range takeProfitRe.FindAllStringSubmatch(message, -1) {
		price := cast.ToFloat64(tm[2])
		if price > 0 {
			levels = append(levels, tpLevel{ordinal: chineseOrdinals[tm[1]], price: price})
		}
	}
	if len(levels) > 0 {
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].ordinal < levels[j].ordinal })
		for _, lv := range levels {
			sig.TakeProfitLevels = append(sig.TakeProfitLevels, lv.price)
		}
		sig.TakeProfit = levels[0].price
	}
	if sm := stopLossRe.FindStringSubmatch(message); sm != nil {
		sig.StopLoss = cast.ToFloat64(sm[1])
	}
	return sig
}

// 独立止盈消息大多不带币种，留空交给上游按近期信号上下文解析
func parseTakeProfitOnly(p *Parser, m []string, message string, confidence float64) *model.TradingSignal {
	price := cast.ToFloat64(m[2])
	if price <= 0 {
		return nil
	}
	symbol := ""
	if sm := hashSymbolRe.FindStringSubmatch(message); sm != nil {
		symbol = p.NormalizeSymbol(sm[1])
	}
	return &model.TradingSignal{
		Symbol:     symbol,
		Kind:       model.KindTakeProfit,
		TakeProfit: price,
		Leverage:   p.defaultLeverage,
		Confidence: confidence,
	}
}

func parseEnglish(p *Parser, m []string, message string, confidence float64) *model.TradingSignal {
	side := model.Buy
	switch strings.ToLower(m[2]) {
	case "short", "sell":
		side = model.Sell
	}
	sig := &model.TradingSignal{
		Symbol:     p.NormalizeSymbol(m[1]),
		Side:       side,
		Kind:       model.KindMarket,
		Amount:     p.defaultAmount,
		Leverage:   p.extractLeverage(message),
		Confidence: confidence,
	}
	if len(m) > 3 && m[3] != "" {
		sig.Price = cast.ToFloat64(m[3])
		sig.Kind = model.KindLimit
	}
	return sig
}

func sideOfChinese(direction string) model.OrderSide {
	if direction == "多" {
		return model.Buy
	}
	return model.Sell
}
