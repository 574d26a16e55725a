package notify

import (
	"context"
	"time"

	"signalflow/internal/model"
	"signalflow/pkg/kafka"
	"signalflow/pkg/logger"
)

// 事件类型
const (
	EventSignalReceived = "signal_received"
	EventSignalIgnored  = "signal_ignored"
	EventOrderExecuted  = "order_executed"
	EventStopWarning    = "stop_warning"
	EventTargetHit      = "target_hit"
)

// Event 对外广播的一条执行事件
type Event struct {
	Type      string               `json:"type"`
	Symbol    string               `json:"symbol,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Signal    *model.TradingSignal `json:"signal,omitempty"`
	OrderID   string               `json:"order_id,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Notifier 执行事件广播接口
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// KafkaNotifier 把事件投递到kafka主题，供下游审计与推送服务消费
type KafkaNotifier struct {
	producer kafka.ProducerService
}

func NewKafkaNotifier(producer kafka.ProducerService) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	// 通知失败不影响交易主流程
	if err := n.producer.Produce(ctx, []byte(event.Symbol), event); err != nil {
		logger.Errorf("事件投递kafka失败: %v", err)
	}
}

// LogNotifier 没配kafka时的兜底实现，只写日志
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event Event) {
	logger.Info("执行事件",
		logger.Pair("type", event.Type),
		logger.Pair("symbol", event.Symbol),
		logger.Pair("reason", event.Reason),
		logger.Pair("orderId", event.OrderID))
}
