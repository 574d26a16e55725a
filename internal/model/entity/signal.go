package entity

import "time"

// 信号状态流转：received -> executed / ignored / failed
const (
	SignalStatusReceived = "received"
	SignalStatusExecuted = "executed"
	SignalStatusIgnored  = "ignored"
	SignalStatusFailed   = "failed"
)

type SignalRecord struct {
	ID          uint      `gorm:"column:id;primary_key;" json:"id"`
	Symbol      string    `gorm:"column:symbol" json:"symbol"`
	Side        string    `gorm:"column:side" json:"side"`
	Kind        string    `gorm:"column:kind" json:"kind"`
	Amount      float64   `gorm:"column:amount" json:"amount"`
	Leverage    int       `gorm:"column:leverage" json:"leverage"`
	StopLoss    float64   `gorm:"column:stop_loss" json:"stop_loss"`
	TakeProfit  float64   `gorm:"column:take_profit" json:"take_profit"`
	Confidence  float64   `gorm:"column:confidence" json:"confidence"`
	PatternName string    `gorm:"column:pattern_name" json:"pattern_name"`
	SourceGroup string    `gorm:"column:source_group" json:"source_group"`
	SenderName  string    `gorm:"column:sender_name" json:"sender_name"`
	RawMessage  string    `gorm:"column:raw_message;type:text" json:"raw_message"`
	Status      string    `gorm:"column:status" json:"status"`
	Reason      string    `gorm:"column:reason" json:"reason"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (SignalRecord) TableName() string {
	return "signal_record"
}
