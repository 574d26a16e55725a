package entity

import "time"

type TradeRecord struct {
	ID          uint      `gorm:"column:id;primary_key;" json:"id"`
	OrderId     string    `gorm:"column:order_id" json:"order_id"`
	Symbol      string    `gorm:"column:symbol" json:"symbol"`
	Side        string    `gorm:"column:side" json:"side"`
	Size        float64   `gorm:"column:size" json:"size"`
	Margin      float64   `gorm:"column:margin" json:"margin"`
	Leverage    int       `gorm:"column:leverage" json:"leverage"`
	EntryPrice  float64   `gorm:"column:entry_price" json:"entry_price"`
	ClosePrice  float64   `gorm:"column:close_price" json:"close_price"`
	Pnl         float64   `gorm:"column:pnl" json:"pnl"`
	CloseReason string    `gorm:"column:close_reason" json:"close_reason"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	ClosedAt    time.Time `gorm:"column:closed_at" json:"closed_at"`
}

func (TradeRecord) TableName() string {
	return "trade_record"
}
