package dao

import (
	"context"
	"time"

	"signalflow/internal/model/entity"

	"gorm.io/gorm"
)

// TradeDao 成交记录落库接口
type TradeDao interface {
	// 插入一条成交记录
	InsertTrade(ctx context.Context, record *entity.TradeRecord) error
	// 按成交回填某笔交易的平仓信息
	CloseTrade(ctx context.Context, orderID string, exitPrice, pnl float64, closedAt time.Time) error
	// 查询指定交易对最近的成交记录
	GetRecentBySymbol(ctx context.Context, symbol string, limit int) ([]entity.TradeRecord, error)
	// 统计某时间之后的累计盈亏
	SumPnlSince(ctx context.Context, since time.Time) (float64, error)
}

type tradeDao struct {
	db *gorm.DB
}

func NewTradeDao(db *gorm.DB) TradeDao {
	return &tradeDao{db: db}
}

func (d *tradeDao) InsertTrade(ctx context.Context, record *entity.TradeRecord) error {
	return d.db.WithContext(ctx).Create(record).Error
}

func (d *tradeDao) CloseTrade(ctx context.Context, orderID string, exitPrice, pnl float64, closedAt time.Time) error {
	return d.db.WithContext(ctx).Model(&entity.TradeRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"close_price": exitPrice,
			"pnl":         pnl,
			"closed_at":   closedAt,
		}).Error
}

func (d *tradeDao) GetRecentBySymbol(ctx context.Context, symbol string, limit int) (records []entity.TradeRecord, err error) {
	err = d.db.WithContext(ctx).Model(&entity.TradeRecord{}).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return
}

func (d *tradeDao) SumPnlSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := d.db.WithContext(ctx).Model(&entity.TradeRecord{}).
		Select("COALESCE(SUM(pnl), 0)").
		Where("created_at >= ?", since).
		Scan(&total).Error
	return total, err
}
