package dao

import (
	"context"
	"time"

	"signalflow/internal/model/entity"

	"gorm.io/gorm"
)

// SignalDao 信号落库接口
type SignalDao interface {
	// 保存一条收到的信号记录，返回记录ID
	PersistSignal(ctx context.Context, record *entity.SignalRecord) error
	// 更新信号的处理状态
	UpdateSignalStatus(ctx context.Context, id uint, status string, reason string) error
	// 获取指定来源群组最近的信号记录
	GetRecentBySource(ctx context.Context, sourceGroup string, limit int) ([]entity.SignalRecord, error)
	// 查询某时间之后收到的信号条数
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type signalDao struct {
	db *gorm.DB
}

func NewSignalDao(db *gorm.DB) SignalDao {
	return &signalDao{db: db}
}

func (d *signalDao) PersistSignal(ctx context.Context, record *entity.SignalRecord) error {
	return d.db.WithContext(ctx).Create(record).Error
}

func (d *signalDao) UpdateSignalStatus(ctx context.Context, id uint, status string, reason string) error {
	updates := map[string]interface{}{"status": status}
	if reason != "" {
		updates["reason"] = reason
	}
	return d.db.WithContext(ctx).Model(&entity.SignalRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (d *signalDao) GetRecentBySource(ctx context.Context, sourceGroup string, limit int) (records []entity.SignalRecord, err error) {
	err = d.db.WithContext(ctx).Model(&entity.SignalRecord{}).
		Where("source_group = ?", sourceGroup).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return
}

func (d *signalDao) CountSince(ctx context.Context, since time.Time) (count int64, err error) {
	err = d.db.WithContext(ctx).Model(&entity.SignalRecord{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return
}
