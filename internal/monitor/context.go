package monitor

import (
	"sync"
	"time"

	"signalflow/internal/model"
)

// RecentSignalContext 最近完整信号的有界环形记录。
// 只用于给不带币种的止盈消息找归属，不参与任何下单决策。
type RecentSignalContext struct {
	mu       sync.Mutex
	entries  []model.SignalContext
	capacity int
	window   time.Duration

	now func() time.Time
}

func NewRecentSignalContext(capacity int, window time.Duration) *RecentSignalContext {
	if capacity <= 0 {
		capacity = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &RecentSignalContext{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Add 记录一条完整信号，超出容量时淘汰最旧的
func (r *RecentSignalContext) Add(sig *model.TradingSignal) {
	if sig == nil || !sig.IsComplete() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, model.SignalContext{
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		SourceGroup: sig.SourceGroup,
		Timestamp:   r.now(),
	})
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
}

// Resolve 在时间窗口内找最匹配的信号：
// 同群组优先于跨群组，其次取最近写入的一条。
func (r *RecentSignalContext) Resolve(sourceGroup string) (model.SignalContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)

	// 从最新往回找同群组
	if sourceGroup != "" {
		for i := len(r.entries) - 1; i >= 0; i-- {
			e := r.entries[i]
			if e.Timestamp.Before(cutoff) {
				break
			}
			if e.SourceGroup == sourceGroup {
				return e, true
			}
		}
	}
	// 没有同群组时放宽到任意群组里最近的一条
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.Timestamp.Before(cutoff) {
			break
		}
		return e, true
	}
	return model.SignalContext{}, false
}

// Len 当前窗口内外的总记录条数
func (r *RecentSignalContext) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
