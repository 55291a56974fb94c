package cache

import "time"

// RetentionPolicy 根据条目创建时间判断是否过期，默认使用 time.Now 作为时钟。
type RetentionPolicy struct {
	window time.Duration
	now    func() time.Time
}

// NewRetentionPolicy 构造固定窗口的过期策略。
func NewRetentionPolicy(window time.Duration) RetentionPolicy {
	return RetentionPolicy{
		window: window,
		now:    time.Now,
	}
}

// WithClock 返回使用指定时钟的副本，便于测试注入。
func (p RetentionPolicy) WithClock(now func() time.Time) RetentionPolicy {
	if now != nil {
		p.now = now
	}
	return p
}

// Window 返回保留窗口。
func (p RetentionPolicy) Window() time.Duration {
	return p.window
}

// Expired 当 now - CreatedAt 严格大于保留窗口时返回 true。
func (p RetentionPolicy) Expired(entry Entry) bool {
	return p.now().Sub(entry.CreatedAt) > p.window
}
