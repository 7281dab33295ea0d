package ratelimit

import (
	"context"
	"math"
	"time"
)

// Config 锁定参数
type Config struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	PollInterval    time.Duration
	// TrustedLocal 为 true 时始终放行并清除记录
	TrustedLocal bool
}

// Status 某个键当前的锁定状态
type Status struct {
	Locked      bool
	Attempts    int
	LockedUntil time.Time
	Remaining   time.Duration
}

// RemainingSeconds 向上取整的剩余秒数，用于倒计时展示
func (s Status) RemainingSeconds() int64 {
	if !s.Locked || s.Remaining <= 0 {
		return 0
	}
	return int64(math.Ceil(s.Remaining.Seconds()))
}

// Limiter 失败次数锁定状态机
// Unlocked(count, windowStart) -> Locked(lockedUntil) -> Unlocked
type Limiter struct {
	store Store
	cfg   Config
	now   func() time.Time
}

func NewLimiter(store Store, cfg Config) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

// WithClock 替换时钟（测试用）
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Key 按 action 和客户端区分
func Key(action, client string) string {
	return action + ":" + client
}

// Check 查询状态，锁定到期的记录在这里自动清除
func (l *Limiter) Check(ctx context.Context, key string) (Status, error) {
	if l.cfg.TrustedLocal {
		return Status{}, l.store.Clear(ctx, key)
	}

	rec, err := l.store.Get(ctx, key)
	if err != nil || rec == nil {
		return Status{}, err
	}

	now := l.now()
	if rec.LockedUntil != nil {
		if now.Before(*rec.LockedUntil) {
			return lockedStatus(rec, now), nil
		}
		return Status{}, l.store.Clear(ctx, key)
	}

	if l.windowExpired(rec, now) {
		return Status{}, nil
	}
	return Status{Attempts: rec.AttemptCount}, nil
}

// RecordFailure 记录一次失败，达到上限时进入锁定
// 锁定期内的调用不改变记录
func (l *Limiter) RecordFailure(ctx context.Context, key string) (Status, error) {
	if l.cfg.TrustedLocal {
		return Status{}, l.store.Clear(ctx, key)
	}

	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return Status{}, err
	}

	now := l.now()
	if rec != nil && rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		return lockedStatus(rec, now), nil
	}

	if rec == nil || rec.LockedUntil != nil || l.windowExpired(rec, now) {
		rec = &Record{AttemptCount: 1, FirstAttemptAt: now}
	} else {
		rec.AttemptCount++
	}

	ttl := rec.FirstAttemptAt.Add(l.cfg.LockoutDuration).Sub(now)
	if rec.AttemptCount >= l.cfg.MaxAttempts {
		until := now.Add(l.cfg.LockoutDuration)
		rec.LockedUntil = &until
		ttl = l.cfg.LockoutDuration
	}

	if err := l.store.Set(ctx, key, rec, ttl); err != nil {
		return Status{}, err
	}

	if rec.LockedUntil != nil {
		return lockedStatus(rec, now), nil
	}
	return Status{Attempts: rec.AttemptCount}, nil
}

// Reset 成功后清除记录
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Clear(ctx, key)
}

// Watch 按轮询间隔推送剩余时间，解锁后推送最后一次状态并关闭通道
func (l *Limiter) Watch(ctx context.Context, key string) <-chan Status {
	ch := make(chan Status, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(l.cfg.PollInterval)
		defer ticker.Stop()

		for {
			st, err := l.Check(ctx, key)
			if err != nil {
				return
			}

			select {
			case ch <- st:
			case <-ctx.Done():
				return
			}
			if !st.Locked {
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

func (l *Limiter) windowExpired(rec *Record, now time.Time) bool {
	return now.Sub(rec.FirstAttemptAt) >= l.cfg.LockoutDuration
}

func lockedStatus(rec *Record, now time.Time) Status {
	return Status{
		Locked:      true,
		Attempts:    rec.AttemptCount,
		LockedUntil: *rec.LockedUntil,
		Remaining:   rec.LockedUntil.Sub(now),
	}
}
