package pubsub

import (
	"context"
	"sync"
)

// Subscription 由 OnChange 返回，Unsubscribe 可重复调用
type Subscription interface {
	Unsubscribe()
}

// ChangeFeed 按用户过滤的变更事件源
type ChangeFeed interface {
	OnChange(userID int64, callback func(ChangeEvent)) Subscription
}

// Feed 进程内按用户分发变更事件
// Redis 订阅者收到的消息通过 Dispatch 扇出给本进程的监听者
type Feed struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int64]map[int]func(ChangeEvent)
}

func NewFeed() *Feed {
	return &Feed{
		listeners: make(map[int64]map[int]func(ChangeEvent)),
	}
}

// OnChange 注册用户维度的监听
func (f *Feed) OnChange(userID int64, callback func(ChangeEvent)) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	if f.listeners[userID] == nil {
		f.listeners[userID] = make(map[int]func(ChangeEvent))
	}
	f.listeners[userID][id] = callback

	return &feedSubscription{feed: f, userID: userID, id: id}
}

// Dispatch 把事件交给该用户的所有监听者
func (f *Feed) Dispatch(ev *ChangeEvent) {
	f.mu.RLock()
	conns := f.listeners[ev.UserID]
	callbacks := make([]func(ChangeEvent), 0, len(conns))
	for _, cb := range conns {
		callbacks = append(callbacks, cb)
	}
	f.mu.RUnlock()

	for _, cb := range callbacks {
		cb(*ev)
	}
}

// Notify 本地直接分发（无 Redis 时使用）
func (f *Feed) Notify(_ context.Context, ev *ChangeEvent) error {
	f.Dispatch(ev)
	return nil
}

// ListenerCount 当前监听者数量
func (f *Feed) ListenerCount(userID int64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners[userID])
}

func (f *Feed) remove(userID int64, id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if conns, ok := f.listeners[userID]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(f.listeners, userID)
		}
	}
}

type feedSubscription struct {
	feed   *Feed
	userID int64
	id     int
	once   sync.Once
}

func (s *feedSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.remove(s.userID, s.id)
	})
}
