package eventbus

import (
	"sync"
	"time"
)

// DefaultQueueSize 每订阅者默认队列容量
const DefaultQueueSize = 1024

// Filter 订阅过滤器。Kinds 为空或含 "*" 表示全部类型；
// Symbols 为空表示全部标的（无标的的事件总是匹配空 Symbols）。
type Filter struct {
	Kinds   []Kind
	Symbols []string
}

func (f Filter) match(e Event) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == KindAll || k == e.EventKind() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Symbols) > 0 {
		sym := e.EventSymbol()
		if sym == "" {
			return true
		}
		for _, s := range f.Symbols {
			if s == sym {
				return true
			}
		}
		return false
	}
	return true
}

// Subscription 一个订阅者的有界事件队列。
// 通道关闭表示订阅终止；若最后一条事件是 OverflowEvent，
// 说明订阅者因消费过慢被总线剔除。
type Subscription struct {
	id     uint64
	filter Filter

	mu        sync.Mutex
	ch        chan Event
	delivered uint64
	dropped   bool
	closed    bool
}

// C 返回事件通道
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped 返回订阅者是否因队列溢出被剔除
func (s *Subscription) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// offer 尝试入队。容量始终为用户队列大小 +1，
// 保留最后一个槽位给 OVERFLOW 终止事件，因此发送永不阻塞。
// 返回 false 表示订阅者已被剔除，应从总线移除。
func (s *Subscription) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if len(s.ch) >= cap(s.ch)-1 {
		s.dropped = true
		s.ch <- OverflowEvent{Delivered: s.delivered, Ts: time.Now()}
		close(s.ch)
		s.closed = true
		return false
	}
	s.ch <- e
	s.delivered++
	return true
}

func (s *Subscription) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// Bus 进程内事件总线
type Bus struct {
	queueSize int
	// 订阅者溢出被剔除时的回调（可选，用于指标上报）
	onDrop func()

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Option 总线可选配置
type Option func(*Bus)

// WithQueueSize 设置每订阅者队列容量
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithDropCallback 设置订阅者被剔除时的回调
func WithDropCallback(fn func()) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// New 创建事件总线
func New(opts ...Option) *Bus {
	b := &Bus{
		queueSize: DefaultQueueSize,
		subs:      make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe 注册订阅者，只收到注册之后发布的事件
func (b *Bus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan Event, b.queueSize+1),
	}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe 注销订阅者并关闭其通道，重复调用无害
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.terminate()
}

// Publish 向所有匹配的订阅者投递事件。调用方永不阻塞：
// 队列已满的订阅者收到 OVERFLOW 终止事件后被剔除，其余订阅者不受影响。
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	var overflowed []*Subscription
	for _, sub := range b.subs {
		if !sub.filter.match(e) {
			continue
		}
		if !sub.offer(e) {
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.RUnlock()

	if len(overflowed) > 0 {
		b.mu.Lock()
		for _, sub := range overflowed {
			delete(b.subs, sub.id)
		}
		b.mu.Unlock()
		if b.onDrop != nil {
			for range overflowed {
				b.onDrop()
			}
		}
	}
}

// SubscriberCount 当前订阅者数量
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭总线并终止全部订阅
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = map[uint64]*Subscription{}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.terminate()
	}
}
