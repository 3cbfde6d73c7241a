package session

import (
	"sync"

	"github.com/hitoshi/gamefinder/internal/model"
)

// Broker はセッショントークン単位のプロセス内変更通知。
// Publishは購読者を呼び出し元のgoroutineで同期的に呼ぶため、購読者はブロックしてはならない。
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(*model.Session)
}

// NewBroker はBrokerを生成する。
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[uint64]func(*model.Session))}
}

// Subscribe はトークンに対するセッション変更を購読し、購読解除関数を返す。
// 購読解除関数は何度呼んでも安全。
func (b *Broker) Subscribe(token string, fn func(*model.Session)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[token] == nil {
		b.subs[token] = make(map[uint64]func(*model.Session))
	}
	b.subs[token][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[token], id)
			if len(b.subs[token]) == 0 {
				delete(b.subs, token)
			}
		})
	}
}

// Publish はトークンの購読者に新しいセッションを通知する。nilはサインアウトを表す。
// 購読者には呼び出しごとに独立したコピーを渡す。
func (b *Broker) Publish(token string, s *model.Session) {
	b.mu.RLock()
	handlers := make([]func(*model.Session), 0, len(b.subs[token]))
	for _, fn := range b.subs[token] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(copySession(s))
	}
}

// Subscribers はトークンの購読者数を返す。
func (b *Broker) Subscribers(token string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[token])
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
