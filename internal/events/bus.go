package events

import (
	"sync"
)

// DefaultBufferSize は購読チャネルのバッファ数
const DefaultBufferSize = 256

// Bus はセッションイベントを配る pub/sub バス
type Bus struct {
	mu         sync.RWMutex
	subs       map[<-chan Event]chan Event // 受信側から送信側を引く
	bufferSize int
	closed     bool
}

// NewBus は新しいイベントバスを作成する
func NewBus() *Bus {
	return NewBusWithBuffer(DefaultBufferSize)
}

// NewBusWithBuffer は購読チャネルのバッファ数を指定してバスを作成する
func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[<-chan Event]chan Event),
		bufferSize: size,
	}
}

// Subscribe はイベントを受け取るチャネルを返す。
// Close 後に呼ぶと閉じたチャネルを返す。
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = ch
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じる
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub)
	}
}

// Publish は全購読者にイベントを送る。
// バッファが埋まっている購読者には届かない。
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount は購読者数を返す
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close は全購読チャネルを閉じる。以後の Publish は何もしない。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch, sub := range b.subs {
		close(sub)
		delete(b.subs, ch)
	}
}
