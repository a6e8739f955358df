// Package broker раздаёт найденные арбитражные возможности
// подписчикам. Хранит последний опубликованный список, сериализует
// его один раз за публикацию и рассылает по ограниченным очередям
// без блокировки: медленный подписчик теряет сообщения, а не
// тормозит сканер.
package broker

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rekwert/tesor/internal/scanner"
	"github.com/rekwert/tesor/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// subscriberBuffer - глубина очереди одного подписчика
	subscriberBuffer = 16
	// maxConsecutiveDrops - после стольких потерь подряд подписчик
	// считается мёртвым и отключается
	maxConsecutiveDrops = 8
)

// Subscriber - подписка на публикации. Канал отдаёт готовые
// JSON-сообщения и закрывается при отписке или остановке брокера.
type Subscriber struct {
	ch    chan []byte
	drops int // потери подряд, сбрасывается успешной доставкой
}

// C возвращает канал сообщений подписчика
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Broker - шина последних опубликованных возможностей
type Broker struct {
	mu      sync.RWMutex
	latest  []scanner.Opportunity
	payload []byte // последний список, сериализованный один раз
	subs    map[*Subscriber]struct{}
	closed  bool
	log     *utils.Logger
}

func New() *Broker {
	return &Broker{
		latest:  []scanner.Opportunity{},
		payload: []byte("[]"),
		subs:    make(map[*Subscriber]struct{}),
		log:     utils.L().WithComponent("broker"),
	}
}

// Publish заменяет текущий список и рассылает его подписчикам.
// Ошибка сериализации пропускает публикацию целиком: подписчики
// остаются на прежнем списке до следующего тика.
func (b *Broker) Publish(list []scanner.Opportunity) {
	if list == nil {
		list = []scanner.Opportunity{}
	}
	payload, err := json.Marshal(list)
	if err != nil {
		b.log.Error("opportunity list serialization failed", zap.Error(err))
		RecordPublishError()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.latest = list
	b.payload = payload

	for sub := range b.subs {
		select {
		case sub.ch <- payload:
			sub.drops = 0
		default:
			sub.drops++
			RecordDroppedMessage()
			b.log.Warn("slow subscriber, message dropped",
				zap.Int("consecutive_drops", sub.drops))
			if sub.drops >= maxConsecutiveDrops {
				b.log.Warn("subscriber too slow, unsubscribing",
					zap.Int("consecutive_drops", sub.drops))
				b.removeLocked(sub)
			}
		}
	}
	RecordPublish(len(list))
}

// Latest возвращает копию последнего опубликованного списка
func (b *Broker) Latest() []scanner.Opportunity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]scanner.Opportunity, len(b.latest))
	copy(out, b.latest)
	return out
}

// Subscribe регистрирует подписчика и сразу кладёт ему текущий
// список: клиент видит состояние рынка, не дожидаясь нового тика.
func (b *Broker) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	sub.ch <- b.payload
	b.subs[sub] = struct{}{}
	SetSubscribers(len(b.subs))
	return sub
}

// Unsubscribe снимает подписку и закрывает канал. Повторный вызов
// для уже снятой подписки безопасен.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Close закрывает каналы всех подписчиков и очищает реестр.
// Дальнейшие публикации игнорируются.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscriber]struct{})
	SetSubscribers(0)
	b.log.Info("broker closed")
}

func (b *Broker) removeLocked(sub *Subscriber) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	SetSubscribers(len(b.subs))
}
