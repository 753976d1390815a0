package sublog

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryType определяет типы записей журнала
type EntryType string

const (
	TypePersonJoin   EntryType = "personJoin"
	TypePersonLeave  EntryType = "personLeave"
	TypePersonChange EntryType = "personChange"
	TypeRoomChange   EntryType = "roomChange"
	TypeMessage      EntryType = "message"

	// TypeRoomState никогда не добавляется в журнал — это синтетическая
	// запись, которую получает подключающийся клиент вместо истории
	TypeRoomState EntryType = "roomState"
)

// Entry — одна неизменяемая запись журнала
type Entry struct {
	ID        string    `json:"id,omitempty"`
	Type      EntryType `json:"type"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Handler получает каждую новую запись журнала.
// Вызывается синхронно внутри Append, поэтому не должен блокироваться
// и не должен обращаться обратно к журналу или комнате.
type Handler func(Entry)

type subscriber struct {
	id int64
	fn Handler
}

// Log — append-only журнал с ограничением по времени жизни записей.
// Записи старше expire удаляются при каждом Append, с головы, по порядку.
type Log struct {
	mu             sync.RWMutex
	entries        []Entry
	subs           []subscriber
	nextSubID      int64
	expire         time.Duration
	maxSubscribers int
}

// NewLog создает журнал. maxSubscribers — мягкий потолок: при превышении
// пишется предупреждение в лог, подписка не отклоняется.
func NewLog(expire time.Duration, maxSubscribers int) *Log {
	if expire <= 0 {
		expire = time.Minute
	}
	return &Log{
		expire:         expire,
		maxSubscribers: maxSubscribers,
	}
}

// Append добавляет запись в хвост журнала, синхронно рассылает её всем
// подписчикам в порядке подписки и затем удаляет просроченные записи.
// Append никогда не завершается ошибкой — вся валидация происходит до вызова.
func (l *Log) Append(entryType EntryType, payload any) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Type:      entryType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	l.entries = append(l.entries, entry)

	for _, sub := range l.subs {
		sub.fn(entry)
	}

	l.garbageCollect()
	return entry
}

// Since возвращает все записи строго после записи с данным id.
// Если id не найден (просрочен или никогда не существовал), возвращает
// ok=false — вызывающий должен отправить полный снапшот, а не «нет новых».
func (l *Log) Since(id string) ([]Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.indexOf(id)
	if idx == -1 {
		return nil, false
	}
	rest := make([]Entry, len(l.entries)-idx-1)
	copy(rest, l.entries[idx+1:])
	return rest, true
}

// Has проверяет, есть ли запись с данным id в журнале
func (l *Log) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.indexOf(id) != -1
}

// Len возвращает текущее количество записей
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe регистрирует обработчик и возвращает id подписки
func (l *Log) Subscribe(fn Handler) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSubID++
	l.subs = append(l.subs, subscriber{id: l.nextSubID, fn: fn})
	if l.maxSubscribers > 0 && len(l.subs) > l.maxSubscribers {
		log.Printf("sublog: subscriber count %d exceeds soft limit %d", len(l.subs), l.maxSubscribers)
	}
	return l.nextSubID
}

// Unsubscribe удаляет подписку по id
func (l *Log) Unsubscribe(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, sub := range l.subs {
		if sub.id == id {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *Log) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, entry := range l.entries {
		if entry.ID == id {
			return i
		}
	}
	return -1
}

// garbageCollect удаляет просроченные записи с головы журнала.
// Вызывается под блокировкой из Append.
func (l *Log) garbageCollect() {
	cutoff := time.Now().Add(-l.expire)
	n := 0
	for n < len(l.entries) && l.entries[n].CreatedAt.Before(cutoff) {
		n++
	}
	if n > 0 {
		l.entries = append([]Entry(nil), l.entries[n:]...)
	}
}
