package stream

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/thereayou/banya/internal/room"
	"github.com/thereayou/banya/internal/sublog"
)

// Transport доставляет записи журнала одному подключению. Send вызывается
// синхронно из fan-out и не должен блокироваться: буферизованный транспорт
// при переполнении возвращает ошибку, и запись для этого клиента теряется.
type Transport interface {
	Send(entry sublog.Entry) error
}

// directed реализуют payload-ы с адресной доставкой
type directed interface {
	Recipient() string
}

type timerKey struct {
	roomID   string
	identity string
}

// Manager связывает потоковые подключения с комнатами и ведёт таймеры
// отложенного выхода: обрыв соединения не считается уходом, пока не
// истечёт льготный период без переподключения.
type Manager struct {
	mu     sync.Mutex
	grace  time.Duration
	timers map[timerKey]*time.Timer
}

// NewManager создает менеджер сессий с заданным льготным периодом
func NewManager(grace time.Duration) *Manager {
	return &Manager{
		grace:  grace,
		timers: make(map[timerKey]*time.Timer),
	}
}

// Session — одно живое потоковое подключение к комнате
type Session struct {
	manager  *Manager
	room     *room.Room
	identity string
	subID    int64

	once sync.Once
}

// Connect подключает транспорт к комнате: отменяет ожидающий таймер выхода,
// при необходимости выполняет вход, затем атомарно проигрывает пропущенную
// историю (или отправляет снапшот roomState) и подписывает транспорт.
func (m *Manager) Connect(rm *room.Room, identity string, attributes map[string]any, lastEventID string, t Transport) (*Session, error) {
	m.cancelTimer(rm.ID(), identity)

	if rm.GetPerson(identity) == nil {
		if _, err := rm.PersonJoin(identity, attributes); err != nil && !errors.Is(err, room.ErrAlreadyInRoom) {
			return nil, err
		}
	}

	forward := func(entry sublog.Entry) {
		if payload, ok := entry.Payload.(directed); ok {
			if to := payload.Recipient(); to != "" && to != identity {
				return
			}
		}
		if err := t.Send(entry); err != nil {
			log.Printf("stream: dropping entry %s for %s: %v", entry.ID, identity, err)
		}
	}

	subID := rm.Connect(lastEventID, forward)
	return &Session{manager: m, room: rm, identity: identity, subID: subID}, nil
}

// Disconnect обрабатывает обрыв соединения: первым делом снимает подписку,
// затем взводит таймер отложенного выхода. Если тот же участник успеет
// переподключиться, таймер будет отменён и personLeave не случится.
func (s *Session) Disconnect() {
	s.once.Do(func() {
		s.room.Detach(s.subID)
		s.manager.scheduleLeave(s.room, s.identity)
	})
}

// Leave — явный выход: подписка снимается, таймер отменяется,
// personLeave выполняется немедленно
func (s *Session) Leave() error {
	var err error
	s.once.Do(func() {
		s.room.Detach(s.subID)
		s.manager.cancelTimer(s.room.ID(), s.identity)
		err = s.room.PersonLeave(s.identity)
	})
	return err
}

// Identity возвращает идентификатор участника этой сессии
func (s *Session) Identity() string {
	return s.identity
}

// Leave — явный выход вне сессии (HTTP запрос leave): отменяет ожидающий
// таймер и немедленно выполняет personLeave
func (m *Manager) Leave(rm *room.Room, identity string) error {
	m.cancelTimer(rm.ID(), identity)
	return rm.PersonLeave(identity)
}

// scheduleLeave взводит таймер выхода. Таймер на пару (комната, участник)
// всегда один: новый заменяет и отменяет предыдущий. Сам выход выполняется
// под блокировкой менеджера: сработавший колбэк сначала убеждается, что его
// таймер всё ещё числится в таблице — Stop не останавливает уже запущенный
// колбэк, и без этой проверки отменённый таймер мог бы выгнать участника,
// который успел переподключиться.
func (m *Manager) scheduleLeave(rm *room.Room, identity string) {
	key := timerKey{roomID: rm.ID(), identity: identity}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.timers[key]; ok {
		prev.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.timers[key] != timer {
			return
		}
		delete(m.timers, key)

		if err := rm.PersonLeave(identity); err != nil && !errors.Is(err, room.ErrNotInRoom) {
			log.Printf("stream: deferred leave for %s failed: %v", identity, err)
		}
	})
	m.timers[key] = timer
}

func (m *Manager) cancelTimer(roomID, identity string) {
	key := timerKey{roomID: roomID, identity: identity}

	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[key]; ok {
		timer.Stop()
		delete(m.timers, key)
	}
}
