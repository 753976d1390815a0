package room

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/thereayou/banya/internal/config"
	"github.com/thereayou/banya/internal/sublog"
)

const (
	defaultMaxPeople      = 20
	defaultAttributeLimit = 4096
)

// ChangePayload — содержимое записи personChange
type ChangePayload struct {
	Identity string `json:"identity"`
	Updates  []Op   `json:"updates"`
}

// LeavePayload — содержимое записи personLeave
type LeavePayload struct {
	Identity string `json:"identity"`
}

// MessagePayload — содержимое записи message. Если To непустой, сообщение
// адресное: транспортный слой доставит его только получателю.
type MessagePayload struct {
	From string          `json:"from"`
	To   string          `json:"to,omitempty"`
	Body json.RawMessage `json:"body"`
}

// Recipient возвращает адресата сообщения, пустая строка — broadcast
func (m MessagePayload) Recipient() string {
	return m.To
}

// ArchitecturePayload — содержимое записи roomChange
type ArchitecturePayload struct {
	Architecture     json.RawMessage `json:"architecture,omitempty"`
	ArchitectureName string          `json:"architectureName,omitempty"`
}

// PublicInfo — открытая сводка о комнате для списков
type PublicInfo struct {
	RoomID    string `json:"roomID"`
	HumanName string `json:"humanName"`
	MaxPeople int    `json:"maxPeople"`
	HeadCount int    `json:"headCount"`
}

// StateData — полный снапшот комнаты для первичной синхронизации клиента
type StateData struct {
	RoomID           string          `json:"roomID"`
	HumanName        string          `json:"humanName"`
	Architecture     json.RawMessage `json:"architecture"`
	ArchitectureName string          `json:"architectureName"`
	People           []*Person       `json:"people"`
	MaxPeople        int             `json:"maxPeople"`
	Links            json.RawMessage `json:"links,omitempty"`
}

// Room — авторитетная машина состояний одной комнаты. Вся мутация идёт
// через журнал: публичные методы валидируют намерение и добавляют ровно
// одну запись, а карта people обновляется только fold-обработчиком
// записей этого же журнала.
type Room struct {
	mu sync.RWMutex

	roomID           string
	humanName        string
	architecture     json.RawMessage
	architectureName string
	links            json.RawMessage
	maxPeople        int
	attributeLimit   int

	people map[string]*Person
	log    *sublog.Log
}

// NewRoom создает комнату из конфигурации и подписывает её собственный
// fold первым, чтобы состояние обновлялось раньше доставки клиентам
func NewRoom(cfg config.RoomConfig) *Room {
	maxPeople := cfg.MaxPeople
	if maxPeople <= 0 {
		maxPeople = defaultMaxPeople
	}
	attributeLimit := cfg.AttributeLimit
	if attributeLimit <= 0 {
		attributeLimit = defaultAttributeLimit
	}

	r := &Room{
		roomID:           cfg.RoomID,
		humanName:        cfg.HumanName,
		architecture:     cfg.Architecture,
		architectureName: cfg.ArchitectureName,
		links:            cfg.Links,
		maxPeople:        maxPeople,
		attributeLimit:   attributeLimit,
		people:           make(map[string]*Person),
		log:              sublog.NewLog(cfg.Expire.Std(), maxPeople*2),
	}
	r.log.Subscribe(r.processAppend)
	return r
}

// ID возвращает идентификатор комнаты
func (r *Room) ID() string {
	return r.roomID
}

// PersonJoin добавляет участника. Ошибки: ErrAlreadyInRoom, ErrRoomFull,
// ErrAttributesTooLarge. Журнал не изменяется при любой ошибке.
func (r *Room) PersonJoin(identity string, attributes map[string]any) (*Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.people[identity]; ok {
		return nil, ErrAlreadyInRoom
	}
	if len(r.people) >= r.maxPeople {
		return nil, ErrRoomFull
	}
	if err := r.checkAttributeSize(attributes); err != nil {
		return nil, err
	}

	person := &Person{
		Identity:   identity,
		Attributes: cloneMap(attributes),
		JoinedAt:   time.Now(),
	}
	r.log.Append(sublog.TypePersonJoin, person.Clone())
	return person, nil
}

// PersonChange применяет операции к записи участника. Операции сначала
// применяются к рабочей копии и проверяются на лимит размера; в журнал
// попадает только полностью валидное обновление.
func (r *Room) PersonChange(identity string, ops []Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	person, ok := r.people[identity]
	if !ok {
		return ErrNotInRoom
	}

	scratch := person.Clone()
	if err := applyOps(scratch, ops); err != nil {
		return err
	}
	if err := r.checkAttributeSize(scratch.Attributes); err != nil {
		return err
	}

	r.log.Append(sublog.TypePersonChange, ChangePayload{Identity: identity, Updates: ops})
	return nil
}

// PersonLeave удаляет участника из комнаты
func (r *Room) PersonLeave(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.people[identity]; !ok {
		return ErrNotInRoom
	}
	r.log.Append(sublog.TypePersonLeave, LeavePayload{Identity: identity})
	return nil
}

// Send публикует сообщение от участника. Адресная доставка (to)
// фильтруется на транспортном уровне, журнал хранит все сообщения.
func (r *Room) Send(identity, to string, body json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.people[identity]; !ok {
		return ErrNotInRoom
	}
	r.log.Append(sublog.TypeMessage, MessagePayload{From: identity, To: to, Body: body})
	return nil
}

// SetArchitecture публикует живую смену архитектуры комнаты
func (r *Room) SetArchitecture(architecture json.RawMessage, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Append(sublog.TypeRoomChange, ArchitecturePayload{
		Architecture:     architecture,
		ArchitectureName: name,
	})
}

// GetPerson возвращает копию записи участника или nil
func (r *Room) GetPerson(identity string) *Person {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.people[identity].Clone()
}

// PublicInfo возвращает открытую сводку для списков комнат
func (r *Room) PublicInfo() PublicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return PublicInfo{
		RoomID:    r.roomID,
		HumanName: r.humanName,
		MaxPeople: r.maxPeople,
		HeadCount: len(r.people),
	}
}

// StateData возвращает полный снапшот комнаты
func (r *Room) StateData() StateData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stateDataLocked()
}

func (r *Room) stateDataLocked() StateData {
	people := make([]*Person, 0, len(r.people))
	for _, person := range r.people {
		people = append(people, person.Clone())
	}
	sort.Slice(people, func(i, j int) bool {
		if !people[i].JoinedAt.Equal(people[j].JoinedAt) {
			return people[i].JoinedAt.Before(people[j].JoinedAt)
		}
		return people[i].Identity < people[j].Identity
	})

	return StateData{
		RoomID:           r.roomID,
		HumanName:        r.humanName,
		Architecture:     r.architecture,
		ArchitectureName: r.architectureName,
		People:           people,
		MaxPeople:        r.maxPeople,
		Links:            r.links,
	}
}

// Connect атомарно подключает обработчик к журналу комнаты: если курсор
// lastEventID ещё жив, через обработчик проигрываются пропущенные записи,
// иначе — синтетическая запись roomState с полным снапшотом. Подписка
// оформляется под той же блокировкой, поэтому между снапшотом и первой
// живой записью не может потеряться ни одной записи.
func (r *Room) Connect(lastEventID string, h sublog.Handler) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	replayed := false
	if lastEventID != "" {
		if entries, ok := r.log.Since(lastEventID); ok {
			for _, entry := range entries {
				h(entry)
			}
			replayed = true
		}
	}
	if !replayed {
		h(sublog.Entry{
			Type:      sublog.TypeRoomState,
			Payload:   r.stateDataLocked(),
			CreatedAt: time.Now(),
		})
	}
	return r.log.Subscribe(h)
}

// Watch подписывает обработчик без проигрывания истории
func (r *Room) Watch(h sublog.Handler) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Subscribe(h)
}

// Detach снимает подписку, оформленную через Connect или Watch
func (r *Room) Detach(subID int64) {
	r.log.Unsubscribe(subID)
}

func (r *Room) checkAttributeSize(attributes map[string]any) error {
	data, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	if len(data) > r.attributeLimit {
		return ErrAttributesTooLarge
	}
	return nil
}

// processAppend — fold журнала: единственный код, мутирующий карту people.
// Вызывается синхронно из Append под блокировкой комнаты, поэтому сам
// блокировок не берёт.
func (r *Room) processAppend(entry sublog.Entry) {
	switch entry.Type {
	case sublog.TypePersonJoin:
		person, ok := entry.Payload.(*Person)
		if !ok {
			log.Printf("room %s: personJoin entry with unexpected payload %T", r.roomID, entry.Payload)
			return
		}
		if _, exists := r.people[person.Identity]; !exists {
			r.people[person.Identity] = person.Clone()
		}

	case sublog.TypePersonLeave:
		payload, ok := entry.Payload.(LeavePayload)
		if !ok {
			log.Printf("room %s: personLeave entry with unexpected payload %T", r.roomID, entry.Payload)
			return
		}
		delete(r.people, payload.Identity)

	case sublog.TypePersonChange:
		payload, ok := entry.Payload.(ChangePayload)
		if !ok {
			log.Printf("room %s: personChange entry with unexpected payload %T", r.roomID, entry.Payload)
			return
		}
		person, exists := r.people[payload.Identity]
		if !exists {
			// нарушение инварианта: запись ссылается на отсутствующего
			// участника; пропускаем её, комната продолжает работать
			log.Printf("room %s: personChange for unknown identity %s, entry skipped", r.roomID, payload.Identity)
			return
		}
		if err := applyOps(person, payload.Updates); err != nil {
			log.Printf("room %s: personChange fold failed for %s: %v", r.roomID, payload.Identity, err)
		}

	case sublog.TypeRoomChange:
		payload, ok := entry.Payload.(ArchitecturePayload)
		if !ok {
			log.Printf("room %s: roomChange entry with unexpected payload %T", r.roomID, entry.Payload)
			return
		}
		if len(payload.Architecture) > 0 {
			r.architecture = payload.Architecture
		}
		if payload.ArchitectureName != "" {
			r.architectureName = payload.ArchitectureName
		}

	case sublog.TypeMessage:
		// сообщения не меняют состояние комнаты
	}
}
