package room

import (
	"sort"

	"github.com/thereayou/banya/internal/config"
)

// Registry — процессный реестр комнат, заполняется один раз при старте
type Registry struct {
	rooms map[string]*Room
}

// NewRegistry строит реестр из конфигураций комнат
func NewRegistry(configs []config.RoomConfig) *Registry {
	rooms := make(map[string]*Room, len(configs))
	for _, cfg := range configs {
		rooms[cfg.RoomID] = NewRoom(cfg)
	}
	return &Registry{rooms: rooms}
}

// Get возвращает комнату по идентификатору
func (r *Registry) Get(roomID string) (*Room, bool) {
	room, ok := r.rooms[roomID]
	return room, ok
}

// List возвращает все комнаты, отсортированные по идентификатору
func (r *Registry) List() []*Room {
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ID() < rooms[j].ID()
	})
	return rooms
}
