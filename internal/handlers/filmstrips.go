package handlers

import (
	"bytes"
	"image/jpeg"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/banya/internal/middleware"
	"github.com/thereayou/banya/internal/room"
	"github.com/thereayou/banya/internal/sublog"
)

// filmstripCacheAge — сколько клиенту можно кешировать кадры, в секундах
const filmstripCacheAge = 12

type filmstripKey struct {
	roomID   string
	identity string
}

// FilmstripStore хранит в памяти последнюю ленту кадров каждого участника.
// Данные привязаны к жизненному циклу участника: запись удаляется, когда
// в журнале комнаты появляется его personLeave.
type FilmstripStore struct {
	mu   sync.RWMutex
	data map[filmstripKey][]byte
}

// NewFilmstripStore создает пустое хранилище
func NewFilmstripStore() *FilmstripStore {
	return &FilmstripStore{data: make(map[filmstripKey][]byte)}
}

// Put сохраняет ленту кадров участника
func (s *FilmstripStore) Put(roomID, identity string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[filmstripKey{roomID: roomID, identity: identity}] = data
}

// Get возвращает ленту кадров участника
func (s *FilmstripStore) Get(roomID, identity string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[filmstripKey{roomID: roomID, identity: identity}]
	return data, ok
}

// Watch подписывает хранилище на журнал комнаты, чтобы убирать кадры
// ушедших участников
func (s *FilmstripStore) Watch(rm *room.Room) {
	roomID := rm.ID()
	rm.Watch(func(entry sublog.Entry) {
		if entry.Type != sublog.TypePersonLeave {
			return
		}
		payload, ok := entry.Payload.(room.LeavePayload)
		if !ok {
			return
		}
		s.mu.Lock()
		delete(s.data, filmstripKey{roomID: roomID, identity: payload.Identity})
		s.mu.Unlock()
	})
}

// UploadFilmstrip принимает JPEG ленту кадров участника и публикует
// обновлённый filmstamp через personChange
func (h *RoomHandler) UploadFilmstrip(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}

	sig := middleware.GetSig(c)
	person := rm.GetPerson(sig.Identity)
	if person == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you are not in this room, you can't publish a filmstrip yet"})
		return
	}

	if c.ContentType() != "image/jpeg" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "post body must be a JPEG"})
		return
	}

	data := middleware.SignedData(c)
	if len(data) < 16 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image data is too small in bytes"})
		return
	}
	if len(data) > h.cfg.FilmstripMaxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image data is too large in bytes"})
		return
	}

	imageConfig, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file data does not look like JPEG"})
		return
	}
	if imageConfig.Width != h.cfg.FilmstripSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filmstrip width is incorrect"})
		return
	}
	if imageConfig.Height != h.cfg.FilmstripSize*h.cfg.FilmstripFrames {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filmstrip height is incorrect"})
		return
	}

	h.filmstrips.Put(rm.ID(), sig.Identity, data)

	stamp := filmstamp(person.JoinedAt)
	if err := rm.PersonChange(sig.Identity, []room.Op{{Path: []string{"filmstamp"}, Value: stamp}}); err != nil {
		h.roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "filmstamp": stamp})
}

// GetFilmstrip отдает последнюю ленту кадров участника
func (h *RoomHandler) GetFilmstrip(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}

	personIdentity := c.Param("identity")
	if rm.GetPerson(personIdentity) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified person identity doesn't exist in this room"})
		return
	}

	data, ok := h.filmstrips.Get(rm.ID(), personIdentity)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no filmstrip data available for this user"})
		return
	}

	c.Header("Cache-Control", "max-age="+strconv.Itoa(filmstripCacheAge))
	c.Data(http.StatusOK, "image/jpeg", data)
}
