package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/thereayou/banya/internal/config"
	"github.com/thereayou/banya/internal/database"
	"github.com/thereayou/banya/internal/handlers/dto"
	"github.com/thereayou/banya/internal/middleware"
	"github.com/thereayou/banya/internal/room"
	"github.com/thereayou/banya/internal/stream"
	"github.com/thereayou/banya/internal/sublog"
)

const streamQueueSize = 64

// RoomHandler обслуживает API комнат: списки, потоки событий, сообщения
type RoomHandler struct {
	registry   *room.Registry
	sessions   *stream.Manager
	db         *database.Database
	filmstrips *FilmstripStore
	cfg        *config.Config
}

// NewRoomHandler создает обработчик комнат
func NewRoomHandler(registry *room.Registry, sessions *stream.Manager, db *database.Database, filmstrips *FilmstripStore, cfg *config.Config) *RoomHandler {
	return &RoomHandler{
		registry:   registry,
		sessions:   sessions,
		db:         db,
		filmstrips: filmstrips,
		cfg:        cfg,
	}
}

// ListRooms возвращает открытую сводку обо всех комнатах
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms := h.registry.List()
	infos := make([]room.PublicInfo, len(rooms))
	for i, rm := range rooms {
		infos[i] = rm.PublicInfo()
	}
	c.JSON(http.StatusOK, infos)
}

// GetRoom возвращает открытую сводку об одной комнате
func (h *RoomHandler) GetRoom(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}
	c.JSON(http.StatusOK, rm.PublicInfo())
}

// streamProps — подписанные параметры подключения к потоку событий
type streamProps struct {
	Attributes map[string]any `json:"attributes"`
}

// EventStream — SSE поток событий комнаты. Подключение означает вход в
// комнату; переподключение с живым Last-Event-ID получает только
// пропущенные записи, остальные — полный снапшот roomState.
func (h *RoomHandler) EventStream(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}

	var props streamProps
	data := middleware.SignedData(c)
	if len(data) == 0 || json.Unmarshal(data, &props) != nil || props.Attributes == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attributes property required in query string"})
		return
	}

	sig := middleware.GetSig(c)
	queue := stream.NewQueue(streamQueueSize)
	session, err := h.sessions.Connect(rm, sig.Identity, props.Attributes, c.GetHeader("Last-Event-ID"), queue)
	if err != nil {
		h.roomError(c, err)
		return
	}
	defer session.Disconnect()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// подсказка клиенту, как быстро переподключаться
	c.Render(http.StatusOK, sse.Event{
		Retry: uint(h.cfg.ReconnectInterval.Milliseconds()),
	})

	c.Stream(func(w io.Writer) bool {
		select {
		case entry := <-queue.C:
			h.renderEntry(c, entry)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *RoomHandler) renderEntry(c *gin.Context, entry sublog.Entry) {
	event := sse.Event{Data: entry}
	if entry.Type == sublog.TypeRoomState {
		event.Event = string(sublog.TypeRoomState)
	} else {
		event.Id = entry.ID
	}
	c.Render(-1, event)
}

// Send публикует сообщение в комнату. Тело запроса — JSON объект
// сообщения; необязательное поле to делает сообщение адресным.
func (h *RoomHandler) Send(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}

	body := middleware.SignedData(c)
	var probe struct {
		To string `json:"to"`
	}
	if len(body) == 0 || json.Unmarshal(body, &probe) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body must be a JSON object"})
		return
	}

	sig := middleware.GetSig(c)
	if err := rm.Send(sig.Identity, probe.To, json.RawMessage(body)); err != nil {
		h.roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetAttributes обновляет атрибуты участника. Пути в updates задаются
// относительно attributes и не могут выйти за его пределы.
func (h *RoomHandler) SetAttributes(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}

	var req dto.SetAttributesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ops, err := room.OpsFromPairs(req.Updates)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig := middleware.GetSig(c)
	if err := rm.PersonChange(sig.Identity, room.PrefixOps(ops, "attributes")); err != nil {
		h.roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Leave — явный выход из комнаты, минуя льготный таймер
func (h *RoomHandler) Leave(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}

	var req dto.LeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Leave {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must include { leave: true } property"})
		return
	}

	sig := middleware.GetSig(c)
	if err := h.sessions.Leave(rm, sig.Identity); err != nil {
		h.roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetArchitecture — живая смена архитектуры комнаты, только для админов
func (h *RoomHandler) SetArchitecture(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}

	var req dto.ArchitectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig := middleware.GetSig(c)
	if _, err := h.db.VerifyBadge(sig.Identity, req.Badge, "admin"); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "a valid admin badge is required"})
		return
	}

	rm.SetArchitecture(req.Architecture, req.ArchitectureName)
	if err := h.db.AppendAudit("architecture", sig.Identity, rm.ID()+" -> "+req.ArchitectureName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record audit entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// roomError переводит ошибки комнаты в HTTP статусы
func (h *RoomHandler) roomError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, room.ErrRoomFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, room.ErrNotInRoom),
		errors.Is(err, room.ErrAlreadyInRoom),
		errors.Is(err, room.ErrAttributesTooLarge),
		errors.Is(err, room.ErrInvalidUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// filmstamp кодирует возраст участника в комнате с шагом 250мс
func filmstamp(joinedAt time.Time) string {
	ticks := time.Since(joinedAt).Milliseconds() / 250
	if ticks < 0 {
		ticks = 0
	}
	return strconv.FormatInt(ticks, 36)
}
