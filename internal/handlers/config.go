package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/banya/internal/bans"
	"github.com/thereayou/banya/internal/database"
	"github.com/thereayou/banya/internal/handlers/dto"
	"github.com/thereayou/banya/internal/middleware"
)

// ConfigHandler обслуживает административный API: реестр полномочий и баны.
// Все операции требуют валидную подпись и бейдж; мутации попадают в журнал
// административных действий.
type ConfigHandler struct {
	db   *database.Database
	bans *bans.Registry
}

// NewConfigHandler создает административный обработчик
func NewConfigHandler(db *database.Database, bansRegistry *bans.Registry) *ConfigHandler {
	return &ConfigHandler{db: db, bans: bansRegistry}
}

// ListAuthorities возвращает зарегистрированные ключи полномочий
func (h *ConfigHandler) ListAuthorities(c *gin.Context) {
	if !h.requireBadge(c, "admin") {
		return
	}

	authorities, err := h.db.ListAuthorities()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list authorities"})
		return
	}
	c.JSON(http.StatusOK, authorities)
}

// CreateAuthority регистрирует ключ бейджа с ролью
func (h *ConfigHandler) CreateAuthority(c *gin.Context) {
	var req dto.CreateAuthorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig := middleware.GetSig(c)
	if _, err := h.db.VerifyBadge(sig.Identity, req.Badge, "admin"); err != nil {
		c.Status(http.StatusForbidden)
		return
	}

	key := c.Param("key")
	if err := h.db.SetAuthority(key, req.Role, req.Note); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store authority"})
		return
	}
	h.audit("authority.create", sig.Identity, key+" role="+req.Role)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteAuthority удаляет ключ из реестра полномочий
func (h *ConfigHandler) DeleteAuthority(c *gin.Context) {
	if !h.requireBadge(c, "admin") {
		return
	}

	key := c.Param("key")
	if err := h.db.DeleteAuthority(key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete authority"})
		return
	}
	h.audit("authority.delete", middleware.GetSig(c).Identity, key)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// VerifyBadge проверяет бейдж и возвращает информацию о нём
func (h *ConfigHandler) VerifyBadge(c *gin.Context) {
	var req dto.BadgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig := middleware.GetSig(c)
	authority, err := h.db.VerifyBadge(sig.Identity, req.Badge)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "info": authority})
}

// ListBans возвращает действующие баны, доступно любой роли
func (h *ConfigHandler) ListBans(c *gin.Context) {
	if !h.requireBadge(c) {
		return
	}

	list, err := h.bans.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bans"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateBan создает бан на идентификатор участника
func (h *ConfigHandler) CreateBan(c *gin.Context) {
	var req dto.CreateBanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig := middleware.GetSig(c)
	authority, err := h.db.VerifyBadge(sig.Identity, req.Badge)
	if err != nil {
		c.Status(http.StatusForbidden)
		return
	}

	duration, err := time.ParseDuration(req.Duration)
	if err != nil || duration <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ban duration"})
		return
	}

	ban, err := h.bans.Ban(c.Request.Context(), req.TargetIdentity, req.Reason, authority.Identity, duration)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store ban"})
		return
	}
	h.audit("ban.create", sig.Identity, req.TargetIdentity+" reason="+req.Reason)
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": ban.ID})
}

// DeleteBan снимает бан
func (h *ConfigHandler) DeleteBan(c *gin.Context) {
	if !h.requireBadge(c) {
		return
	}

	id := c.Param("uuid")
	if err := h.bans.Unban(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete ban"})
		return
	}
	h.audit("ban.delete", middleware.GetSig(c).Identity, id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// requireBadge проверяет бейдж из тела запроса, 403 при неудаче
func (h *ConfigHandler) requireBadge(c *gin.Context, roles ...string) bool {
	var req dto.BadgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusForbidden)
		return false
	}
	sig := middleware.GetSig(c)
	if _, err := h.db.VerifyBadge(sig.Identity, req.Badge, roles...); err != nil {
		c.Status(http.StatusForbidden)
		return false
	}
	return true
}

// audit пишет запись в журнал действий; сбой аудита не роняет операцию
func (h *ConfigHandler) audit(entryType, actor, message string) {
	if err := h.db.AppendAudit(entryType, actor, message); err != nil {
		log.Printf("audit append failed: %v", err)
	}
}
