package middleware

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/banya/internal/bans"
)

// Banned блокирует запросы забаненных участников по IP или идентификатору.
// Попытка обхода (новый IP или новая пара ключей) расширяет бан новыми
// реквизитами.
func Banned(registry *bans.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		sig := GetSig(c)

		identityKey := ""
		if sig.Valid {
			identityKey = sig.Identity
		}

		ban, err := registry.Lookup(ctx, c.ClientIP(), identityKey)
		if errors.Is(err, bans.ErrBanNotFound) {
			c.Next()
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ban registry unavailable"})
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": fmt.Sprintf("You are banned, because: %q, for this much longer: %s",
				ban.Reason, ban.Remaining().Round(time.Second)),
			"errorType": "ban",
		})

		// чтобы усложнить ленивый обход бана, запоминаем новые реквизиты
		if err := registry.Expand(ctx, ban, c.ClientIP(), identityKey); err != nil {
			log.Printf("ban expand failed: %v", err)
		}
	}
}
