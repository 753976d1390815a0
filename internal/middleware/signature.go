package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/banya/pkg/identity"
)

const (
	// SigKey — ключ контекста с результатом проверки подписи
	SigKey = "sig"
	// DataKey — ключ контекста с подписанной полезной нагрузкой
	DataKey = "sigData"
)

// Sig — решение о доверии запросу: кто подписал и сошлась ли подпись
type Sig struct {
	Identity string
	Valid    bool
}

// Signed проверяет подпись запроса, если она приложена. Подписывается
// pathname плюс полезная нагрузка: query параметр data, если он есть
// (форма для EventSource), иначе сырое тело запроса. Результат кладётся
// в контекст; тело восстанавливается для последующего разбора.
func Signed() gin.HandlerFunc {
	return func(c *gin.Context) {
		identityB64 := headerOrQuery(c, identity.HeaderIdentity)
		signatureB64 := headerOrQuery(c, identity.HeaderSignature)

		var payload []byte
		if queryData := c.Query(identity.QueryData); queryData != "" {
			payload = []byte(queryData)
		} else if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			payload = body
		}

		sig := Sig{}
		if identityB64 != "" {
			sig = Sig{
				Identity: identityB64,
				Valid:    identity.Verify(identityB64, signatureB64, c.Request.URL.Path, payload),
			}
		}

		c.Set(SigKey, sig)
		c.Set(DataKey, payload)
		c.Next()
	}
}

// RequireSignature пропускает только запросы с валидной подписью
func RequireSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetSig(c).Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "identity signature headers/query parameters are invalid or missing",
			})
			return
		}
		c.Next()
	}
}

// GetSig возвращает результат проверки подписи из контекста
func GetSig(c *gin.Context) Sig {
	if v, ok := c.Get(SigKey); ok {
		if sig, ok := v.(Sig); ok {
			return sig
		}
	}
	return Sig{}
}

// SignedData возвращает подписанную полезную нагрузку запроса
func SignedData(c *gin.Context) []byte {
	if v, ok := c.Get(DataKey); ok {
		if data, ok := v.([]byte); ok {
			return data
		}
	}
	return nil
}

func headerOrQuery(c *gin.Context, name string) string {
	if v := c.GetHeader(name); v != "" {
		return v
	}
	return c.Query(name)
}
