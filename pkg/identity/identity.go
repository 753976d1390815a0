// Package identity реализует подписанные запросы: клиент подтверждает
// своё авторство парой ed25519 ключей вместо cookie, публичный ключ в
// base64 служит стабильным идентификатором участника.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/url"
)

const (
	HeaderIdentity  = "X-Banya-Identity"
	HeaderSignature = "X-Banya-Signature"

	// QueryData — параметр с полезной нагрузкой для подписанных query
	// строк (EventSource не умеет выставлять заголовки)
	QueryData = "data"
)

// Identity — пара ключей одного участника
type Identity struct {
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

// New генерирует новую пару ключей
func New() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{publicKey: pub, privateKey: priv}, nil
}

// PublicBase64 возвращает публичный ключ в base64 — идентификатор участника
func (id *Identity) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(id.publicKey)
}

// SignRequest подписывает pathname+payload и возвращает заголовки запроса
func (id *Identity) SignRequest(pathname string, payload []byte) map[string]string {
	signature := ed25519.Sign(id.privateKey, signedContent(pathname, payload))
	return map[string]string{
		HeaderIdentity:  id.PublicBase64(),
		HeaderSignature: base64.StdEncoding.EncodeToString(signature),
	}
}

// SignedQuery собирает подписанный URL с данными в query строке,
// для транспортов без поддержки заголовков
func (id *Identity) SignedQuery(pathname string, props any) (string, error) {
	data, err := json.Marshal(props)
	if err != nil {
		return "", err
	}

	headers := id.SignRequest(pathname, data)
	values := url.Values{}
	values.Set(QueryData, string(data))
	values.Set(HeaderIdentity, headers[HeaderIdentity])
	values.Set(HeaderSignature, headers[HeaderSignature])
	return pathname + "?" + values.Encode(), nil
}

// Verify проверяет подпись запроса по base64 ключу и подписи
func Verify(identityB64, signatureB64, pathname string, payload []byte) bool {
	publicKey, err := base64.StdEncoding.DecodeString(identityB64)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), signedContent(pathname, payload), signature)
}

func signedContent(pathname string, payload []byte) []byte {
	content := make([]byte, 0, len(pathname)+len(payload))
	content = append(content, pathname...)
	content = append(content, payload...)
	return content
}
