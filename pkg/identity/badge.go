package identity

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Badge выпускает короткоживущие токены полномочий: администратор
// подписывает идентификатор участника своим зарегистрированным ключом,
// и участник прикладывает токен к запросам, требующим прав.
type Badge struct {
	privateKey ed25519.PrivateKey
	// Key — публичный ключ бейджа в base64, под ним ключ регистрируется
	// в реестре полномочий
	Key string
}

// NewBadge детерминированно строит пару ключей бейджа из секретного
// материала, чтобы один и тот же секрет всегда давал один и тот же ключ
func NewBadge(seed []byte) *Badge {
	sum := sha512.Sum512_256(seed)
	priv := ed25519.NewKeyFromSeed(sum[:])
	return &Badge{
		privateKey: priv,
		Key:        base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)),
	}
}

// Issue выпускает токен для участника. Токен действителен одну минуту,
// свежесть проверяет реестр полномочий по iat.
func (b *Badge) Issue(identity string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  identity,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = b.Key
	return token.SignedString(b.privateKey)
}

// BadgeClaims — результат разбора токена
type BadgeClaims struct {
	// Key — base64 публичный ключ, которым подписан токен
	Key string
	// Subject — идентификатор участника, которому выписан бейдж
	Subject string
	// IssuedAt — момент выпуска
	IssuedAt time.Time
}

// ParseBadge проверяет подпись токена ключом из его заголовка kid и
// возвращает утверждения. Принадлежность ключа роли и свежесть токена
// проверяет вызывающий.
func ParseBadge(tokenString string) (*BadgeClaims, error) {
	var badgeKey string
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		publicKey, err := base64.StdEncoding.DecodeString(kid)
		if err != nil || len(publicKey) != ed25519.PublicKeySize {
			return nil, errors.New("invalid badge key")
		}
		badgeKey = kid
		return ed25519.PublicKey(publicKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.IssuedAt == nil {
		return nil, errors.New("invalid badge token")
	}

	return &BadgeClaims{
		Key:      badgeKey,
		Subject:  claims.Subject,
		IssuedAt: claims.IssuedAt.Time,
	}, nil
}
