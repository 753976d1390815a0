package database

import (
	"errors"
	"time"

	"github.com/thereayou/banya/internal/models"
	"github.com/thereayou/banya/pkg/identity"
	"gorm.io/gorm"
)

// badgeMaxAge — насколько старый бейдж ещё принимается
const badgeMaxAge = time.Minute

var ErrBadgeInvalid = errors.New("badge is invalid")

// ListAuthorities возвращает все зарегистрированные ключи полномочий
func (d *Database) ListAuthorities() ([]models.Authority, error) {
	var authorities []models.Authority
	if err := d.db.Order("identity").Find(&authorities).Error; err != nil {
		return nil, err
	}
	return authorities, nil
}

// GetAuthority возвращает запись о ключе или nil, если ключ не зарегистрирован
func (d *Database) GetAuthority(key string) (*models.Authority, error) {
	var authority models.Authority
	err := d.db.First(&authority, "identity = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &authority, nil
}

// SetAuthority регистрирует ключ с ролью, перезаписывая существующую запись
func (d *Database) SetAuthority(key, role, note string) error {
	authority := models.Authority{
		Identity:  key,
		Role:      role,
		Note:      note,
		CreatedAt: time.Now(),
	}
	return d.db.Save(&authority).Error
}

// DeleteAuthority удаляет ключ из реестра
func (d *Database) DeleteAuthority(key string) error {
	return d.db.Delete(&models.Authority{}, "identity = ?", key).Error
}

// EnsureBootstrapAuthority регистрирует ключ как админский, если реестр
// полномочий пуст. На свежем развертывании иначе некому выписать первый
// бейдж. Возвращает true, если регистрация произошла.
func (d *Database) EnsureBootstrapAuthority(key string) (bool, error) {
	var count int64
	if err := d.db.Model(&models.Authority{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := d.SetAuthority(key, "admin", "bootstrap"); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyBadge проверяет бейдж запроса. Правила:
//   - токен подписан зарегистрированным ключом бейджа
//   - токен выпущен не раньше чем badgeMaxAge назад
//   - subject токена совпадает с идентификатором запрашивающего
//   - роль ключа входит в validRoles (пустой список — любая роль)
//
// При успехе возвращает запись о ключе, иначе ErrBadgeInvalid.
func (d *Database) VerifyBadge(requester, token string, validRoles ...string) (*models.Authority, error) {
	if token == "" {
		return nil, ErrBadgeInvalid
	}

	claims, err := identity.ParseBadge(token)
	if err != nil {
		return nil, ErrBadgeInvalid
	}
	if claims.Subject != requester {
		return nil, ErrBadgeInvalid
	}

	now := time.Now()
	if now.Sub(claims.IssuedAt) > badgeMaxAge || claims.IssuedAt.After(now.Add(badgeMaxAge)) {
		return nil, ErrBadgeInvalid
	}

	authority, err := d.GetAuthority(claims.Key)
	if err != nil {
		return nil, err
	}
	if authority == nil {
		return nil, ErrBadgeInvalid
	}

	if len(validRoles) > 0 {
		allowed := false
		for _, role := range validRoles {
			if authority.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, ErrBadgeInvalid
		}
	}
	return authority, nil
}
