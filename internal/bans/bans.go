// Package bans ведёт реестр банов в redis: срок действия бана выражается
// через TTL ключей, так что просроченные баны исчезают сами.
package bans

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrBanNotFound = errors.New("ban not found")

// Ban — одна запись о бане. Может накрывать несколько идентификаторов и
// IP адресов: при попытке обхода запись расширяется новыми реквизитами.
type Ban struct {
	ID         string    `json:"id"`
	Identities []string  `json:"identities"`
	IPs        []string  `json:"ips"`
	Reason     string    `json:"reason"`
	Authority  string    `json:"authority"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Remaining возвращает оставшееся время действия бана
func (b *Ban) Remaining() time.Duration {
	return time.Until(b.ExpiresAt)
}

// Registry — реестр банов поверх redis клиента
type Registry struct {
	rdb *redis.Client
}

// NewRegistry создает реестр поверх подключенного клиента
func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Ban создает новый бан для идентификатора участника. IP адреса
// добавляются позже, когда нарушитель снова обратится к серверу.
func (r *Registry) Ban(ctx context.Context, targetIdentity, reason, authority string, duration time.Duration) (*Ban, error) {
	now := time.Now()
	if reason == "" {
		reason = "No reason given"
	}
	ban := &Ban{
		ID:         uuid.NewString(),
		Identities: []string{targetIdentity},
		Reason:     reason,
		Authority:  authority,
		CreatedAt:  now,
		ExpiresAt:  now.Add(duration),
	}
	if err := r.save(ctx, ban); err != nil {
		return nil, err
	}
	return ban, nil
}

// Lookup ищет действующий бан по IP или идентификатору
func (r *Registry) Lookup(ctx context.Context, ip, identityKey string) (*Ban, error) {
	for _, indexKey := range indexKeys(ip, identityKey) {
		id, err := r.rdb.Get(ctx, indexKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ban, err := r.get(ctx, id)
		if errors.Is(err, ErrBanNotFound) {
			continue
		}
		return ban, err
	}
	return nil, ErrBanNotFound
}

// Expand добавляет к бану новые реквизиты нарушителя (смена IP или новая
// пара ключей при том же IP) и сохраняет запись
func (r *Registry) Expand(ctx context.Context, ban *Ban, ip, identityKey string) error {
	changed := false
	if ip != "" && !containsFold(ban.IPs, ip) {
		ban.IPs = append(ban.IPs, ip)
		changed = true
	}
	if identityKey != "" && !containsFold(ban.Identities, identityKey) {
		ban.Identities = append(ban.Identities, identityKey)
		changed = true
	}
	if !changed {
		return nil
	}
	return r.save(ctx, ban)
}

// Unban удаляет бан и его индексные ключи
func (r *Registry) Unban(ctx context.Context, id string) error {
	ban, err := r.get(ctx, id)
	if err != nil {
		return err
	}

	keys := []string{recordKey(id)}
	for _, v := range ban.Identities {
		keys = append(keys, identityKey(v))
	}
	for _, v := range ban.IPs {
		keys = append(keys, ipKey(v))
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// List возвращает все действующие баны
func (r *Registry) List(ctx context.Context) ([]*Ban, error) {
	keys, err := r.rdb.Keys(ctx, "ban:record:*").Result()
	if err != nil {
		return nil, err
	}

	bans := make([]*Ban, 0, len(keys))
	for _, key := range keys {
		data, err := r.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var ban Ban
		if err := json.Unmarshal([]byte(data), &ban); err != nil {
			return nil, err
		}
		bans = append(bans, &ban)
	}
	return bans, nil
}

func (r *Registry) get(ctx context.Context, id string) (*Ban, error) {
	data, err := r.rdb.Get(ctx, recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBanNotFound
	}
	if err != nil {
		return nil, err
	}
	var ban Ban
	if err := json.Unmarshal([]byte(data), &ban); err != nil {
		return nil, err
	}
	return &ban, nil
}

func (r *Registry) save(ctx context.Context, ban *Ban) error {
	ttl := ban.Remaining()
	if ttl <= 0 {
		return errors.New("ban already expired")
	}

	data, err := json.Marshal(ban)
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, recordKey(ban.ID), data, ttl)
	for _, v := range ban.Identities {
		pipe.Set(ctx, identityKey(v), ban.ID, ttl)
	}
	for _, v := range ban.IPs {
		pipe.Set(ctx, ipKey(v), ban.ID, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func recordKey(id string) string {
	return "ban:record:" + id
}

func identityKey(v string) string {
	return "ban:identity:" + strings.ToLower(v)
}

func ipKey(v string) string {
	return "ban:ip:" + strings.ToLower(v)
}

func indexKeys(ip, identityValue string) []string {
	var keys []string
	if ip != "" {
		keys = append(keys, ipKey(ip))
	}
	if identityValue != "" {
		keys = append(keys, identityKey(identityValue))
	}
	return keys
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
