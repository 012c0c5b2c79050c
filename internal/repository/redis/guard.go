package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/zlog"
)

const (
	firedKeyPrefix = "fired:"
	// DefaultGuardTTL сколько хранится отметка о срабатывании
	DefaultGuardTTL = 24 * time.Hour
)

// Setter часть клиента Redis, которая нужна защите от повторов.
type Setter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
}

// FireGuard не дает обработать одно поколение триггера дважды,
// когда брокер доставил событие повторно или его переопубликовал sweeper.
type FireGuard struct {
	client Setter
	ttl    time.Duration
}

// NewFireGuard создает новый экземпляр FireGuard.
func NewFireGuard(client Setter, ttl time.Duration) *FireGuard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &FireGuard{client: client, ttl: ttl}
}

// Key ключ отметки для кода запроса и поколения.
func Key(code int32, generation int64) string {
	return fmt.Sprintf("%s%d:%d", firedKeyPrefix, code, generation)
}

// Acquire ставит отметку. true означает, что срабатывание обрабатывается впервые.
func (g *FireGuard) Acquire(ctx context.Context, code int32, generation int64) (bool, error) {
	key := Key(code, generation)
	ok, err := g.client.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		zlog.Logger.Error().Err(err).Msgf("failed to set fire mark %s", key)
		return false, err
	}
	if !ok {
		zlog.Logger.Debug().Msgf("fire mark %s already exists", key)
	}
	return ok, nil
}
