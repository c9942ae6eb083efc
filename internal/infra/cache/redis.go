package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"stoptrolling/internal/domain"
)

// ErrNotFound возвращается, если ключ отсутствует.
var ErrNotFound = errors.New("cache: key not found")

// RedisKV реализует domain.KV через Redis.
type RedisKV struct {
	client *redis.Client
}

var _ domain.KV = (*RedisKV)(nil)

// NewRedis создаёт хранилище.
func NewRedis(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// Set задаёт значение. ttl <= 0 означает хранение без срока.
func (c *RedisKV) Set(key string, value []byte, ttl time.Duration) error {
	return c.client.Set(context.Background(), key, value, ttl).Err()
}

// Get возвращает значение.
func (c *RedisKV) Get(key string) ([]byte, error) {
	data, err := c.client.Get(context.Background(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// GetDel читает значение и удаляет ключ одной операцией.
func (c *RedisKV) GetDel(key string) ([]byte, error) {
	data, err := c.client.GetDel(context.Background(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// Del удаляет ключ.
func (c *RedisKV) Del(key string) error {
	return c.client.Del(context.Background(), key).Err()
}

// Keys возвращает ключи по префиксу через SCAN.
func (c *RedisKV) Keys(prefix string) ([]string, error) {
	ctx := context.Background()
	var (
		cursor uint64
		out    []string
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Once выполняет функцию, если ключ ещё не задан; при ошибке функции
// ключ освобождается, чтобы следующий запуск мог повторить попытку.
func (c *RedisKV) Once(key string, ttl time.Duration, fn func() error) (bool, error) {
	ctx := context.Background()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return true, err
	}
	return true, nil
}
