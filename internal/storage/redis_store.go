package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/chunkstream/internal/logging"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/go-redis/redis/v8"
)

// RedisStore хранит чанки в Redis под ключами <prefix>chunk:x:y:z
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	codec     Codec
}

// RedisOptions содержит настройки подключения к Redis
type RedisOptions struct {
	Addr     string        // Адрес Redis сервера
	Password string        // Пароль (пустой если не требуется)
	DB       int           // Номер базы данных
	Prefix   string        // Префикс для ключей
	TTL      time.Duration // Время жизни записей, 0 = бессрочно
	Codec    Codec         // Сжатие значений
}

// DefaultRedisOptions возвращает конфигурацию по умолчанию
func DefaultRedisOptions() *RedisOptions {
	return &RedisOptions{
		Addr:   "localhost:6379",
		Prefix: "chunkstream:",
	}
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(opts *RedisOptions) (*RedisStore, error) {
	if opts == nil {
		opts = DefaultRedisOptions()
	}
	codec := opts.Codec
	if codec == nil {
		codec = rawCodec{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("Подключено к Redis %s (префикс %q, сжатие %s)", opts.Addr, opts.Prefix, codec.Name())
	return &RedisStore{
		client:    client,
		keyPrefix: opts.Prefix,
		ttl:       opts.TTL,
		codec:     codec,
	}, nil
}

func (rs *RedisStore) key(coord vec.Vec3) string {
	return rs.keyPrefix + chunkKey(coord)
}

func (rs *RedisStore) Load(ctx context.Context, coord vec.Vec3) ([]byte, error) {
	data, err := rs.client.Get(ctx, rs.key(coord)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get chunk %v: %w", coord, err)
	}
	return rs.codec.Decode(data)
}

func (rs *RedisStore) Save(ctx context.Context, coord vec.Vec3, data []byte) error {
	if err := rs.client.Set(ctx, rs.key(coord), rs.codec.Encode(data), rs.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set chunk %v: %w", coord, err)
	}
	return nil
}

func (rs *RedisStore) Delete(ctx context.Context, coord vec.Vec3) error {
	if err := rs.client.Del(ctx, rs.key(coord)).Err(); err != nil {
		return fmt.Errorf("failed to delete chunk %v: %w", coord, err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
