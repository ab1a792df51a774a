package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/chunkstream/internal/config"
	"github.com/annel0/chunkstream/internal/vec"
)

// Store хранит закодированные файлы чанков по координатам.
// Хранилище работает только с байтами и ничего не знает о *world.Chunk.
type Store interface {
	// Load возвращает данные чанка или ErrNotFound, если чанк не сохранялся.
	Load(ctx context.Context, coord vec.Vec3) ([]byte, error)

	// Save атомарно заменяет данные чанка.
	Save(ctx context.Context, coord vec.Vec3, data []byte) error

	// Delete удаляет чанк; удаление отсутствующего чанка не ошибка.
	Delete(ctx context.Context, coord vec.Vec3) error

	// Close освобождает ресурсы хранилища.
	Close() error
}

var (
	// ErrNotFound: чанк отсутствует в хранилище
	ErrNotFound = errors.New("чанк не найден в хранилище")
	// ErrClosed: хранилище уже закрыто
	ErrClosed = errors.New("хранилище закрыто")
)

// chunkKey формирует ключ чанка в KV-хранилищах
func chunkKey(coord vec.Vec3) string {
	return fmt.Sprintf("chunk:%d:%d:%d", coord.X, coord.Y, coord.Z)
}

// Open создаёт хранилище по конфигурации
func Open(cfg config.StorageConfig) (Store, error) {
	codec, err := NewCodec(cfg.GetCompression())
	if err != nil {
		return nil, err
	}

	switch cfg.GetBackend() {
	case config.BackendFile:
		return NewFileStore(cfg.GetPath())
	case config.BackendBadger:
		return NewBadgerStore(cfg.GetPath(), codec)
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.GetPath())
	case config.BackendRedis:
		return NewRedisStore(&RedisOptions{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.GetPrefix(),
			TTL:      cfg.Redis.GetTTL(),
			Codec:    codec,
		})
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", cfg.GetBackend())
	}
}
