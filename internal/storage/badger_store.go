package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/annel0/chunkstream/internal/vec"
	"github.com/dgraph-io/badger/v3"
)

// BadgerStore хранит чанки в BadgerDB под ключами chunk:x:y:z
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	codec   Codec
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает BadgerDB в каталоге <root>/badger
func NewBadgerStore(root string, codec Codec) (*BadgerStore, error) {
	dbPath := filepath.Join(root, "badger")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	return openBadger(opts, dbPath, codec)
}

// NewInMemoryBadgerStore открывает BadgerDB без диска (для тестов)
func NewInMemoryBadgerStore(codec Codec) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts, "", codec)
}

func openBadger(opts badger.Options, dbPath string, codec Codec) (*BadgerStore, error) {
	if codec == nil {
		codec = rawCodec{}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		codec:   codec,
		isReady: true,
	}, nil
}

func (bs *BadgerStore) Load(ctx context.Context, coord vec.Vec3) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, ErrClosed
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(chunkKey(coord)))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	return bs.codec.Decode(data)
}

func (bs *BadgerStore) Save(ctx context.Context, coord vec.Vec3, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return ErrClosed
	}

	value := bs.codec.Encode(data)
	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(chunkKey(coord)), value)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (bs *BadgerStore) Delete(ctx context.Context, coord vec.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return ErrClosed
	}

	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(chunkKey(coord)))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// Count возвращает число сохранённых чанков
func (bs *BadgerStore) Count() (int, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return 0, ErrClosed
	}

	count := 0
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("chunk:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close закрывает BadgerDB
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	return bs.db.Close()
}
