package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/annel0/chunkstream/internal/vec"
)

// FileExt: расширение файлов чанков
const FileExt = ".chunk"

// FileStore хранит каждый чанк в отдельном файле {x}_{y}_{z}.chunk.
// Запись идёт во временный файл с последующим переименованием.
type FileStore struct {
	root   string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore создаёт файловое хранилище в каталоге root
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога чанков %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// FileName возвращает имя файла чанка
func FileName(coord vec.Vec3) string {
	return fmt.Sprintf("%d_%d_%d%s", coord.X, coord.Y, coord.Z, FileExt)
}

// Path возвращает полный путь к файлу чанка
func (s *FileStore) Path(coord vec.Vec3) string {
	return filepath.Join(s.root, FileName(coord))
}

func (s *FileStore) Load(ctx context.Context, coord vec.Vec3) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	data, err := os.ReadFile(s.Path(coord))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения чанка %v: %w", coord, err)
	}
	return data, nil
}

func (s *FileStore) Save(ctx context.Context, coord vec.Vec3, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(s.root, FileName(coord)+".tmp-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ошибка записи чанка %v: %w", coord, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ошибка синхронизации чанка %v: %w", coord, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ошибка закрытия файла чанка %v: %w", coord, err)
	}
	if err := os.Rename(tmpName, s.Path(coord)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ошибка переименования файла чанка %v: %w", coord, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, coord vec.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if err := os.Remove(s.Path(coord)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления чанка %v: %w", coord, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
