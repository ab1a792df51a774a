package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/annel0/chunkstream/internal/vec"
	_ "modernc.org/sqlite"
)

// SQLiteFileName: имя файла базы внутри корня хранилища
const SQLiteFileName = "chunks.db"

// SQLiteStore хранит чанки в таблице chunks(x, y, z, data, updated_at)
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteStore открывает (или создаёт) базу <root>/chunks.db
func NewSQLiteStore(root string) (*SQLiteStore, error) {
	if root == "" {
		return nil, fmt.Errorf("пустой путь к базе чанков")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(root, SQLiteFileName))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("ошибка %s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		z INTEGER NOT NULL,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (x, y, z)
	);`)
	if err != nil {
		return fmt.Errorf("ошибка создания схемы: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, coord vec.Vec3) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM chunks WHERE x = ? AND y = ? AND z = ?`,
		coord.X, coord.Y, coord.Z,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения чанка %v: %w", coord, err)
	}
	return data, nil
}

func (s *SQLiteStore) Save(ctx context.Context, coord vec.Vec3, data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (x, y, z, data, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (x, y, z) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		coord.X, coord.Y, coord.Z, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ошибка записи чанка %v: %w", coord, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, coord vec.Vec3) error {
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE x = ? AND y = ? AND z = ?`,
		coord.X, coord.Y, coord.Z,
	)
	if err != nil {
		return fmt.Errorf("ошибка удаления чанка %v: %w", coord, err)
	}
	return nil
}

// Count возвращает число сохранённых чанков
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
