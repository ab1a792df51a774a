package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ManifestFileName: имя файла описания мира в корне хранилища
const ManifestFileName = "world.yaml"

// ErrManifestMismatch: мир создан с другими параметрами
var ErrManifestMismatch = errors.New("параметры мира не совпадают с сохранёнными")

// Manifest описывает сохранённый мир
type Manifest struct {
	WorldID   string    `yaml:"world_id"`
	Seed      int64     `yaml:"seed"`
	ChunkSize int       `yaml:"chunk_size"`
	CreatedAt time.Time `yaml:"created_at"`
}

// LoadOrCreateManifest читает world.yaml из root или создаёт новый.
// Мир с другим размером чанка открыть нельзя; сохранённый сид главнее переданного.
func LoadOrCreateManifest(root string, seed int64) (*Manifest, error) {
	path := filepath.Join(root, ManifestFileName)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		m := &Manifest{
			WorldID:   uuid.NewString(),
			Seed:      seed,
			ChunkSize: spatial.ChunkSize,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
		if err := m.Save(root); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}
	if m.ChunkSize != spatial.ChunkSize {
		return nil, fmt.Errorf("%w: размер чанка %d, ожидался %d", ErrManifestMismatch, m.ChunkSize, spatial.ChunkSize)
	}
	if _, err := uuid.Parse(m.WorldID); err != nil {
		return nil, fmt.Errorf("некорректный world_id в %s: %w", path, err)
	}
	return &m, nil
}

// Save записывает манифест в root
func (m *Manifest) Save(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("ошибка создания каталога %s: %w", root, err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("ошибка сериализации манифеста: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, ManifestFileName), data, 0o644); err != nil {
		return fmt.Errorf("ошибка записи манифеста: %w", err)
	}
	return nil
}
