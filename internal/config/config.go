package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
// Пустые поля заполняются из переменных окружения или значениями по умолчанию.
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Storage   StorageConfig   `yaml:"storage"`
	Executor  ExecutorConfig  `yaml:"executor"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Viewer    ViewerConfig    `yaml:"viewer"`
}

type WorldConfig struct {
	Seed int64 `yaml:"seed"`
}

// Поддерживаемые бэкенды хранилища
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type StorageConfig struct {
	Backend     string      `yaml:"backend"`     // file | badger | sqlite | redis | memory
	Path        string      `yaml:"path"`        // Корень хранилища чанков и world.yaml
	Compression string      `yaml:"compression"` // none | zstd
	Redis       RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"` // 0 = без срока жизни
}

type ExecutorConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"` // Пусто: только консоль
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Service  string `yaml:"service"`
	Endpoint string `yaml:"endpoint"`
}

type ViewerConfig struct {
	RenderDistance int     `yaml:"render_distance"` // Радиус куба чанков вокруг наблюдателя
	Steps          int     `yaml:"steps"`           // Число шагов сценария
	Speed          float64 `yaml:"speed"`           // Смещение за шаг в блоках
	RayDistance    float64 `yaml:"ray_distance"`
}

// GetSeed возвращает сид мира: config -> env CHUNKSTREAM_SEED -> 1337
func (w *WorldConfig) GetSeed() int64 {
	if w.Seed != 0 {
		return w.Seed
	}
	if envVal := os.Getenv("CHUNKSTREAM_SEED"); envVal != "" {
		if seed, err := strconv.ParseInt(envVal, 10, 64); err == nil {
			return seed
		}
	}
	return 1337
}

// GetBackend возвращает имя бэкенда хранилища
func (s *StorageConfig) GetBackend() string {
	return strings.ToLower(getStringWithEnvFallback(s.Backend, "CHUNKSTREAM_STORAGE", BackendFile))
}

// GetPath возвращает корневой каталог хранилища
func (s *StorageConfig) GetPath() string {
	return getStringWithEnvFallback(s.Path, "CHUNKSTREAM_DATA", "data/world")
}

// GetCompression возвращает алгоритм сжатия значений
func (s *StorageConfig) GetCompression() string {
	return strings.ToLower(getStringWithEnvFallback(s.Compression, "CHUNKSTREAM_COMPRESSION", "none"))
}

// GetAddr возвращает адрес Redis
func (r *RedisConfig) GetAddr() string {
	return getStringWithEnvFallback(r.Addr, "CHUNKSTREAM_REDIS_ADDR", "localhost:6379")
}

// GetPrefix возвращает префикс ключей Redis
func (r *RedisConfig) GetPrefix() string {
	return getStringWithEnvFallback(r.Prefix, "CHUNKSTREAM_REDIS_PREFIX", "chunkstream:")
}

// GetTTL возвращает срок жизни ключей (0 = бессрочно)
func (r *RedisConfig) GetTTL() time.Duration {
	return time.Duration(getIntWithEnvFallback(r.TTLSeconds, "CHUNKSTREAM_REDIS_TTL", 0)) * time.Second
}

// GetWorkers возвращает число рабочих горутин исполнителя
func (e *ExecutorConfig) GetWorkers() int {
	return getIntWithEnvFallback(e.Workers, "CHUNKSTREAM_WORKERS", 4)
}

// GetQueueSize возвращает ёмкость очереди каждого рабочего
func (e *ExecutorConfig) GetQueueSize() int {
	return getIntWithEnvFallback(e.QueueSize, "CHUNKSTREAM_QUEUE_SIZE", 256)
}

// GetAddr возвращает адрес отладочного HTTP-сервера
func (a *APIConfig) GetAddr() string {
	return getStringWithEnvFallback(a.Addr, "CHUNKSTREAM_API_ADDR", ":8088")
}

// GetLevel возвращает уровень логирования
func (l *LoggingConfig) GetLevel() string {
	return getStringWithEnvFallback(l.Level, "CHUNKSTREAM_LOG_LEVEL", "INFO")
}

// GetDir возвращает каталог логов
func (l *LoggingConfig) GetDir() string {
	return getStringWithEnvFallback(l.Dir, "CHUNKSTREAM_LOG_DIR", "")
}

// GetService возвращает имя сервиса для трассировки
func (t *TelemetryConfig) GetService() string {
	return getStringWithEnvFallback(t.Service, "OTEL_SERVICE_NAME", "chunkstream")
}

// GetRenderDistance возвращает радиус стриминга в чанках
func (v *ViewerConfig) GetRenderDistance() int {
	return getIntWithEnvFallback(v.RenderDistance, "CHUNKSTREAM_RENDER_DISTANCE", 2)
}

// GetSteps возвращает число шагов сценария наблюдателя
func (v *ViewerConfig) GetSteps() int {
	return getIntWithEnvFallback(v.Steps, "CHUNKSTREAM_VIEWER_STEPS", 64)
}

// GetSpeed возвращает смещение наблюдателя за шаг
func (v *ViewerConfig) GetSpeed() float64 {
	if v.Speed > 0 {
		return v.Speed
	}
	return 4
}

// GetRayDistance возвращает дальность луча
func (v *ViewerConfig) GetRayDistance() float64 {
	if v.RayDistance > 0 {
		return v.RayDistance
	}
	return 64
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configValue int, envVar string, defaultValue int) int {
	if configValue > 0 {
		return configValue
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultValue
}

// getStringWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getStringWithEnvFallback(configValue, envVar, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultValue
}

// Validate проверяет согласованность итоговых значений
func (c *Config) Validate() error {
	switch c.Storage.GetBackend() {
	case BackendFile, BackendBadger, BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("неизвестный бэкенд хранилища: %q", c.Storage.GetBackend())
	}

	switch c.Storage.GetCompression() {
	case "none", "zstd":
	default:
		return fmt.Errorf("неизвестный алгоритм сжатия: %q", c.Storage.GetCompression())
	}

	if c.Executor.Workers < 0 || c.Executor.QueueSize < 0 {
		return fmt.Errorf("размеры исполнителя не могут быть отрицательными")
	}
	if c.Viewer.RenderDistance < 0 || c.Viewer.Steps < 0 {
		return fmt.Errorf("параметры наблюдателя не могут быть отрицательными")
	}
	return nil
}

// Load читает YAML файл конфигурации.
// Если path == "", берётся ENV CHUNKSTREAM_CONFIG; если и он пуст,
// возвращается пустая конфигурация (используются значения по умолчанию).
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CHUNKSTREAM_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
