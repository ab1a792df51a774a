package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/chunkstream/internal/logging"
	"github.com/annel0/chunkstream/internal/middleware"
	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/streaming"
	"github.com/annel0/chunkstream/internal/tasks"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/world"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ChunkSource: то, что API читает у менеджера чанков
type ChunkSource interface {
	Stats() streaming.Stats
	Peek(coord vec.Vec3) (*world.Chunk, bool)
}

// ExecutorSource: счётчики фонового исполнителя
type ExecutorSource interface {
	Stats() tasks.Stats
}

// RestServer: отладочный HTTP API сервиса чанков
type RestServer struct {
	router   *gin.Engine
	server   *http.Server
	chunks   ChunkSource
	executor ExecutorSource
	metrics  *ServerMetrics
	logger   *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr     string         // адрес для запуска сервера
	Chunks   ChunkSource    // менеджер чанков
	Executor ExecutorSource // может быть nil
	// Registry хранит HTTP-метрики и отдаётся на /metrics.
	// nil: отдельный регистр сервера.
	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Chunks == nil {
		return nil, errors.New("REST серверу нужен источник чанков")
	}
	if config.Addr == "" {
		config.Addr = ":8088"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.Logger == nil {
		config.Logger = logging.GetAPILogger()
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("chunkstream_api"))
	router.Use(middleware.NewRequestLogger(config.Logger).Handler())

	promMw, err := middleware.NewPrometheusMiddleware("chunkstream_api", config.Registry)
	if err != nil {
		return nil, fmt.Errorf("ошибка регистрации HTTP-метрик: %w", err)
	}
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Registry)

	rs := &RestServer{
		router:   router,
		chunks:   config.Chunks,
		executor: config.Executor,
		metrics:  NewServerMetrics(),
		logger:   config.Logger,
	}
	rs.server = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)
		api.GET("/chunks/:x/:y/:z", rs.handleChunk)
	}

	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ChunkInfo: состояние загруженного чанка
type ChunkInfo struct {
	Coord    vec.Vec3      `json:"coord"`
	Center   vec.Vec3Float `json:"center"`
	Flags    []string      `json:"flags"`
	Revision uint64        `json:"revision"`
}

// handleStats возвращает статистику сервиса
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"chunks": rs.chunks.Stats(),
	}
	if rs.executor != nil {
		stats["executor"] = rs.executor.Stats()
	}

	// Метрики процесса
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, err := rs.metrics.GetCPUUsage()
	if err != nil {
		rs.logger.Debug("Не удалось получить загрузку CPU: %v", err)
	}

	stats["server"] = map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"server_time": time.Now().Unix(),
	}
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// handleChunk возвращает состояние загруженного чанка. Чанк не подгружается.
func (rs *RestServer) handleChunk(c *gin.Context) {
	var coord [3]int
	for i, name := range []string{"x", "y", "z"} {
		v, err := strconv.Atoi(c.Param(name))
		if err != nil {
			c.JSON(http.StatusBadRequest, GenericResponse{
				Success: false,
				Message: fmt.Sprintf("Неверная координата %s", name),
			})
			return
		}
		coord[i] = v
	}

	if !spatial.PackChunk(coord[0], coord[1], coord[2]).Valid() {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Координаты вне диапазона мира",
		})
		return
	}

	chunk, ok := rs.chunks.Peek(vec.Vec3{X: coord[0], Y: coord[1], Z: coord[2]})
	if !ok {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Чанк не загружен",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Чанк загружен",
		Data: ChunkInfo{
			Coord:    chunk.Coord(),
			Center:   chunk.Center(),
			Flags:    chunk.Flags().Names(),
			Revision: chunk.Revision(),
		},
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Handler возвращает HTTP-обработчик сервера
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API слушает %s", rs.server.Addr)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop останавливает сервер, дожидаясь активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}
