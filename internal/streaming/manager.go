// Package streaming держит в памяти набор загруженных чанков: подгружает их
// из хранилища или генерирует, связывает соседей и выгружает с фоновым
// сохранением.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/chunkstream/internal/chunkfile"
	"github.com/annel0/chunkstream/internal/logging"
	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/storage"
	"github.com/annel0/chunkstream/internal/tasks"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/world"
	"github.com/annel0/chunkstream/internal/world/block"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/annel0/chunkstream/internal/streaming"

var (
	// ErrClosed: менеджер закрыт
	ErrClosed = errors.New("менеджер чанков закрыт")
	// ErrInvalidCoordinate: координаты вне диапазона мира
	ErrInvalidCoordinate = errors.New("координаты чанка вне диапазона мира")
	// ErrCoordinateMismatch: в хранилище под координатами лежит другой чанк
	ErrCoordinateMismatch = errors.New("координаты загруженного чанка не совпадают с запрошенными")
)

// Submitter принимает фоновые задачи (реализуется tasks.Executor)
type Submitter interface {
	Submit(task tasks.Task)
}

// Stats: состояние менеджера
type Stats struct {
	Resident     int    `json:"resident"`
	PendingSaves int    `json:"pending_saves"`
	InFlight     int    `json:"in_flight_saves"`
	Loads        uint64 `json:"loads"`
	Generations  uint64 `json:"generations"`
	SavesOK      uint64 `json:"saves_ok"`
	SavesFailed  uint64 `json:"saves_failed"`
}

// Manager: единственный владелец набора загруженных чанков.
//
// Карты resident и pending защищены одним мьютексом. pending содержит
// выгруженные грязные чанки, чьё сохранение ещё идёт или завершилось
// ошибкой; Get возвращает такой чанк вместо повторной загрузки.
//
// Сохранения одного чанка не пересекаются: пока задача пишет снимок,
// следующий Release только подменяет очередной снимок в saving, и задача
// запишет его следующим. Сохранённые чанки освобождаются не рабочими
// исполнителя, а при следующем вызове менеджера (reclaim).
type Manager struct {
	store     storage.Store
	generator world.Generator
	executor  Submitter

	mu       sync.Mutex
	idle     *sync.Cond // Сигнал inFlight == 0
	resident map[spatial.ChunkID]*world.Chunk
	pending  map[spatial.ChunkID]*world.Chunk
	saving   map[spatial.ChunkID]*saveSlot
	reclaim  []*world.Chunk // Сохранены и ждут Dispose
	inFlight int
	closed   bool

	// saveCtx отменяется при закрытии, прерывая зависшие записи
	saveCtx     context.Context
	cancelSaves context.CancelFunc

	loads singleflight.Group

	metrics *metrics
	tracer  trace.Tracer
	logger  *logging.Logger
}

// Option настраивает Manager
type Option func(*Manager)

// WithRegisterer регистрирует метрики менеджера в reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.metrics.registerer = reg }
}

// WithLogger задаёт логгер менеджера
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracerProvider задаёт провайдер трассировки вместо глобального
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer(tracerName) }
}

// NewManager создаёт менеджер поверх хранилища, генератора и исполнителя
func NewManager(store storage.Store, generator world.Generator, executor Submitter, opts ...Option) (*Manager, error) {
	if store == nil || generator == nil || executor == nil {
		return nil, fmt.Errorf("менеджеру нужны хранилище, генератор и исполнитель")
	}

	m := &Manager{
		store:     store,
		generator: generator,
		executor:  executor,
		resident:  make(map[spatial.ChunkID]*world.Chunk),
		pending:   make(map[spatial.ChunkID]*world.Chunk),
		saving:    make(map[spatial.ChunkID]*saveSlot),
		metrics:   newMetrics(),
		tracer:    otel.Tracer(tracerName),
		logger:    logging.GetStreamingLogger(),
	}
	m.idle = sync.NewCond(&m.mu)
	m.saveCtx, m.cancelSaves = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(m)
	}
	if err := m.metrics.register(m); err != nil {
		return nil, fmt.Errorf("ошибка регистрации метрик менеджера: %w", err)
	}
	return m, nil
}

// Get возвращает чанк по координатам: из памяти, из очереди сохранения,
// из хранилища или сгенерированный. Одновременные вызовы для одних
// координат получают один и тот же экземпляр.
func (m *Manager) Get(ctx context.Context, coord vec.Vec3) (*world.Chunk, error) {
	id := spatial.PackChunk(coord.X, coord.Y, coord.Z)
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoordinate, coord)
	}

	if c, ok, err := m.lookup(id); ok || err != nil {
		return c, err
	}

	v, err, _ := m.loads.Do(strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		// Чанк мог появиться, пока мы ждали
		if c, ok, err := m.lookup(id); ok || err != nil {
			return c, err
		}

		c, err := m.load(ctx, coord)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			c.Dispose()
			return nil, ErrClosed
		}
		m.resident[id] = c
		m.linkNeighbors(c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*world.Chunk), nil
}

// GetAt: Get по упакованному ключу
func (m *Manager) GetAt(ctx context.Context, id spatial.ChunkID) (*world.Chunk, error) {
	if !id.Valid() {
		return nil, ErrInvalidCoordinate
	}
	x, y, z := id.Unpack()
	return m.Get(ctx, vec.Vec3{X: x, Y: y, Z: z})
}

// lookup ищет чанк в памяти; чанк из pending возвращается в resident
func (m *Manager) lookup(id spatial.ChunkID) (*world.Chunk, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrClosed
	}
	m.reclaimLocked()
	if c, ok := m.resident[id]; ok {
		return c, true, nil
	}
	if c, ok := m.pending[id]; ok {
		delete(m.pending, id)
		c.UnmarkForUnload()
		m.resident[id] = c
		m.linkNeighbors(c)
		m.logger.Debug("Чанк %v возвращён из очереди сохранения", c.Coord())
		return c, true, nil
	}
	return nil, false, nil
}

// load читает чанк из хранилища или генерирует новый
func (m *Manager) load(ctx context.Context, coord vec.Vec3) (*world.Chunk, error) {
	ctx, span := m.tracer.Start(ctx, "chunk.load", trace.WithAttributes(
		attribute.Int("chunk.x", coord.X),
		attribute.Int("chunk.y", coord.Y),
		attribute.Int("chunk.z", coord.Z),
	))
	defer span.End()
	start := time.Now()
	defer func() { m.metrics.loadDuration.Observe(time.Since(start).Seconds()) }()

	data, err := m.store.Load(ctx, coord)
	if errors.Is(err, storage.ErrNotFound) {
		c := m.generator.Generate(coord)
		c.SetFlags(world.FlagNeedsSave)
		m.metrics.generated()
		span.SetAttributes(attribute.Bool("chunk.generated", true))
		m.logger.Debug("Чанк %v сгенерирован", coord)
		return c, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, fmt.Errorf("ошибка загрузки чанка %v: %w", coord, err)
	}

	c, err := chunkfile.Unmarshal(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("ошибка декодирования чанка %v: %w", coord, err)
	}
	if c.Coord() != coord {
		c.Dispose()
		err := fmt.Errorf("%w: запрошен %v, в файле %v", ErrCoordinateMismatch, coord, c.Coord())
		span.RecordError(err)
		span.SetStatus(codes.Error, "coordinate mismatch")
		return nil, err
	}

	m.metrics.loaded()
	span.SetAttributes(attribute.Int("chunk.bytes", len(data)))
	m.logger.Debug("Чанк %v загружен (%d байт)", coord, len(data))
	return c, nil
}

// linkNeighbors связывает чанк с загруженными соседями. Вызывается под m.mu.
func (m *Manager) linkNeighbors(c *world.Chunk) {
	for _, d := range spatial.Directions {
		if n, ok := m.resident[c.ID().Neighbor(d)]; ok {
			c.Link(d, n)
		}
	}
}

// Peek возвращает загруженный чанк, не загружая его
func (m *Manager) Peek(coord vec.Vec3) (*world.Chunk, bool) {
	return m.PeekID(spatial.PackChunk(coord.X, coord.Y, coord.Z))
}

// PeekID: Peek по упакованному ключу
func (m *Manager) PeekID(id spatial.ChunkID) (*world.Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.resident[id]
	return c, ok
}

// Neighbor возвращает загруженного соседа чанка. Если кэшированная ссылка
// устарела, сосед ищется в менеджере и связь восстанавливается.
func (m *Manager) Neighbor(c *world.Chunk, d spatial.Direction) *world.Chunk {
	if n := c.Neighbor(d); n != nil {
		return n
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resident[c.ID()] != c {
		return nil
	}
	n, ok := m.resident[c.ID().Neighbor(d)]
	if !ok {
		return nil
	}
	c.Link(d, n)
	return n
}

// MarkInUse занимает чанк; помеченный на выгрузку чанк занять нельзя
func (m *Manager) MarkInUse(c *world.Chunk) error {
	return c.MarkInUse()
}

// UnmarkInUse освобождает чанк
func (m *Manager) UnmarkInUse(c *world.Chunk) {
	c.UnmarkInUse()
}

// MarkForUnload помечает чанк на выгрузку; используемый чанк пометить нельзя
func (m *Manager) MarkForUnload(c *world.Chunk) error {
	return c.MarkForUnload()
}

// Release выгружает чанк. Грязный чанк сохраняется в фоне и освобождается
// после успешной записи при одном из следующих вызовов менеджера; чистый
// освобождается сразу. Используемый чанк выгрузить нельзя
// (world.ErrChunkInUse). Повторный вызов ничего не делает.
// Вызывается потоком-владельцем; после Release вызывающий не должен
// обращаться к чанку, пока не получит его снова через Get.
func (m *Manager) Release(c *world.Chunk) error {
	if c == nil {
		return nil
	}

	m.mu.Lock()
	m.reclaimLocked()
	id := c.ID()
	if m.resident[id] != c {
		m.mu.Unlock()
		return nil
	}
	if err := c.MarkForUnload(); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.resident, id)
	c.Unlink()

	if !c.NeedsSave() {
		m.mu.Unlock()
		c.Dispose()
		return nil
	}

	snap, err := c.Snapshot()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.pending[id] = c
	if slot, ok := m.saving[id]; ok {
		// Идущая задача запишет этот снимок после текущего
		slot.next = snap
		m.mu.Unlock()
		return nil
	}
	m.saving[id] = &saveSlot{}
	m.inFlight++
	m.mu.Unlock()

	// Вне блокировки: исполнитель может выполнить задачу прямо здесь
	m.executor.Submit(&saveTask{manager: m, chunk: c, snapshot: snap})
	return nil
}

// reclaimLocked освобождает сохранённые задачами чанки. Вызывается под m.mu
// из горутины вызывающего, а не рабочего исполнителя.
func (m *Manager) reclaimLocked() {
	for i, c := range m.reclaim {
		c.Dispose()
		m.reclaim[i] = nil
	}
	m.reclaim = m.reclaim[:0]
}

// waitIdleLocked ждёт завершения фоновых сохранений или отмены ctx.
// Вызывается под m.mu.
func (m *Manager) waitIdleLocked(ctx context.Context) error {
	if m.inFlight == 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.idle.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	for m.inFlight > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ожидание фоновых сохранений (%d): %w", m.inFlight, err)
		}
		m.idle.Wait()
	}
	return nil
}

// IsBlockSolid сообщает, что блок загруженного чанка непроходим.
// Незагруженные чанки не подгружаются и считаются пустыми.
func (m *Manager) IsBlockSolid(chunk spatial.ChunkID, b spatial.BlockID) bool {
	c, ok := m.PeekID(chunk)
	if !ok || !b.Valid() {
		return false
	}
	x, y, z := b.Unpack()
	return block.IsSolid(c.BlockType(x, y, z))
}

// IsBlockNotEmpty сообщает, что блок загруженного чанка не воздух
func (m *Manager) IsBlockNotEmpty(chunk spatial.ChunkID, b spatial.BlockID) bool {
	c, ok := m.PeekID(chunk)
	if !ok || !b.Valid() {
		return false
	}
	x, y, z := b.Unpack()
	return c.IsBlockNotEmpty(x, y, z)
}

// ResidentCount возвращает число загруженных чанков
func (m *Manager) ResidentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resident)
}

// PendingSaves возвращает число выгруженных, но не сохранённых чанков
func (m *Manager) PendingSaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Resident возвращает ключи загруженных чанков
func (m *Manager) Resident() []spatial.ChunkID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]spatial.ChunkID, 0, len(m.resident))
	for id := range m.resident {
		ids = append(ids, id)
	}
	return ids
}

// Stats возвращает снимок состояния
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{
		Resident:     len(m.resident),
		PendingSaves: len(m.pending),
		InFlight:     m.inFlight,
	}
	m.mu.Unlock()

	s.Loads = m.metrics.loadsN.Load()
	s.Generations = m.metrics.generationsN.Load()
	s.SavesOK = m.metrics.savesOK.Load()
	s.SavesFailed = m.metrics.savesFailed.Load()
	return s
}

// Flush синхронно сохраняет все грязные чанки: загруженные и ожидающие
// повторной записи. Сначала дожидается фоновых сохранений; отмена ctx
// прерывает ожидание.
// Вызывается потоком-владельцем.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if err := m.waitIdleLocked(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	m.reclaimLocked()
	var dirty, retry []*world.Chunk
	for _, c := range m.resident {
		if c.NeedsSave() {
			dirty = append(dirty, c)
		}
	}
	for _, c := range m.pending {
		retry = append(retry, c)
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range dirty {
		if err := m.saveChunk(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range retry {
		if err := m.saveChunk(ctx, c); err != nil {
			errs = append(errs, err)
			continue
		}
		m.mu.Lock()
		if m.pending[c.ID()] == c {
			delete(m.pending, c.ID())
			c.Dispose()
		}
		m.mu.Unlock()
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Debug("Сброшено чанков: %d загруженных, %d отложенных", len(dirty), len(retry))
	return nil
}

// saveChunk снимает снимок и записывает его синхронно
func (m *Manager) saveChunk(ctx context.Context, c *world.Chunk) error {
	snap, err := c.Snapshot()
	if err != nil {
		return err
	}
	if err := m.writeSnapshot(ctx, snap); err != nil {
		return err
	}
	c.CompleteSave(snap.Revision)
	return nil
}

// writeSnapshot кодирует и записывает снимок
func (m *Manager) writeSnapshot(ctx context.Context, snap *world.Snapshot) error {
	ctx, span := m.tracer.Start(ctx, "chunk.save", trace.WithAttributes(
		attribute.Int("chunk.x", snap.Coord.X),
		attribute.Int("chunk.y", snap.Coord.Y),
		attribute.Int("chunk.z", snap.Coord.Z),
	))
	defer span.End()

	data, err := chunkfile.Marshal(snap)
	if err == nil {
		err = m.store.Save(ctx, snap.Coord, data)
	}
	m.metrics.saved(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return fmt.Errorf("ошибка сохранения чанка %v: %w", snap.Coord, err)
	}

	span.SetAttributes(attribute.Int("chunk.bytes", len(data)))
	return nil
}

// Close сохраняет всё, освобождает чанки и закрывает хранилище.
// Исполнитель остаётся за вызывающим.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	flushErr := m.Flush(ctx)

	m.mu.Lock()
	m.closed = true
	// Зависшие записи больше никто не ждёт
	m.cancelSaves()
	m.reclaimLocked()
	for id, c := range m.resident {
		c.Dispose()
		delete(m.resident, id)
	}
	for id, c := range m.pending {
		m.logger.Error("Чанк %v не сохранён при закрытии", c.Coord())
		c.Dispose()
		delete(m.pending, id)
	}
	m.mu.Unlock()

	storeErr := m.store.Close()
	if flushErr != nil || storeErr != nil {
		return errors.Join(flushErr, storeErr)
	}
	return nil
}
