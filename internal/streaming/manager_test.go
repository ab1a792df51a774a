package streaming

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
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
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var errDiskFull = errors.New("диск переполнен")

const (
	timeout = 2 * time.Second
	tick    = time.Millisecond
)

// testStore: хранилище в памяти с управляемыми сбоями и задержками
type testStore struct {
	*storage.MemoryStore
	failSaves atomic.Bool
	loads     atomic.Int32
	loadGate  chan struct{} // если задан, Load ждёт закрытия
	saveGate  chan struct{} // если задан, Save ждёт закрытия или отмены ctx
}

func newTestStore() *testStore {
	return &testStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *testStore) Load(ctx context.Context, coord vec.Vec3) ([]byte, error) {
	s.loads.Add(1)
	if s.loadGate != nil {
		<-s.loadGate
	}
	return s.MemoryStore.Load(ctx, coord)
}

func (s *testStore) Save(ctx context.Context, coord vec.Vec3, data []byte) error {
	if s.saveGate != nil {
		select {
		case <-s.saveGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.failSaves.Load() {
		return errDiskFull
	}
	return s.MemoryStore.Save(ctx, coord, data)
}

// stoneGenerator ставит один камень в угол чанка
type stoneGenerator struct {
	calls atomic.Int32
}

func (g *stoneGenerator) Generate(coord vec.Vec3) *world.Chunk {
	g.calls.Add(1)
	c := world.NewChunk(coord)
	c.SetBlockType(0, 0, 0, block.Stone)
	c.SeedLight()
	c.UpdateEmptyFlag()
	c.SetFlags(world.FlagNeedsRebuild | world.FlagNeedsSave)
	return c
}

type fixture struct {
	manager  *Manager
	store    *testStore
	gen      *stoneGenerator
	executor *tasks.Executor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	quiet := logging.NewLoggerWithWriter("test", io.Discard, logging.ERROR)

	exec, err := tasks.NewExecutor(tasks.Options{Workers: 2, QueueSize: 8, Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(exec.Dispose)

	f := &fixture{store: newTestStore(), gen: &stoneGenerator{}, executor: exec}
	opts = append([]Option{WithLogger(quiet)}, opts...)
	f.manager, err = NewManager(f.store, f.gen, exec, opts...)
	require.NoError(t, err)
	return f
}

// manualSubmitter копит задачи; тест выполняет их по одной
type manualSubmitter struct {
	queue []tasks.Task
}

func (s *manualSubmitter) Submit(task tasks.Task) {
	s.queue = append(s.queue, task)
}

// runNext выполняет первую задачу; повторяемая задача остаётся в начале очереди
func (s *manualSubmitter) runNext(t *testing.T) bool {
	t.Helper()
	require.NotEmpty(t, s.queue, "очередь задач пуста")
	again := s.queue[0].Run(context.Background())
	if !again {
		s.queue = s.queue[1:]
	}
	return again
}

func newManualFixture(t *testing.T) (*fixture, *manualSubmitter) {
	t.Helper()
	quiet := logging.NewLoggerWithWriter("test", io.Discard, logging.ERROR)
	sub := &manualSubmitter{}

	f := &fixture{store: newTestStore(), gen: &stoneGenerator{}}
	var err error
	f.manager, err = NewManager(f.store, f.gen, sub, WithLogger(quiet))
	require.NoError(t, err)
	return f, sub
}

// waitSaves ждёт завершения фоновых сохранений
func waitSaves(m *Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.inFlight > 0 {
		m.idle.Wait()
	}
}

func TestManager_GetGeneratesAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coord := vec.Vec3{X: -2, Y: 0, Z: 3}

	c, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	assert.Equal(t, coord, c.Coord())
	assert.True(t, c.NeedsSave(), "сгенерированный чанк ещё не сохранён")

	again, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	assert.Same(t, c, again, "повторный Get возвращает тот же экземпляр")
	assert.Equal(t, int32(1), f.gen.calls.Load())
	assert.Equal(t, 1, f.manager.ResidentCount())

	peeked, ok := f.manager.Peek(coord)
	assert.True(t, ok)
	assert.Same(t, c, peeked)

	byID, err := f.manager.GetAt(ctx, spatial.PackChunk(-2, 0, 3))
	require.NoError(t, err)
	assert.Same(t, c, byID)
}

func TestManager_ConcurrentGetSingleInstance(t *testing.T) {
	f := newFixture(t)
	f.store.loadGate = make(chan struct{})

	const n = 16
	results := make([]*world.Chunk, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.manager.Get(context.Background(), vec.Vec3{X: 4})
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}

	require.Eventually(t, func() bool { return f.store.loads.Load() >= 1 }, timeout, tick)
	close(f.store.loadGate)
	wg.Wait()

	for _, c := range results {
		assert.Same(t, results[0], c)
	}
	assert.Equal(t, int32(1), f.gen.calls.Load(), "генерация выполнена ровно один раз")
}

func TestManager_InvalidCoordinate(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Get(context.Background(), vec.Vec3{X: spatial.ChunkAxisMax + 1})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	_, err = f.manager.GetAt(context.Background(), spatial.InvalidChunkID)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestManager_ReleaseDirtySavesThenDisposes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coord := vec.Vec3{X: 1, Y: 2, Z: 3}

	c, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	c.SetBlockTypeAndInvalidate(5, 5, 5, block.Glowstone)

	require.NoError(t, f.manager.Release(c))
	assert.Equal(t, 0, f.manager.ResidentCount())
	waitSaves(f.manager)

	assert.False(t, c.Disposed(), "рабочий исполнителя не освобождает чанк")
	assert.Equal(t, 0, f.manager.PendingSaves())
	assert.Equal(t, uint64(1), f.manager.Stats().SavesOK)

	// Освобождение происходит при следующем вызове со стороны владельца
	require.NoError(t, f.manager.Flush(ctx))
	assert.True(t, c.Disposed(), "после записи чанк освобождён")

	// Следующий Get читает сохранённые данные
	loaded, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	assert.NotSame(t, c, loaded)
	assert.Equal(t, block.Glowstone, loaded.BlockType(5, 5, 5))
	assert.Equal(t, block.Stone, loaded.BlockType(0, 0, 0))
	assert.False(t, loaded.NeedsSave())
	assert.True(t, loaded.NeedsRebuild())
	assert.Equal(t, int32(1), f.gen.calls.Load())
	assert.Equal(t, uint64(1), f.manager.Stats().Loads)
}

func TestManager_ReleaseCleanDisposesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.manager.Get(ctx, vec.Vec3{})
	require.NoError(t, err)
	require.NoError(t, f.manager.Flush(ctx))
	assert.False(t, c.NeedsSave())

	require.NoError(t, f.manager.Release(c))
	assert.True(t, c.Disposed())
	assert.Equal(t, 0, f.manager.PendingSaves())

	// Повторный Release ничего не делает
	assert.NoError(t, f.manager.Release(c))
	assert.NoError(t, f.manager.Release(nil))
}

func TestManager_ReleaseInUseFails(t *testing.T) {
	f := newFixture(t)
	c, err := f.manager.Get(context.Background(), vec.Vec3{})
	require.NoError(t, err)

	require.NoError(t, f.manager.MarkInUse(c))
	assert.ErrorIs(t, f.manager.Release(c), world.ErrChunkInUse)
	assert.Equal(t, 1, f.manager.ResidentCount(), "используемый чанк остаётся загруженным")
	assert.False(t, c.HasFlags(world.FlagMarkedForUnload))

	f.manager.UnmarkInUse(c)
	assert.NoError(t, f.manager.Release(c))
}

func TestManager_MarkForUnloadBlocksMarkInUse(t *testing.T) {
	f := newFixture(t)
	c, err := f.manager.Get(context.Background(), vec.Vec3{})
	require.NoError(t, err)

	require.NoError(t, f.manager.MarkForUnload(c))
	assert.ErrorIs(t, f.manager.MarkInUse(c), world.ErrMarkedForUnload)
}

func TestManager_FailedSaveKeepsChunk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coord := vec.Vec3{Z: -7}
	f.store.failSaves.Store(true)

	c, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(c))
	waitSaves(f.manager)

	assert.False(t, c.Disposed(), "несохранённый чанк не освобождается")
	assert.True(t, c.NeedsSave())
	assert.Equal(t, 1, f.manager.PendingSaves())
	assert.Equal(t, uint64(1), f.manager.Stats().SavesFailed)

	// Flush повторяет запись и сообщает об ошибке
	err = f.manager.Flush(ctx)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, f.manager.PendingSaves())

	// Get возвращает тот же экземпляр, а не генерирует заново
	back, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	assert.Same(t, c, back)
	assert.False(t, back.HasFlags(world.FlagMarkedForUnload))
	assert.NoError(t, f.manager.MarkInUse(back))
	f.manager.UnmarkInUse(back)
	assert.Equal(t, int32(1), f.gen.calls.Load())

	// После восстановления диска повторная выгрузка проходит
	f.store.failSaves.Store(false)
	require.NoError(t, f.manager.Release(back))
	waitSaves(f.manager)
	require.NoError(t, f.manager.Flush(ctx))
	assert.True(t, back.Disposed())
	assert.Equal(t, 1, f.store.Len())
}

func TestManager_ReleaseAgainDuringSaveKeepsNewestEdit(t *testing.T) {
	f, sub := newManualFixture(t)
	ctx := context.Background()
	coord := vec.Vec3{X: 3, Z: -1}

	c, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(c))
	require.Len(t, sub.queue, 1)

	// Чанк вернули, изменили и снова выгрузили, пока первая запись не выполнена
	back, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	require.Same(t, c, back)
	back.SetBlockTypeAndInvalidate(5, 5, 5, block.Glowstone)
	require.NoError(t, f.manager.Release(back))
	assert.Len(t, sub.queue, 1, "второе сохранение того же чанка не запускается параллельно")

	// Первый снимок записан, задача берётся за новый
	assert.True(t, sub.runNext(t))
	assert.False(t, c.Disposed())
	assert.True(t, c.NeedsSave(), "правка после первого снимка ещё не записана")
	assert.Equal(t, 1, f.manager.PendingSaves())

	// Запись нового снимка не удалась: чанк остаётся доступным для повтора
	f.store.failSaves.Store(true)
	assert.False(t, sub.runNext(t))
	assert.Empty(t, sub.queue)
	assert.False(t, c.Disposed())
	assert.True(t, c.NeedsSave())
	assert.Equal(t, 1, f.manager.PendingSaves())
	assert.Equal(t, 0, f.manager.Stats().InFlight)

	f.store.failSaves.Store(false)
	require.NoError(t, f.manager.Flush(ctx))
	assert.Equal(t, 0, f.manager.PendingSaves())
	assert.True(t, c.Disposed())

	loaded, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	assert.NotSame(t, c, loaded)
	assert.Equal(t, block.Glowstone, loaded.BlockType(5, 5, 5), "правка не потеряна")
	assert.Equal(t, int32(1), f.gen.calls.Load())
}

func TestManager_SavesOfOneChunkWriteInOrder(t *testing.T) {
	f, sub := newManualFixture(t)
	ctx := context.Background()
	coord := vec.Vec3{Y: -4}

	c, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(c))

	back, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	back.SetBlockTypeAndInvalidate(2, 2, 2, block.Dirt)
	require.NoError(t, f.manager.Release(back))

	for sub.runNext(t) {
	}
	assert.False(t, c.NeedsSave())
	assert.Equal(t, uint64(2), f.manager.Stats().SavesOK)

	// Последним записан более новый снимок
	data, err := f.store.MemoryStore.Load(ctx, coord)
	require.NoError(t, err)
	stored, err := chunkfile.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, block.Dirt, stored.BlockType(2, 2, 2))
}

func TestManager_FlushHonorsContext(t *testing.T) {
	f := newFixture(t)
	f.store.saveGate = make(chan struct{}) // запись зависает

	c, err := f.manager.Get(context.Background(), vec.Vec3{X: -6})
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(c))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.manager.Flush(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, f.manager.Stats().InFlight)

	// Close с истёкшим ctx не зависает и прерывает запись
	err = f.manager.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Eventually(t, func() bool { return f.manager.Stats().InFlight == 0 }, timeout, tick)
	assert.Equal(t, uint64(1), f.manager.Stats().SavesFailed)
}

func TestManager_FlushRetriesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.failSaves.Store(true)

	c, err := f.manager.Get(ctx, vec.Vec3{X: 9})
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(c))
	waitSaves(f.manager)
	require.Equal(t, 1, f.manager.PendingSaves())

	f.store.failSaves.Store(false)
	require.NoError(t, f.manager.Flush(ctx))
	assert.Equal(t, 0, f.manager.PendingSaves())
	assert.True(t, c.Disposed())
	assert.Equal(t, 1, f.store.Len())
}

func TestManager_ResurrectDuringSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coord := vec.Vec3{Y: 3}
	f.store.saveGate = make(chan struct{})

	c, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(c))

	// Сохранение висит; Get возвращает тот же чанк
	back, err := f.manager.Get(ctx, coord)
	require.NoError(t, err)
	assert.Same(t, c, back)
	back.SetBlockTypeAndInvalidate(1, 1, 1, block.Dirt)

	close(f.store.saveGate)
	waitSaves(f.manager)

	assert.False(t, back.Disposed(), "возвращённый чанк не освобождается задачей сохранения")
	assert.True(t, back.NeedsSave(), "правка после снимка не потеряна")
	assert.Equal(t, 1, f.manager.ResidentCount())

	require.NoError(t, f.manager.Flush(ctx))
	assert.False(t, back.NeedsSave())
}

func TestManager_NeighborsLinkedAndUnlinked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.manager.Get(ctx, vec.Vec3{})
	require.NoError(t, err)
	b, err := f.manager.Get(ctx, vec.Vec3{X: 1})
	require.NoError(t, err)

	assert.Same(t, b, a.Neighbor(spatial.Right))
	assert.Same(t, a, b.Neighbor(spatial.Left))
	assert.Same(t, b, f.manager.Neighbor(a, spatial.Right))
	assert.Nil(t, f.manager.Neighbor(a, spatial.Top))

	require.NoError(t, f.manager.Release(b))
	assert.Nil(t, a.Neighbor(spatial.Right))
	assert.Nil(t, f.manager.Neighbor(a, spatial.Right))
}

func TestManager_NeighborRelinksStaleLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.manager.Get(ctx, vec.Vec3{})
	require.NoError(t, err)
	b, err := f.manager.Get(ctx, vec.Vec3{Y: 1})
	require.NoError(t, err)

	a.SetNeighbor(spatial.Top, nil)
	assert.Same(t, b, f.manager.Neighbor(a, spatial.Top), "сосед найден через менеджер")
	assert.Same(t, b, a.Neighbor(spatial.Top), "связь восстановлена")
}

func TestManager_DecodeErrorPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coord := vec.Vec3{X: 2}

	src := world.NewChunk(coord)
	snap, err := src.Snapshot()
	require.NoError(t, err)
	data, err := chunkfile.Marshal(snap)
	require.NoError(t, err)
	data[15] = 0xEE // DE AD BE EE
	require.NoError(t, f.store.MemoryStore.Save(ctx, coord, data))

	_, err = f.manager.Get(ctx, coord)
	assert.ErrorIs(t, err, chunkfile.ErrBadMagic)
	assert.Equal(t, 0, f.manager.ResidentCount())
	assert.Equal(t, int32(0), f.gen.calls.Load(), "повреждённый чанк не заменяется генерацией")
}

func TestManager_CoordinateMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := world.NewChunk(vec.Vec3{X: 5}).Snapshot()
	require.NoError(t, err)
	data, err := chunkfile.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, f.store.MemoryStore.Save(ctx, vec.Vec3{X: 6}, data))

	_, err = f.manager.Get(ctx, vec.Vec3{X: 6})
	assert.ErrorIs(t, err, ErrCoordinateMismatch)
}

func TestManager_BlockQueries(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Get(context.Background(), vec.Vec3{})
	require.NoError(t, err)

	origin := spatial.PackChunk(0, 0, 0)
	assert.True(t, f.manager.IsBlockSolid(origin, spatial.PackBlock(0, 0, 0)))
	assert.True(t, f.manager.IsBlockNotEmpty(origin, spatial.PackBlock(0, 0, 0)))
	assert.False(t, f.manager.IsBlockSolid(origin, spatial.PackBlock(1, 0, 0)))
	assert.False(t, f.manager.IsBlockSolid(origin, spatial.InvalidBlockID))

	// Незагруженный чанк не подгружается
	assert.False(t, f.manager.IsBlockSolid(spatial.PackChunk(9, 9, 9), spatial.PackBlock(0, 0, 0)))
	assert.Equal(t, 1, f.manager.ResidentCount())
}

func TestManager_CloseFlushesAndRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.manager.Get(ctx, vec.Vec3{})
	require.NoError(t, err)
	require.NoError(t, f.manager.Close(ctx))
	require.NoError(t, f.manager.Close(ctx), "повторное закрытие безопасно")

	assert.True(t, c.Disposed())
	assert.Equal(t, 0, f.manager.ResidentCount())

	_, err = f.manager.Get(ctx, vec.Vec3{})
	assert.ErrorIs(t, err, ErrClosed)

	// Хранилище закрыто менеджером
	_, err = f.store.MemoryStore.Load(ctx, vec.Vec3{})
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestManager_MetricsAndTracing(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	f := newFixture(t, WithRegisterer(reg), WithTracerProvider(tp))
	ctx := context.Background()

	c, err := f.manager.Get(ctx, vec.Vec3{})
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(c))
	waitSaves(f.manager)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.manager.metrics.generations))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.manager.metrics.saves.WithLabelValues("ok")))

	names := make(map[string]int)
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["chunk.load"])
	assert.Equal(t, 1, names["chunk.save"])

	// Повторная регистрация тех же метрик: ошибка конструктора
	_, err = NewManager(f.store, f.gen, f.executor, WithRegisterer(reg))
	assert.Error(t, err)
}
