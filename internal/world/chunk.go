package world

import (
	"errors"
	"sync/atomic"
	"weak"

	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/world/block"
)

// BlockCount: число блоков в чанке
const BlockCount = spatial.ChunkSize * spatial.ChunkSize * spatial.ChunkSize

var (
	// ErrChunkInUse возвращается при попытке выгрузить используемый чанк
	ErrChunkInUse = errors.New("чанк используется и не может быть выгружен")
	// ErrMarkedForUnload возвращается при попытке занять чанк, помеченный на выгрузку
	ErrMarkedForUnload = errors.New("чанк помечен на выгрузку")
	// ErrDisposed возвращается при работе с освобождённым чанком
	ErrDisposed = errors.New("чанк освобождён")
)

// Chunk представляет куб мира размером ChunkSize³ блоков.
//
// Блоки и освещение изменяет только поток-владелец. Флаги и ревизия
// атомарны: фоновая задача сохранения снимает FlagNeedsSave, не трогая блоки.
// Ссылки на соседей не владеющие и могут устареть в любой момент.
type Chunk struct {
	coord  vec.Vec3        // Координаты чанка в сетке мира
	id     spatial.ChunkID // Упакованные координаты
	center vec.Vec3Float   // Центр в мировых координатах
	bounds AABB            // Границы в мировых координатах

	blocks []block.Type // Типы блоков, индекс x + y·S + z·S²
	light  []uint8      // Освещённость блоков 0..15

	flags    atomic.Uint32
	revision atomic.Uint64 // Растёт при каждом изменении блоков

	neighbors [spatial.DirectionCount]weak.Pointer[Chunk]
}

// NewChunk создаёт пустой чанк (только воздух) с указанными координатами.
// Координаты обязаны лежать в диапазоне spatial.ChunkAxisMin..ChunkAxisMax.
func NewChunk(coord vec.Vec3) *Chunk {
	id := spatial.PackChunk(coord.X, coord.Y, coord.Z)
	if !id.Valid() {
		panic("world: координаты чанка вне допустимого диапазона: " + coord.String())
	}

	c := &Chunk{
		coord:  coord,
		id:     id,
		center: spatial.ChunkCenter(id),
		blocks: make([]block.Type, BlockCount),
		light:  make([]uint8, BlockCount),
	}
	c.bounds = AABB{Min: spatial.ChunkOrigin(id), Max: spatial.ChunkOrigin(id).Add(vec.Vec3Float{
		X: spatial.ChunkWidth, Y: spatial.ChunkWidth, Z: spatial.ChunkWidth,
	})}
	c.flags.Store(uint32(FlagEmpty))
	return c
}

// Coord возвращает координаты чанка
func (c *Chunk) Coord() vec.Vec3 { return c.coord }

// ID возвращает упакованный ключ чанка
func (c *Chunk) ID() spatial.ChunkID { return c.id }

// Center возвращает центр чанка в мировых координатах
func (c *Chunk) Center() vec.Vec3Float { return c.center }

// Bounds возвращает границы чанка в мировых координатах
func (c *Chunk) Bounds() AABB { return c.bounds }

// Revision возвращает номер последнего изменения блоков
func (c *Chunk) Revision() uint64 { return c.revision.Load() }

// BlockIndex переводит локальные координаты в смещение плоского массива
func BlockIndex(x, y, z int) int {
	return x + y*spatial.ChunkSize + z*spatial.ChunkSize*spatial.ChunkSize
}

func inChunk(x, y, z int) bool {
	return x >= 0 && x < spatial.ChunkSize &&
		y >= 0 && y < spatial.ChunkSize &&
		z >= 0 && z < spatial.ChunkSize
}

// BlockType возвращает тип блока по локальным координатам.
// Вне чанка и для освобождённого чанка возвращает воздух.
func (c *Chunk) BlockType(x, y, z int) block.Type {
	if !inChunk(x, y, z) {
		return block.Air
	}
	return c.BlockTypeAt(BlockIndex(x, y, z))
}

// BlockTypeAt возвращает тип блока по смещению в массиве
func (c *Chunk) BlockTypeAt(index int) block.Type {
	if index < 0 || index >= len(c.blocks) {
		return block.Air
	}
	return c.blocks[index]
}

// SetBlockType записывает тип блока без пометок о перестройке.
// Используется генератором и загрузчиком; флаг EMPTY не пересчитывается.
func (c *Chunk) SetBlockType(x, y, z int, t block.Type) {
	if !inChunk(x, y, z) {
		return
	}
	c.SetBlockTypeAt(BlockIndex(x, y, z), t)
}

// SetBlockTypeAt записывает тип блока по смещению в массиве
func (c *Chunk) SetBlockTypeAt(index int, t block.Type) {
	if index < 0 || index >= len(c.blocks) {
		return
	}
	c.blocks[index] = t
	c.revision.Add(1)
}

// SetBlockTypeAndInvalidate: игровое изменение блока.
//
// Помечает чанк NEEDS_REBUILD|NEEDS_SAVE. Если изменилось свечение блока,
// помечает NEEDS_REBUILD всех шестерых загруженных соседей; если блок лежит
// на границе, помечается и сосед за этой гранью. Возвращает false, если
// тип не изменился или координаты вне чанка.
func (c *Chunk) SetBlockTypeAndInvalidate(x, y, z int, t block.Type) bool {
	if !inChunk(x, y, z) || c.Disposed() {
		return false
	}

	index := BlockIndex(x, y, z)
	old := c.blocks[index]
	if old == t {
		return false
	}

	c.SetBlockTypeAt(index, t)
	if t != block.Air {
		c.ClearFlags(FlagEmpty)
	}
	c.SetFlags(FlagNeedsRebuild | FlagNeedsSave)

	oldLight, newLight := block.EmittedLight(old), block.EmittedLight(t)
	if oldLight != newLight {
		c.light[index] = newLight
		for _, d := range spatial.Directions {
			if n := c.Neighbor(d); n != nil {
				n.SetFlags(FlagNeedsRebuild)
			}
		}
		return true
	}

	for _, d := range borderFaces(x, y, z) {
		if n := c.Neighbor(d); n != nil {
			n.SetFlags(FlagNeedsRebuild)
		}
	}
	return true
}

func borderFaces(x, y, z int) []spatial.Direction {
	var faces []spatial.Direction
	last := spatial.ChunkSize - 1
	if x == 0 {
		faces = append(faces, spatial.Left)
	} else if x == last {
		faces = append(faces, spatial.Right)
	}
	if y == 0 {
		faces = append(faces, spatial.Bottom)
	} else if y == last {
		faces = append(faces, spatial.Top)
	}
	if z == 0 {
		faces = append(faces, spatial.Back)
	} else if z == last {
		faces = append(faces, spatial.Front)
	}
	return faces
}

// Light возвращает освещённость блока
func (c *Chunk) Light(x, y, z int) uint8 {
	if !inChunk(x, y, z) || len(c.light) == 0 {
		return 0
	}
	return c.light[BlockIndex(x, y, z)]
}

// SetLight записывает освещённость блока, значения выше 15 обрезаются
func (c *Chunk) SetLight(x, y, z int, level uint8) {
	if !inChunk(x, y, z) || len(c.light) == 0 {
		return
	}
	if level > block.MaxLight {
		level = block.MaxLight
	}
	c.light[BlockIndex(x, y, z)] = level
}

// IsBlockEmpty проверяет, что блок является воздухом
func (c *Chunk) IsBlockEmpty(x, y, z int) bool {
	return c.BlockType(x, y, z) == block.Air
}

// IsBlockNotEmpty проверяет, что блок не воздух
func (c *Chunk) IsBlockNotEmpty(x, y, z int) bool {
	return !c.IsBlockEmpty(x, y, z)
}

// UpdateEmptyFlag пересчитывает EMPTY полным проходом по массиву блоков.
// Вызывается после генерации и загрузки, а не после одиночных правок.
func (c *Chunk) UpdateEmptyFlag() bool {
	for _, t := range c.blocks {
		if t != block.Air {
			c.ClearFlags(FlagEmpty)
			return false
		}
	}
	c.SetFlags(FlagEmpty)
	return true
}

// Flags возвращает текущие флаги
func (c *Chunk) Flags() Flags {
	return Flags(c.flags.Load())
}

// HasFlags сообщает, что установлены все флаги mask
func (c *Chunk) HasFlags(mask Flags) bool {
	return c.Flags().Has(mask)
}

// SetFlags атомарно устанавливает флаги
func (c *Chunk) SetFlags(mask Flags) {
	c.flags.Or(uint32(mask))
}

// ClearFlags атомарно снимает флаги
func (c *Chunk) ClearFlags(mask Flags) {
	c.flags.And(^uint32(mask))
}

// IsEmpty сообщает, что в чанке только воздух (по флагу EMPTY)
func (c *Chunk) IsEmpty() bool { return c.HasFlags(FlagEmpty) }

// NeedsSave сообщает, что чанк нужно записать в хранилище
func (c *Chunk) NeedsSave() bool { return c.HasFlags(FlagNeedsSave) }

// NeedsRebuild сообщает, что меш чанка устарел
func (c *Chunk) NeedsRebuild() bool { return c.HasFlags(FlagNeedsRebuild) }

// InUse сообщает, что чанк занят владельцем
func (c *Chunk) InUse() bool { return c.HasFlags(FlagInUse) }

// Disposed сообщает, что ресурсы чанка освобождены
func (c *Chunk) Disposed() bool { return c.HasFlags(FlagDisposed) }

// transition атомарно устанавливает set, если не выставлен ни один бит из forbidden
func (c *Chunk) transition(set, forbidden Flags) (Flags, bool) {
	for {
		old := c.flags.Load()
		if Flags(old)&forbidden != 0 {
			return Flags(old), false
		}
		if c.flags.CompareAndSwap(old, old|uint32(set)) {
			return Flags(old), true
		}
	}
}

// MarkInUse занимает чанк. Чанк, помеченный на выгрузку или освобождённый,
// занять нельзя: это ошибка вызывающего кода.
func (c *Chunk) MarkInUse() error {
	current, ok := c.transition(FlagInUse, FlagMarkedForUnload|FlagDisposed)
	if ok {
		return nil
	}
	if current&FlagDisposed != 0 {
		return ErrDisposed
	}
	return ErrMarkedForUnload
}

// UnmarkInUse освобождает чанк
func (c *Chunk) UnmarkInUse() {
	c.ClearFlags(FlagInUse)
}

// MarkForUnload помечает чанк на выгрузку. Используемый чанк пометить нельзя.
func (c *Chunk) MarkForUnload() error {
	current, ok := c.transition(FlagMarkedForUnload, FlagInUse|FlagDisposed)
	if ok {
		return nil
	}
	if current&FlagDisposed != 0 {
		return ErrDisposed
	}
	return ErrChunkInUse
}

// UnmarkForUnload отменяет выгрузку (чанк снова запрошен до завершения сохранения)
func (c *Chunk) UnmarkForUnload() {
	c.ClearFlags(FlagMarkedForUnload)
}

// CompleteSave снимает NEEDS_SAVE после успешной записи снимка с ревизией rev.
// Если после снимка блоки менялись, флаг возвращается.
func (c *Chunk) CompleteSave(rev uint64) {
	c.ClearFlags(FlagNeedsSave)
	if c.revision.Load() != rev {
		c.SetFlags(FlagNeedsSave)
	}
}

// Dispose освобождает массивы блоков и света и помечает чанк DISPOSED.
// Повторный вызов ничего не делает.
func (c *Chunk) Dispose() {
	if _, ok := c.transition(FlagDisposed, FlagDisposed); !ok {
		return
	}
	c.Unlink()
	c.blocks = nil
	c.light = nil
}
