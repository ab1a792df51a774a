// Package spatial упаковывает координаты чанков и блоков в компактные ключи.
//
// Все функции пакета чистые. Выход за допустимый диапазон никогда не
// «заворачивается»: упаковка возвращает InvalidChunkID / InvalidBlockID,
// распаковка невалидного ключа возвращает (0,0,0).
package spatial

import "fmt"

const (
	// ChunkSize: размер ребра чанка в блоках (степень двойки).
	ChunkSize = 32
	// BlockSize: размер ребра блока в мировых единицах.
	BlockSize = 1.0
	// ChunkWidth: размер ребра чанка в мировых единицах.
	ChunkWidth = ChunkSize * BlockSize

	chunkHalfWidth = ChunkWidth / 2
)

// ChunkID: координаты чанка, упакованные по 21 биту на ось.
//
//	бит 63      не используется (признак невалидного ключа)
//	биты 42..62 x
//	биты 21..41 y
//	биты  0..20 z
//
// Каждая ось хранится в дополнительном коде и расширяется знаком при распаковке.
type ChunkID uint64

const (
	chunkAxisBits  = 21
	chunkAxisMask  = 1<<chunkAxisBits - 1
	chunkXShift    = 2 * chunkAxisBits
	chunkYShift    = chunkAxisBits
	chunkSignShift = 64 - chunkAxisBits

	// ChunkAxisMin и ChunkAxisMax: границы координаты чанка по любой оси.
	ChunkAxisMin = -(1 << (chunkAxisBits - 1))
	ChunkAxisMax = 1<<(chunkAxisBits-1) - 1

	// InvalidChunkID помечает отсутствующий или некорректный ключ.
	InvalidChunkID ChunkID = 1 << 63
)

// PackChunk упаковывает координаты чанка.
// Для координат вне [ChunkAxisMin, ChunkAxisMax] возвращает InvalidChunkID.
func PackChunk(x, y, z int) ChunkID {
	if !chunkAxisInRange(x) || !chunkAxisInRange(y) || !chunkAxisInRange(z) {
		return InvalidChunkID
	}
	return ChunkID((uint64(x)&chunkAxisMask)<<chunkXShift |
		(uint64(y)&chunkAxisMask)<<chunkYShift |
		uint64(z)&chunkAxisMask)
}

// Valid сообщает, что ключ не является InvalidChunkID.
func (id ChunkID) Valid() bool {
	return id&InvalidChunkID == 0
}

// Unpack возвращает координаты чанка.
func (id ChunkID) Unpack() (x, y, z int) {
	if !id.Valid() {
		return 0, 0, 0
	}
	return signExtend21(uint64(id) >> chunkXShift),
		signExtend21(uint64(id) >> chunkYShift),
		signExtend21(uint64(id))
}

// Neighbor возвращает ключ соседнего чанка в направлении d.
// На границе диапазона возвращает InvalidChunkID.
func (id ChunkID) Neighbor(d Direction) ChunkID {
	if !id.Valid() {
		return InvalidChunkID
	}
	x, y, z := id.Unpack()
	dx, dy, dz := d.Offset()
	return PackChunk(x+dx, y+dy, z+dz)
}

func (id ChunkID) String() string {
	if !id.Valid() {
		return "chunk(invalid)"
	}
	x, y, z := id.Unpack()
	return fmt.Sprintf("chunk(%d,%d,%d)", x, y, z)
}

func chunkAxisInRange(v int) bool {
	return v >= ChunkAxisMin && v <= ChunkAxisMax
}

func signExtend21(v uint64) int {
	return int(int64((v&chunkAxisMask)<<chunkSignShift) >> chunkSignShift)
}

// BlockID: локальные координаты блока внутри чанка, по 10 бит на ось.
//
//	биты 30..31 не используются (бит 31 отмечает невалидный ключ)
//	биты 20..29 x
//	биты 10..19 y
//	биты  0..9  z
type BlockID uint32

const (
	blockAxisBits = 10
	blockAxisMask = 1<<blockAxisBits - 1
	blockXShift   = 2 * blockAxisBits
	blockYShift   = blockAxisBits

	// InvalidBlockID помечает отсутствующий или некорректный ключ блока.
	InvalidBlockID BlockID = 1 << 31
)

// PackBlock упаковывает локальные координаты блока.
// Для координат вне [0, ChunkSize) возвращает InvalidBlockID.
func PackBlock(x, y, z int) BlockID {
	if !blockAxisInRange(x) || !blockAxisInRange(y) || !blockAxisInRange(z) {
		return InvalidBlockID
	}
	return BlockID(x<<blockXShift | y<<blockYShift | z)
}

// Valid сообщает, что ключ не является невалидным и лежит внутри чанка.
func (id BlockID) Valid() bool {
	if id&^(1<<(3*blockAxisBits)-1) != 0 {
		return false
	}
	x, y, z := id.fields()
	return x < ChunkSize && y < ChunkSize && z < ChunkSize
}

// Unpack возвращает локальные координаты блока.
func (id BlockID) Unpack() (x, y, z int) {
	if !id.Valid() {
		return 0, 0, 0
	}
	return id.fields()
}

// Index возвращает смещение блока в плоском массиве чанка: x + y·S + z·S².
// Для невалидного ключа возвращает -1.
func (id BlockID) Index() int {
	if !id.Valid() {
		return -1
	}
	x, y, z := id.fields()
	return x + y*ChunkSize + z*ChunkSize*ChunkSize
}

// BlockIDFromIndex: обратная к Index операция.
func BlockIDFromIndex(index int) BlockID {
	if index < 0 || index >= ChunkSize*ChunkSize*ChunkSize {
		return InvalidBlockID
	}
	return PackBlock(index%ChunkSize, index/ChunkSize%ChunkSize, index/(ChunkSize*ChunkSize))
}

// Neighbor возвращает ключ соседнего блока того же чанка.
// Если сосед лежит в другом чанке, возвращает InvalidBlockID (см. NeighborCell).
func (id BlockID) Neighbor(d Direction) BlockID {
	if !id.Valid() {
		return InvalidBlockID
	}
	shift := blockShift(d.Axis())
	field := int(uint32(id)>>shift) & blockAxisMask
	field += d.Sign()
	if !blockAxisInRange(field) {
		return InvalidBlockID
	}
	return id&^BlockID(blockAxisMask<<shift) | BlockID(field<<shift)
}

func (id BlockID) String() string {
	if !id.Valid() {
		return "block(invalid)"
	}
	x, y, z := id.fields()
	return fmt.Sprintf("block(%d,%d,%d)", x, y, z)
}

func (id BlockID) fields() (x, y, z int) {
	v := uint32(id)
	return int(v>>blockXShift) & blockAxisMask,
		int(v>>blockYShift) & blockAxisMask,
		int(v) & blockAxisMask
}

func blockAxisInRange(v int) bool {
	return v >= 0 && v < ChunkSize
}

func blockShift(axis int) uint {
	switch axis {
	case 0:
		return blockXShift
	case 1:
		return blockYShift
	default:
		return 0
	}
}

// NeighborCell возвращает соседнюю ячейку мира, переходя в соседний чанк,
// если блок лежит на границе. При выходе за диапазон мира оба ключа невалидны.
func NeighborCell(chunk ChunkID, block BlockID, d Direction) (ChunkID, BlockID) {
	if !chunk.Valid() || !block.Valid() {
		return InvalidChunkID, InvalidBlockID
	}
	if nb := block.Neighbor(d); nb.Valid() {
		return chunk, nb
	}
	nc := chunk.Neighbor(d)
	if !nc.Valid() {
		return InvalidChunkID, InvalidBlockID
	}
	x, y, z := block.fields()
	wrapped := ChunkSize - 1
	if d.Sign() > 0 {
		wrapped = 0
	}
	switch d.Axis() {
	case 0:
		x = wrapped
	case 1:
		y = wrapped
	default:
		z = wrapped
	}
	return nc, PackBlock(x, y, z)
}
