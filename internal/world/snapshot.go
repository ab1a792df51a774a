package world

import (
	"fmt"

	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/world/block"
)

// Snapshot: неизменяемая копия состояния чанка для фонового сохранения.
// Владеет своими массивами и не связан с исходным чанком.
type Snapshot struct {
	Coord    vec.Vec3
	Center   vec.Vec3Float
	Flags    Flags
	Blocks   []block.Type
	Revision uint64
}

// Snapshot копирует блоки и флаги чанка. Вызывается потоком-владельцем.
func (c *Chunk) Snapshot() (*Snapshot, error) {
	if c.Disposed() {
		return nil, ErrDisposed
	}
	blocks := make([]block.Type, len(c.blocks))
	copy(blocks, c.blocks)
	return &Snapshot{
		Coord:    c.coord,
		Center:   c.center,
		Flags:    c.Flags(),
		Blocks:   blocks,
		Revision: c.revision.Load(),
	}, nil
}

// ChunkFromSnapshot восстанавливает чанк по снимку.
// Флаги берутся только постоянные; EMPTY пересчитывается, NEEDS_REBUILD
// ставится всегда, освещение засевается свечением блоков.
func ChunkFromSnapshot(s *Snapshot) (*Chunk, error) {
	if s == nil {
		return nil, fmt.Errorf("пустой снимок чанка")
	}
	if !spatial.PackChunk(s.Coord.X, s.Coord.Y, s.Coord.Z).Valid() {
		return nil, fmt.Errorf("координаты чанка вне диапазона: %v", s.Coord)
	}
	if len(s.Blocks) != BlockCount {
		return nil, fmt.Errorf("неверное число блоков: %d, ожидалось %d", len(s.Blocks), BlockCount)
	}

	c := NewChunk(s.Coord)
	copy(c.blocks, s.Blocks)
	c.SeedLight()
	c.flags.Store(uint32(s.Flags&PersistentFlags | FlagNeedsRebuild))
	c.UpdateEmptyFlag()
	return c, nil
}

// SeedLight заполняет освещение собственным свечением блоков
func (c *Chunk) SeedLight() {
	for i, t := range c.blocks {
		c.light[i] = block.EmittedLight(t)
	}
}
