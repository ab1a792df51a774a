package world

import (
	"weak"

	"github.com/annel0/chunkstream/internal/spatial"
)

// Neighbor возвращает соседа по направлению d или nil, если сосед не связан,
// уже собран сборщиком мусора или освобождён.
func (c *Chunk) Neighbor(d spatial.Direction) *Chunk {
	if d >= spatial.DirectionCount {
		return nil
	}
	n := c.neighbors[d].Value()
	if n == nil || n.Disposed() {
		return nil
	}
	return n
}

// SetNeighbor сохраняет не владеющую ссылку на соседа (nil очищает слот)
func (c *Chunk) SetNeighbor(d spatial.Direction, n *Chunk) {
	if d >= spatial.DirectionCount {
		return
	}
	if n == nil {
		c.neighbors[d] = weak.Pointer[Chunk]{}
		return
	}
	c.neighbors[d] = weak.Make(n)
}

// Link связывает чанк с соседом в обе стороны
func (c *Chunk) Link(d spatial.Direction, n *Chunk) {
	c.SetNeighbor(d, n)
	if n != nil {
		n.SetNeighbor(d.Opposite(), c)
	}
}

// Unlink разрывает связи с соседями в обе стороны
func (c *Chunk) Unlink() {
	for _, d := range spatial.Directions {
		if n := c.neighbors[d].Value(); n != nil && n.neighbors[d.Opposite()].Value() == c {
			n.SetNeighbor(d.Opposite(), nil)
		}
		c.SetNeighbor(d, nil)
	}
}
