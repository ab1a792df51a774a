package raymarch

import (
	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/vec"
)

// BlockQuery отвечает, занята ли ячейка мира (реализуется streaming.Manager)
type BlockQuery interface {
	IsBlockSolid(chunk spatial.ChunkID, block spatial.BlockID) bool
}

// Cell: ячейка мира: чанк и блок внутри него
type Cell struct {
	Chunk spatial.ChunkID
	Block spatial.BlockID
}

// Hit: результат броска луча
type Hit struct {
	Cell
	Distance float64
	Point    vec.Vec3Float
	// Place: пустая ячейка перед попаданием, куда можно поставить блок
	Place    Cell
	HasPlace bool
}

type sample struct {
	cell     Cell
	point    vec.Vec3Float
	distance float64
}

// Cast ведёт луч из origin по dir до первого непроходимого блока, но не
// дальше maxDistance. Промах возвращает (Hit{}, false).
func Cast(q BlockQuery, origin, dir vec.Vec3Float, maxDistance float64) (Hit, bool) {
	if maxDistance <= 0 || dir.Length() == 0 {
		return Hit{}, false
	}

	var m Marcher
	m.Set(origin, dir)

	var samples []sample
	for m.Distance() <= maxDistance {
		cell := Cell{Chunk: m.ChunkID(), Block: m.BlockID()}
		if q.IsBlockSolid(cell.Chunk, cell.Block) {
			hit := Hit{Cell: cell, Distance: m.Distance(), Point: m.Point()}
			hit.Place, hit.HasPlace = placeBefore(q, samples, cell)
			return hit, true
		}
		if n := len(samples); n == 0 || samples[n-1].cell != cell {
			samples = append(samples, sample{cell: cell, point: m.Point(), distance: m.Distance()})
		}
		m.Advance()
	}

	return probeNeighbors(q, samples)
}

// placeBefore идёт назад по пройденным ячейкам до первой пустой,
// отличной от ячейки попадания
func placeBefore(q BlockQuery, samples []sample, hit Cell) (Cell, bool) {
	for i := len(samples) - 1; i >= 0; i-- {
		c := samples[i].cell
		if c == hit || !c.Chunk.Valid() {
			continue
		}
		if !q.IsBlockSolid(c.Chunk, c.Block) {
			return c, true
		}
	}
	return Cell{}, false
}

// probeNeighbors проверяет шесть соседей каждой пройденной ячейки.
// Ловит тонкую и диагональную геометрию, которую шаг луча перепрыгнул.
func probeNeighbors(q BlockQuery, samples []sample) (Hit, bool) {
	for _, s := range samples {
		if !s.cell.Chunk.Valid() {
			continue
		}
		for _, d := range spatial.Directions {
			nc, nb := spatial.NeighborCell(s.cell.Chunk, s.cell.Block, d)
			if !nc.Valid() || !q.IsBlockSolid(nc, nb) {
				continue
			}
			return Hit{
				Cell:     Cell{Chunk: nc, Block: nb},
				Distance: s.distance,
				Point:    spatial.BlockCenterInWorld(nc, nb),
				Place:    s.cell,
				HasPlace: true,
			}, true
		}
	}
	return Hit{}, false
}
