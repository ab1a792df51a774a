// Package raymarch шагает лучом по сетке чанков и блоков.
package raymarch

import (
	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/vec"
)

// StepSize: длина одного шага луча (половина блока)
const StepSize = spatial.BlockSize / 2

// Marcher хранит состояние луча между шагами. Условия остановки задаёт
// вызывающий: Marcher только двигает точку и пересчитывает ключи.
type Marcher struct {
	point      vec.Vec3Float
	direction  vec.Vec3Float
	step       vec.Vec3Float
	stepLength float64
	distance   float64
	chunk      spatial.ChunkID
	block      spatial.BlockID
}

// Set ставит луч в origin с направлением dir. Нулевое направление даёт
// нулевой шаг.
func (m *Marcher) Set(origin, dir vec.Vec3Float) {
	m.point = origin
	m.direction = dir.Normalized()
	m.step = m.direction.Mul(StepSize)
	m.stepLength = m.step.Length()
	m.distance = 0
	m.chunk = spatial.ChunkIDAt(origin)
	m.block = spatial.BlockIDAt(m.chunk, origin)
}

// Advance сдвигает точку на один шаг
func (m *Marcher) Advance() {
	m.point = m.point.Add(m.step)
	m.distance += m.stepLength

	if id := spatial.ChunkIDAt(m.point); id != m.chunk {
		m.chunk = id
	}
	m.block = spatial.BlockIDAt(m.chunk, m.point)
}

// Point возвращает текущую точку луча
func (m *Marcher) Point() vec.Vec3Float { return m.point }

// Direction возвращает нормированное направление (нулевое для нулевого входа)
func (m *Marcher) Direction() vec.Vec3Float { return m.direction }

// Distance возвращает пройденное от начала расстояние
func (m *Marcher) Distance() float64 { return m.distance }

// ChunkID возвращает чанк, в котором лежит текущая точка
func (m *Marcher) ChunkID() spatial.ChunkID { return m.chunk }

// BlockID возвращает блок текущей точки внутри ChunkID
func (m *Marcher) BlockID() spatial.BlockID { return m.block }
