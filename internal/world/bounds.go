package world

import "github.com/annel0/chunkstream/internal/vec"

// AABB: осевой ограничивающий параллелепипед [Min, Max)
type AABB struct {
	Min vec.Vec3Float
	Max vec.Vec3Float
}

// Contains проверяет, лежит ли точка внутри параллелепипеда
func (b AABB) Contains(p vec.Vec3Float) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// Intersects проверяет пересечение двух параллелепипедов
func (b AABB) Intersects(other AABB) bool {
	return b.Min.X < other.Max.X && b.Max.X > other.Min.X &&
		b.Min.Y < other.Max.Y && b.Max.Y > other.Min.Y &&
		b.Min.Z < other.Max.Z && b.Max.Z > other.Min.Z
}

// Size возвращает размеры параллелепипеда
func (b AABB) Size() vec.Vec3Float {
	return b.Max.Sub(b.Min)
}
