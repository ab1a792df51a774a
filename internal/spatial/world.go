package spatial

import (
	"math"

	"github.com/annel0/chunkstream/internal/vec"
)

// ChunkCoordAt возвращает координаты чанка, содержащего мировую точку.
// Центры чанков лежат на кратных ChunkWidth: floor((pos + halfWidth) / width).
func ChunkCoordAt(pos vec.Vec3Float) vec.Vec3 {
	return vec.Vec3{
		X: int(math.Floor((pos.X + chunkHalfWidth) / ChunkWidth)),
		Y: int(math.Floor((pos.Y + chunkHalfWidth) / ChunkWidth)),
		Z: int(math.Floor((pos.Z + chunkHalfWidth) / ChunkWidth)),
	}
}

// ChunkIDAt возвращает ключ чанка, содержащего мировую точку.
func ChunkIDAt(pos vec.Vec3Float) ChunkID {
	c := ChunkCoordAt(pos)
	return PackChunk(c.X, c.Y, c.Z)
}

// ChunkCenter возвращает центр чанка в мировых координатах.
// Для невалидного ключа возвращает нулевой вектор.
func ChunkCenter(id ChunkID) vec.Vec3Float {
	if !id.Valid() {
		return vec.Vec3Float{}
	}
	x, y, z := id.Unpack()
	return vec.Vec3Float{X: float64(x) * ChunkWidth, Y: float64(y) * ChunkWidth, Z: float64(z) * ChunkWidth}
}

// ChunkOrigin возвращает минимальный угол чанка в мировых координатах.
func ChunkOrigin(id ChunkID) vec.Vec3Float {
	c := ChunkCenter(id)
	return vec.Vec3Float{X: c.X - chunkHalfWidth, Y: c.Y - chunkHalfWidth, Z: c.Z - chunkHalfWidth}
}

// BlockIDAt возвращает локальный блок чанка, содержащий точку.
// Точка вне чанка прижимается к ближайшему граничному блоку.
func BlockIDAt(chunk ChunkID, pos vec.Vec3Float) BlockID {
	if !chunk.Valid() {
		return InvalidBlockID
	}
	o := ChunkOrigin(chunk)
	return PackBlock(
		clampLocal(math.Floor((pos.X-o.X)/BlockSize)),
		clampLocal(math.Floor((pos.Y-o.Y)/BlockSize)),
		clampLocal(math.Floor((pos.Z-o.Z)/BlockSize)),
	)
}

// BlockCenterInWorld возвращает центр блока в мировых координатах.
// Для невалидных ключей возвращает нулевой вектор.
func BlockCenterInWorld(chunk ChunkID, block BlockID) vec.Vec3Float {
	if !chunk.Valid() || !block.Valid() {
		return vec.Vec3Float{}
	}
	o := ChunkOrigin(chunk)
	x, y, z := block.Unpack()
	return vec.Vec3Float{
		X: o.X + (float64(x)+0.5)*BlockSize,
		Y: o.Y + (float64(y)+0.5)*BlockSize,
		Z: o.Z + (float64(z)+0.5)*BlockSize,
	}
}

func clampLocal(v float64) int {
	if v < 0 {
		return 0
	}
	if v > ChunkSize-1 {
		return ChunkSize - 1
	}
	return int(v)
}
