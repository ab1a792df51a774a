package raymarch

import (
	"testing"

	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/streaming"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ BlockQuery = (*streaming.Manager)(nil)

// gridWorld: набор непроходимых ячеек
type gridWorld map[Cell]bool

func (w gridWorld) IsBlockSolid(chunk spatial.ChunkID, block spatial.BlockID) bool {
	return w[Cell{Chunk: chunk, Block: block}]
}

func (w gridWorld) solidAt(pos vec.Vec3Float) Cell {
	c := spatial.ChunkIDAt(pos)
	cell := Cell{Chunk: c, Block: spatial.BlockIDAt(c, pos)}
	w[cell] = true
	return cell
}

var origin0 = spatial.PackChunk(0, 0, 0)

func TestMarcher_TwoAdvances(t *testing.T) {
	var m Marcher
	m.Set(vec.Vec3Float{X: 0.25, Y: 0.25, Z: 0.25}, vec.Vec3Float{X: 2})
	assert.Equal(t, 0.0, m.Distance())
	assert.Equal(t, spatial.PackBlock(16, 16, 16), m.BlockID())

	m.Advance()
	m.Advance()

	assert.Equal(t, 2*StepSize, m.Distance())
	assert.Equal(t, 1.0, m.Distance())
	assert.Equal(t, vec.Vec3Float{X: 1.25, Y: 0.25, Z: 0.25}, m.Point())
	assert.Equal(t, vec.Vec3Float{X: 1}, m.Direction())
	assert.Equal(t, origin0, m.ChunkID())
	assert.Equal(t, spatial.PackBlock(17, 16, 16), m.BlockID())
	assert.Equal(t, spatial.BlockIDAt(m.ChunkID(), m.Point()), m.BlockID())
}

func TestMarcher_CrossesChunkBorder(t *testing.T) {
	var m Marcher
	m.Set(vec.Vec3Float{X: 15.75, Y: -0.5, Z: 0.5}, vec.Vec3Float{X: 1})
	assert.Equal(t, origin0, m.ChunkID())
	assert.Equal(t, spatial.PackBlock(31, 15, 16), m.BlockID())

	m.Advance()
	assert.Equal(t, spatial.PackChunk(1, 0, 0), m.ChunkID())
	assert.Equal(t, spatial.PackBlock(0, 15, 16), m.BlockID())
}

func TestMarcher_ZeroDirection(t *testing.T) {
	var m Marcher
	start := vec.Vec3Float{X: 3, Y: 4, Z: 5}
	m.Set(start, vec.Vec3Float{})
	m.Advance()

	assert.Equal(t, start, m.Point())
	assert.Equal(t, 0.0, m.Distance())
}

func TestCast_HitWithPlacement(t *testing.T) {
	w := gridWorld{}
	target := w.solidAt(vec.Vec3Float{X: 5.5, Y: 0.5, Z: 0.5})

	hit, ok := Cast(w, vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5}, vec.Vec3Float{X: 1}, 16)
	require.True(t, ok)
	assert.Equal(t, target, hit.Cell)
	assert.Equal(t, spatial.PackBlock(21, 16, 16), hit.Block)
	assert.InDelta(t, 4.5, hit.Distance, 1e-9)

	require.True(t, hit.HasPlace)
	assert.Equal(t, Cell{Chunk: origin0, Block: spatial.PackBlock(20, 16, 16)}, hit.Place)
}

func TestCast_HitInStartCellHasNoPlacement(t *testing.T) {
	w := gridWorld{}
	start := vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5}
	target := w.solidAt(start)

	hit, ok := Cast(w, start, vec.Vec3Float{Y: -1}, 8)
	require.True(t, ok)
	assert.Equal(t, target, hit.Cell)
	assert.Equal(t, 0.0, hit.Distance)
	assert.False(t, hit.HasPlace)
}

func TestCast_AcrossChunks(t *testing.T) {
	w := gridWorld{}
	target := w.solidAt(vec.Vec3Float{X: 17.5, Y: 0.5, Z: 0.5})

	hit, ok := Cast(w, vec.Vec3Float{X: 14.5, Y: 0.5, Z: 0.5}, vec.Vec3Float{X: 1}, 8)
	require.True(t, ok)
	assert.Equal(t, spatial.PackChunk(1, 0, 0), hit.Chunk)
	assert.Equal(t, target, hit.Cell)
	assert.Equal(t, Cell{Chunk: spatial.PackChunk(1, 0, 0), Block: spatial.PackBlock(0, 16, 16)}, hit.Place)
}

func TestCast_MissIsNotAnError(t *testing.T) {
	hit, ok := Cast(gridWorld{}, vec.Vec3Float{}, vec.Vec3Float{X: 1, Y: 1}, 32)
	assert.False(t, ok)
	assert.Equal(t, Hit{}, hit)

	_, ok = Cast(gridWorld{}, vec.Vec3Float{}, vec.Vec3Float{}, 32)
	assert.False(t, ok, "нулевое направление")

	_, ok = Cast(gridWorld{}, vec.Vec3Float{}, vec.Vec3Float{X: 1}, 0)
	assert.False(t, ok, "нулевая дальность")
}

func TestCast_RespectsBudget(t *testing.T) {
	w := gridWorld{}
	w.solidAt(vec.Vec3Float{X: 10.5, Y: 0.5, Z: 0.5})

	_, ok := Cast(w, vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5}, vec.Vec3Float{X: 1}, 3)
	assert.False(t, ok)
}

func TestCast_NeighborProbe(t *testing.T) {
	w := gridWorld{}
	// Блок над траекторией: луч его не задевает
	target := w.solidAt(vec.Vec3Float{X: 2.5, Y: 1.5, Z: 0.5})

	hit, ok := Cast(w, vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5}, vec.Vec3Float{X: 1}, 3)
	require.True(t, ok)
	assert.Equal(t, target, hit.Cell)
	assert.Equal(t, spatial.BlockCenterInWorld(target.Chunk, target.Block), hit.Point)
	require.True(t, hit.HasPlace)
	assert.Equal(t, Cell{Chunk: origin0, Block: spatial.PackBlock(18, 16, 16)}, hit.Place)
	assert.InDelta(t, 1.5, hit.Distance, 1e-9)
}
