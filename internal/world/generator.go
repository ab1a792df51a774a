package world

import (
	"math"
	"math/rand"

	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/util"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/world/block"
)

// Generator создаёт содержимое чанка, которого нет в хранилище.
// Реализация должна быть детерминированной: одни координаты дают одинаковые блоки.
type Generator interface {
	Generate(coord vec.Vec3) *Chunk
}

// Параметры рельефа по умолчанию
const (
	DefaultNoiseScale   = 0.01 // Сглаженность рельефа
	DefaultAmplitude    = 48.0 // Перепад высот в блоках
	DefaultSeaLevel     = 0    // Уровень моря (мировая Y)
	DefaultDirtDepth    = 3    // Толщина слоя земли над камнем
	DefaultOreChance    = 0.002
	DefaultTorchChance  = 0.01
	DefaultTreeChance   = 0.005
	beachHeight         = 2 // Песок у воды в пределах этой высоты над морем
	treeTrunkHeight     = 4
	caveNoiseScale      = 0.06
	caveNoiseThreshold  = 0.78
	caveMinDepthInBlock = 6 // Пещеры не выходят на поверхность ближе этого
)

// TerrainGenerator генерирует рельеф по карте высот из шума Перлина:
// камень, слой земли, трава; песок у воды; вода ниже уровня моря.
// Глоустоун-руды, деревья и факелы раскидываются детерминированным ГПСЧ чанка.
type TerrainGenerator struct {
	Seed        int64   // Сид мира
	NoiseScale  float64 // Масштаб шума высоты
	Amplitude   float64 // Перепад высот
	SeaLevel    int     // Уровень моря
	OreChance   float64 // Вероятность глоустоуна в камне
	TorchChance float64 // Вероятность факела на траве
	TreeChance  float64 // Вероятность дерева на траве
	Caves       bool    // Вырезать пещеры трёхмерным шумом

	noise *util.Noise
}

// NewTerrainGenerator создаёт генератор с параметрами по умолчанию
func NewTerrainGenerator(seed int64) *TerrainGenerator {
	return &TerrainGenerator{
		Seed:        seed,
		NoiseScale:  DefaultNoiseScale,
		Amplitude:   DefaultAmplitude,
		SeaLevel:    DefaultSeaLevel,
		OreChance:   DefaultOreChance,
		TorchChance: DefaultTorchChance,
		TreeChance:  DefaultTreeChance,
		Caves:       true,
		noise:       util.NewNoise(seed),
	}
}

// SurfaceHeight возвращает мировую высоту поверхности в колонке (wx, wz)
func (g *TerrainGenerator) SurfaceHeight(wx, wz int) int {
	n := g.noise.Noise2D(float64(wx)*g.NoiseScale, float64(wz)*g.NoiseScale)
	return g.SeaLevel + int(math.Floor((n-0.5)*2*g.Amplitude))
}

func (g *TerrainGenerator) isCave(wx, wy, wz, surface int) bool {
	if !g.Caves || surface-wy < caveMinDepthInBlock {
		return false
	}
	n := g.noise.Noise3D(float64(wx)*caveNoiseScale, float64(wy)*caveNoiseScale, float64(wz)*caveNoiseScale)
	return n > caveNoiseThreshold
}

// Generate заполняет новый чанк по координатам
func (g *TerrainGenerator) Generate(coord vec.Vec3) *Chunk {
	c := NewChunk(coord)
	rng := rand.New(rand.NewSource(g.Seed ^ int64(c.ID())))

	// Мировые координаты блока (0,0,0) чанка
	origin := spatial.ChunkOrigin(c.ID()).Floor()

	for z := 0; z < spatial.ChunkSize; z++ {
		for x := 0; x < spatial.ChunkSize; x++ {
			wx, wz := origin.X+x, origin.Z+z
			surface := g.SurfaceHeight(wx, wz)

			for y := 0; y < spatial.ChunkSize; y++ {
				wy := origin.Y + y
				t := g.columnBlock(wy, surface)
				if t == block.Stone {
					if g.isCave(wx, wy, wz, surface) {
						t = block.Air
					} else if rng.Float64() < g.OreChance {
						t = block.Glowstone
					}
				}
				if t != block.Air {
					c.SetBlockType(x, y, z, t)
				}
			}

			g.decorate(c, rng, x, z, surface-origin.Y)
		}
	}

	c.SeedLight()
	c.UpdateEmptyFlag()
	c.SetFlags(FlagNeedsRebuild | FlagNeedsSave)
	return c
}

// columnBlock определяет блок на высоте wy в колонке с поверхностью surface
func (g *TerrainGenerator) columnBlock(wy, surface int) block.Type {
	switch {
	case wy > surface:
		if wy <= g.SeaLevel {
			return block.Water
		}
		return block.Air
	case wy == surface:
		if surface <= g.SeaLevel+beachHeight {
			return block.Sand
		}
		return block.Grass
	case wy > surface-DefaultDirtDepth:
		if surface <= g.SeaLevel+beachHeight {
			return block.Sand
		}
		return block.Dirt
	default:
		return block.Stone
	}
}

// decorate ставит деревья и факелы над травой; localSurface: высота
// поверхности в локальных координатах чанка.
func (g *TerrainGenerator) decorate(c *Chunk, rng *rand.Rand, x, z, localSurface int) {
	if localSurface < 0 || localSurface >= spatial.ChunkSize-1 {
		return
	}
	if c.BlockType(x, localSurface, z) != block.Grass {
		return
	}

	roll := rng.Float64()
	switch {
	case roll < g.TreeChance:
		g.placeTree(c, x, localSurface+1, z)
	case roll < g.TreeChance+g.TorchChance:
		c.SetBlockType(x, localSurface+1, z, block.Torch)
	}
}

// placeTree ставит ствол и крону. Части за границей чанка обрезаются.
func (g *TerrainGenerator) placeTree(c *Chunk, x, y, z int) {
	for i := 0; i < treeTrunkHeight; i++ {
		c.SetBlockType(x, y+i, z, block.Wood)
	}
	top := y + treeTrunkHeight
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 0; dy++ {
				if c.BlockType(x+dx, top+dy, z+dz) == block.Air {
					c.SetBlockType(x+dx, top+dy, z+dz, block.Leaves)
				}
			}
		}
	}
	c.SetBlockType(x, top, z, block.Leaves)
}
