// Package viewer держит загруженным куб чанков вокруг движущегося наблюдателя.
package viewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/chunkstream/internal/logging"
	"github.com/annel0/chunkstream/internal/raymarch"
	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/world"
	"github.com/annel0/chunkstream/internal/world/block"
)

// Chunks: операции менеджера чанков, нужные наблюдателю
type Chunks interface {
	raymarch.BlockQuery
	Get(ctx context.Context, coord vec.Vec3) (*world.Chunk, error)
	PeekID(id spatial.ChunkID) (*world.Chunk, bool)
	Release(c *world.Chunk) error
	MarkInUse(c *world.Chunk) error
	UnmarkInUse(c *world.Chunk)
}

// Viewer: наблюдатель с радиусом стриминга. Не потокобезопасен:
// вызывается из горутины-владельца чанков.
type Viewer struct {
	chunks   Chunks
	radius   int
	position vec.Vec3Float
	center   vec.Vec3
	current  *world.Chunk // чанк под наблюдателем, помечен IN_USE
	loaded   map[spatial.ChunkID]*world.Chunk
	placed   bool
	logger   *logging.Logger
}

// New создаёт наблюдателя; радиус 0 держит только чанк под ним
func New(chunks Chunks, radius int, logger *logging.Logger) *Viewer {
	if radius < 0 {
		radius = 0
	}
	if logger == nil {
		logger = logging.GetStreamingLogger()
	}
	return &Viewer{
		chunks: chunks,
		radius: radius,
		loaded: make(map[spatial.ChunkID]*world.Chunk),
		logger: logger,
	}
}

// Position возвращает мировую позицию наблюдателя
func (v *Viewer) Position() vec.Vec3Float { return v.position }

// Center возвращает координаты чанка, в котором стоит наблюдатель
func (v *Viewer) Center() vec.Vec3 { return v.center }

// Loaded возвращает число удерживаемых наблюдателем чанков
func (v *Viewer) Loaded() int { return len(v.loaded) }

// MoveTo перемещает наблюдателя. При смене чанка выгружает чанки вне куба
// и подгружает недостающие. Возвращает число загруженных и выгруженных.
func (v *Viewer) MoveTo(ctx context.Context, pos vec.Vec3Float) (loaded, released int, err error) {
	v.position = pos
	center := spatial.ChunkCoordAt(pos)
	if v.placed && center == v.center {
		return 0, 0, nil
	}
	v.center = center
	v.placed = true

	if v.current != nil {
		v.chunks.UnmarkInUse(v.current)
		v.current = nil
	}

	for id, c := range v.loaded {
		x, y, z := id.Unpack()
		if v.inRange(vec.Vec3{X: x, Y: y, Z: z}) {
			continue
		}
		if err := v.chunks.Release(c); err != nil {
			v.logger.Warn("Чанк %v не выгружен: %v", c.Coord(), err)
			continue
		}
		delete(v.loaded, id)
		released++
	}

	for dx := -v.radius; dx <= v.radius; dx++ {
		for dy := -v.radius; dy <= v.radius; dy++ {
			for dz := -v.radius; dz <= v.radius; dz++ {
				coord := vec.Vec3{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				id := spatial.PackChunk(coord.X, coord.Y, coord.Z)
				if !id.Valid() {
					continue
				}
				if _, ok := v.loaded[id]; ok {
					continue
				}
				c, err := v.chunks.Get(ctx, coord)
				if err != nil {
					return loaded, released, fmt.Errorf("ошибка загрузки чанка вокруг наблюдателя: %w", err)
				}
				v.loaded[id] = c
				loaded++
			}
		}
	}

	if c, ok := v.loaded[spatial.PackChunk(center.X, center.Y, center.Z)]; ok {
		if err := v.chunks.MarkInUse(c); err != nil {
			return loaded, released, err
		}
		v.current = c
	}

	v.logger.Debug("Наблюдатель в чанке %v: +%d -%d, загружено %d", center, loaded, released, len(v.loaded))
	return loaded, released, nil
}

func (v *Viewer) inRange(coord vec.Vec3) bool {
	return abs(coord.X-v.center.X) <= v.radius &&
		abs(coord.Y-v.center.Y) <= v.radius &&
		abs(coord.Z-v.center.Z) <= v.radius
}

// Look бросает луч из позиции наблюдателя
func (v *Viewer) Look(dir vec.Vec3Float, maxDistance float64) (raymarch.Hit, bool) {
	return raymarch.Cast(v.chunks, v.position, dir, maxDistance)
}

// Place ставит блок в ячейку, если её чанк загружен
func (v *Viewer) Place(cell raymarch.Cell, t block.Type) bool {
	c, ok := v.chunks.PeekID(cell.Chunk)
	if !ok || !cell.Block.Valid() {
		return false
	}
	x, y, z := cell.Block.Unpack()
	return c.SetBlockTypeAndInvalidate(x, y, z, t)
}

// Close выгружает все чанки наблюдателя
func (v *Viewer) Close() error {
	if v.current != nil {
		v.chunks.UnmarkInUse(v.current)
		v.current = nil
	}

	var errs []error
	for id, c := range v.loaded {
		if err := v.chunks.Release(c); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(v.loaded, id)
	}
	v.placed = false
	return errors.Join(errs...)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
