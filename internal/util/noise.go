package util

import (
	"github.com/aquilax/go-perlin"
)

// Параметры шума Перлина
const (
	noiseAlpha   = 2.0 // Сглаживание шума
	noiseBeta    = 2.0 // Частота шума
	noiseOctaves = 3   // Количество октав
)

// Noise: генератор шума Перлина, привязанный к одному сиду.
// Экземпляр не разделяет состояние с другими генераторами.
type Noise struct {
	seed   int64
	perlin *perlin.Perlin
}

// NewNoise создаёт генератор шума для указанного сида
func NewNoise(seed int64) *Noise {
	return &Noise{
		seed:   seed,
		perlin: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed),
	}
}

// Seed возвращает сид генератора
func (n *Noise) Seed() int64 { return n.seed }

// Noise2D возвращает значение шума в диапазоне от 0 до 1
func (n *Noise) Noise2D(x, y float64) float64 {
	return normalize(n.perlin.Noise2D(x, y))
}

// Noise3D возвращает значение трёхмерного шума в диапазоне от 0 до 1
func (n *Noise) Noise3D(x, y, z float64) float64 {
	return normalize(n.perlin.Noise3D(x, y, z))
}

// Шум Перлина лежит примерно в [-1, 1]; выбросы обрезаются.
func normalize(v float64) float64 {
	v = (v + 1.0) / 2.0
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
