// Package chunkfile кодирует чанки в бинарный поток сегментов.
//
// Файл состоит из последовательности сегментов. Заголовок сегмента: три int32
// big-endian: тип, версия, длина полезной нагрузки. Неизвестные пары
// (тип, версия) пропускаются, что позволяет расширять формат.
package chunkfile

import (
	"errors"

	"github.com/annel0/chunkstream/internal/spatial"
)

// Типы сегментов
const (
	SegmentHeader int32 = 1
	SegmentChunk  int32 = 2
)

// Версии сегментов
const (
	HeaderVersion int32 = 1
	ChunkVersion  int32 = 1
)

// Magic: полезная нагрузка сегмента заголовка
var Magic = [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

const (
	segmentHeaderSize = 12
	// MaxPayloadSize ограничивает длину сегмента при чтении
	MaxPayloadSize = 16 << 20

	blockCount = spatial.ChunkSize * spatial.ChunkSize * spatial.ChunkSize
	// size + blockSize + flags + center + count + blocks + coord
	chunkPayloadSize = 4 + 4 + 4 + 3*4 + 4 + blockCount*4 + 3*4
)

// Ошибки декодирования. Оборачиваются с контекстом, проверяются через errors.Is.
var (
	ErrBadMagic          = errors.New("chunkfile: неверная сигнатура заголовка")
	ErrDuplicateHeader   = errors.New("chunkfile: повторный сегмент заголовка")
	ErrDuplicateChunk    = errors.New("chunkfile: повторный сегмент чанка")
	ErrMissingHeader     = errors.New("chunkfile: нет сегмента заголовка")
	ErrMissingChunk      = errors.New("chunkfile: нет сегмента чанка")
	ErrTruncated         = errors.New("chunkfile: данные обрезаны")
	ErrChunkSizeMismatch = errors.New("chunkfile: размер чанка не совпадает")
	ErrMissingCoordinate = errors.New("chunkfile: нет координат чанка")
	ErrInvalidBlockType  = errors.New("chunkfile: неизвестный тип блока")
	ErrSegmentTooLarge   = errors.New("chunkfile: сегмент слишком большой")
)
