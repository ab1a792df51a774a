package chunkfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/world"
)

// Marshal кодирует снимок чанка в байты файла
func Marshal(s *world.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("chunkfile: пустой снимок")
	}
	if len(s.Blocks) != blockCount {
		return nil, fmt.Errorf("%w: %d блоков, ожидалось %d", ErrChunkSizeMismatch, len(s.Blocks), blockCount)
	}

	buf := make([]byte, 0, 2*segmentHeaderSize+len(Magic)+chunkPayloadSize)
	buf = appendSegmentHeader(buf, SegmentHeader, HeaderVersion, len(Magic))
	buf = append(buf, Magic[:]...)

	buf = appendSegmentHeader(buf, SegmentChunk, ChunkVersion, chunkPayloadSize)
	buf = appendChunkPayload(buf, s)
	return buf, nil
}

// Encode записывает снимок чанка в w
func Encode(w io.Writer, s *world.Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("chunkfile: ошибка записи: %w", err)
	}
	return nil
}

// EncodeChunk снимает снимок чанка и записывает его в w.
// Вызывается потоком-владельцем чанка.
func EncodeChunk(w io.Writer, c *world.Chunk) error {
	s, err := c.Snapshot()
	if err != nil {
		return err
	}
	return Encode(w, s)
}

func appendSegmentHeader(buf []byte, segType, version int32, length int) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(segType))
	buf = binary.BigEndian.AppendUint32(buf, uint32(version))
	return binary.BigEndian.AppendUint32(buf, uint32(int32(length)))
}

func appendInt32(buf []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(buf, uint32(v))
}

func appendFloat32(buf []byte, v float64) []byte {
	return binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
}

func appendChunkPayload(buf []byte, s *world.Snapshot) []byte {
	buf = appendInt32(buf, spatial.ChunkSize)
	buf = appendFloat32(buf, spatial.BlockSize)
	buf = appendInt32(buf, int32(s.Flags&world.PersistentFlags))

	buf = appendFloat32(buf, s.Center.X)
	buf = appendFloat32(buf, s.Center.Y)
	buf = appendFloat32(buf, s.Center.Z)

	buf = appendInt32(buf, int32(len(s.Blocks)))
	for _, t := range s.Blocks {
		buf = appendInt32(buf, int32(t))
	}

	buf = appendInt32(buf, int32(s.Coord.X))
	buf = appendInt32(buf, int32(s.Coord.Y))
	return appendInt32(buf, int32(s.Coord.Z))
}
