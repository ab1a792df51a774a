package chunkfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/annel0/chunkstream/internal/logging"
	"github.com/annel0/chunkstream/internal/spatial"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/world"
	"github.com/annel0/chunkstream/internal/world/block"
)

// Unmarshal декодирует чанк из байтов файла
func Unmarshal(data []byte) (*world.Chunk, error) {
	return Decode(bytes.NewReader(data))
}

// Decode читает сегменты до конца потока и собирает чанк.
// Результат всегда помечен NEEDS_REBUILD, флаг EMPTY пересчитан по блокам.
func Decode(r io.Reader) (*world.Chunk, error) {
	var (
		hasHeader bool
		snapshot  *world.Snapshot
		header    [segmentHeaderSize]byte
	)

	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: заголовок сегмента", ErrTruncated)
			}
			return nil, fmt.Errorf("chunkfile: ошибка чтения: %w", err)
		}

		segType := int32(binary.BigEndian.Uint32(header[0:4]))
		version := int32(binary.BigEndian.Uint32(header[4:8]))
		length := int32(binary.BigEndian.Uint32(header[8:12]))
		if length < 0 {
			return nil, fmt.Errorf("%w: отрицательная длина сегмента %d", ErrTruncated, length)
		}
		if length > MaxPayloadSize {
			return nil, fmt.Errorf("%w: %d байт", ErrSegmentTooLarge, length)
		}

		switch {
		case segType == SegmentHeader && version == HeaderVersion:
			if hasHeader {
				return nil, ErrDuplicateHeader
			}
			payload, err := readPayload(r, length)
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(payload, Magic[:]) {
				return nil, fmt.Errorf("%w: % X", ErrBadMagic, payload)
			}
			hasHeader = true

		case segType == SegmentChunk && version == ChunkVersion:
			if !hasHeader {
				return nil, ErrMissingHeader
			}
			if snapshot != nil {
				return nil, ErrDuplicateChunk
			}
			payload, err := readPayload(r, length)
			if err != nil {
				return nil, err
			}
			snapshot, err = decodeChunkPayload(payload)
			if err != nil {
				return nil, err
			}

		default:
			logging.GetCodecLogger().Warn("пропуск неизвестного сегмента: тип=%d версия=%d длина=%d", segType, version, length)
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, fmt.Errorf("%w: неизвестный сегмент %d", ErrTruncated, segType)
			}
		}
	}

	if !hasHeader {
		return nil, ErrMissingHeader
	}
	if snapshot == nil {
		return nil, ErrMissingChunk
	}
	return world.ChunkFromSnapshot(snapshot)
}

func readPayload(r io.Reader, length int32) ([]byte, error) {
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: ожидалось %d байт нагрузки", ErrTruncated, length)
		}
		return nil, fmt.Errorf("chunkfile: ошибка чтения: %w", err)
	}
	return payload, nil
}

// payloadReader последовательно читает поля нагрузки сегмента
type payloadReader struct {
	data []byte
	off  int
}

func (p *payloadReader) remaining() int { return len(p.data) - p.off }

func (p *payloadReader) int32() (int32, error) {
	if p.remaining() < 4 {
		return 0, fmt.Errorf("%w: поле на смещении %d", ErrTruncated, p.off)
	}
	v := int32(binary.BigEndian.Uint32(p.data[p.off:]))
	p.off += 4
	return v, nil
}

func (p *payloadReader) float32() (float64, error) {
	v, err := p.int32()
	if err != nil {
		return 0, err
	}
	return float64(math.Float32frombits(uint32(v))), nil
}

func decodeChunkPayload(payload []byte) (*world.Snapshot, error) {
	p := &payloadReader{data: payload}

	size, err := p.int32()
	if err != nil {
		return nil, err
	}
	if size != spatial.ChunkSize {
		return nil, fmt.Errorf("%w: %d, ожидалось %d", ErrChunkSizeMismatch, size, spatial.ChunkSize)
	}

	blockSize, err := p.float32()
	if err != nil {
		return nil, err
	}
	if blockSize != spatial.BlockSize {
		return nil, fmt.Errorf("%w: размер блока %v", ErrChunkSizeMismatch, blockSize)
	}

	flags, err := p.int32()
	if err != nil {
		return nil, err
	}

	var center vec.Vec3Float
	for _, dst := range []*float64{&center.X, &center.Y, &center.Z} {
		if *dst, err = p.float32(); err != nil {
			return nil, err
		}
	}

	count, err := p.int32()
	if err != nil {
		return nil, err
	}
	if count != blockCount {
		return nil, fmt.Errorf("%w: %d блоков, ожидалось %d", ErrChunkSizeMismatch, count, blockCount)
	}
	if p.remaining() < int(count)*4 {
		return nil, fmt.Errorf("%w: массив блоков", ErrTruncated)
	}

	blocks := make([]block.Type, count)
	for i := range blocks {
		v, _ := p.int32()
		if v < 0 || v > math.MaxUint8 || !block.IsValid(block.Type(v)) {
			return nil, fmt.Errorf("%w: %d в блоке %d", ErrInvalidBlockType, v, i)
		}
		blocks[i] = block.Type(v)
	}

	if p.remaining() == 0 {
		return nil, ErrMissingCoordinate
	}
	var coord vec.Vec3
	for _, dst := range []*int{&coord.X, &coord.Y, &coord.Z} {
		v, err := p.int32()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingCoordinate, err)
		}
		*dst = int(v)
	}

	return &world.Snapshot{
		Coord:  coord,
		Center: center,
		Flags:  world.Flags(flags),
		Blocks: blocks,
	}, nil
}
