package chunkfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/world"
	"github.com/annel0/chunkstream/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunk(t *testing.T) *world.Chunk {
	t.Helper()
	c := world.NewChunk(vec.Vec3{X: -2, Y: 0, Z: 3})
	c.SetBlockType(0, 0, 0, block.Stone)
	c.SetBlockType(31, 31, 31, block.Glowstone)
	c.SetBlockType(7, 8, 9, block.Water)
	c.UpdateEmptyFlag()
	return c
}

func marshalChunk(t *testing.T, c *world.Chunk) []byte {
	t.Helper()
	s, err := c.Snapshot()
	require.NoError(t, err)
	data, err := Marshal(s)
	require.NoError(t, err)
	return data
}

func segment(segType, version int32, payload []byte) []byte {
	buf := appendSegmentHeader(nil, segType, version, len(payload))
	return append(buf, payload...)
}

func TestRoundTrip(t *testing.T) {
	c := testChunk(t)
	data := marshalChunk(t, c)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, c.Coord(), decoded.Coord())
	assert.Equal(t, c.Center(), decoded.Center())
	assert.Equal(t, c.Flags()&world.PersistentFlags|world.FlagNeedsRebuild, decoded.Flags())
	for i := 0; i < world.BlockCount; i++ {
		require.Equal(t, c.BlockTypeAt(i), decoded.BlockTypeAt(i), "блок %d", i)
	}
	assert.Equal(t, uint8(block.MaxLight), decoded.Light(31, 31, 31))
}

func TestRoundTrip_GeneratedScenario(t *testing.T) {
	c := world.NewTerrainGenerator(2024).Generate(vec.Vec3{X: -2, Y: 0, Z: 3})

	var buf bytes.Buffer
	require.NoError(t, EncodeChunk(&buf, c))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: -2, Y: 0, Z: 3}, decoded.Coord())
	assert.Equal(t, vec.Vec3Float{X: -64, Y: 0, Z: 96}, decoded.Center())
	assert.True(t, decoded.NeedsRebuild())
	assert.False(t, decoded.NeedsSave(), "NEEDS_SAVE не хранится в файле")
	assert.Equal(t, c.IsEmpty(), decoded.IsEmpty())
	for i := 0; i < world.BlockCount; i++ {
		require.Equal(t, c.BlockTypeAt(i), decoded.BlockTypeAt(i))
	}
}

func TestDecode_EmptyFlagRecomputed(t *testing.T) {
	c := testChunk(t)
	s, err := c.Snapshot()
	require.NoError(t, err)
	s.Flags |= world.FlagEmpty // ложный EMPTY при непустых блоках

	data, err := Marshal(s)
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.False(t, decoded.IsEmpty())
}

func TestDecode_Layout(t *testing.T) {
	data := marshalChunk(t, testChunk(t))

	assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 4, 0xDE, 0xAD, 0xBE, 0xEF}, data[:16])
	assert.Equal(t, uint32(SegmentChunk), binary.BigEndian.Uint32(data[16:20]))
	assert.Equal(t, uint32(chunkPayloadSize), binary.BigEndian.Uint32(data[24:28]))
	assert.Len(t, data, 16+segmentHeaderSize+chunkPayloadSize)
	// Первое поле нагрузки: размер чанка
	assert.Equal(t, uint32(32), binary.BigEndian.Uint32(data[28:32]))
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	data := marshalChunk(t, testChunk(t))
	data[15] = 0xEE // DE AD BE EE

	_, err := Unmarshal(data)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecode_StructuralErrors(t *testing.T) {
	good := marshalChunk(t, testChunk(t))
	header := good[:16]
	chunkSeg := good[16:]

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"пустой поток", nil, ErrMissingHeader},
		{"только заголовок", header, ErrMissingChunk},
		{"чанк без заголовка", chunkSeg, ErrMissingHeader},
		{"два заголовка", concat(header, header, chunkSeg), ErrDuplicateHeader},
		{"два чанка", concat(header, chunkSeg, chunkSeg), ErrDuplicateChunk},
		{"обрезанная нагрузка", good[:len(good)-100], ErrTruncated},
		{"обрезанный заголовок сегмента", good[:20], ErrTruncated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal(tc.data)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecode_MissingCoordinate(t *testing.T) {
	good := marshalChunk(t, testChunk(t))
	payload := good[16+segmentHeaderSize : len(good)-12]

	data := concat(good[:16], segment(SegmentChunk, ChunkVersion, payload))
	_, err := Unmarshal(data)
	assert.ErrorIs(t, err, ErrMissingCoordinate)
}

func TestDecode_ChunkSizeMismatch(t *testing.T) {
	good := marshalChunk(t, testChunk(t))
	data := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(data[28:32], 16)

	_, err := Unmarshal(data)
	assert.ErrorIs(t, err, ErrChunkSizeMismatch)
}

func TestDecode_InvalidBlockType(t *testing.T) {
	good := marshalChunk(t, testChunk(t))
	data := append([]byte(nil), good...)
	// Первый элемент массива блоков: после size, blockSize, flags, center, count
	firstBlock := 28 + 4 + 4 + 4 + 12 + 4
	binary.BigEndian.PutUint32(data[firstBlock:], 1000)

	_, err := Unmarshal(data)
	assert.ErrorIs(t, err, ErrInvalidBlockType)
}

func TestDecode_SkipsUnknownSegments(t *testing.T) {
	good := marshalChunk(t, testChunk(t))
	data := concat(
		good[:16],
		segment(99, 1, []byte("future extension")),
		segment(SegmentChunk, 2, []byte{1, 2, 3}), // неизвестная версия
		good[16:],
		segment(42, 7, nil),
	)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, block.Glowstone, decoded.BlockType(31, 31, 31))
}

func TestDecode_RejectsOversizedSegment(t *testing.T) {
	data := appendSegmentHeader(nil, 99, 1, MaxPayloadSize+1)
	_, err := Unmarshal(data)
	assert.ErrorIs(t, err, ErrSegmentTooLarge)
}

func TestMarshal_RejectsWrongBlockCount(t *testing.T) {
	_, err := Marshal(&world.Snapshot{Blocks: make([]block.Type, 8)})
	assert.ErrorIs(t, err, ErrChunkSizeMismatch)

	_, err = Marshal(nil)
	assert.Error(t, err)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
