package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec преобразует данные чанка перед записью в KV-хранилище
type Codec interface {
	Encode(data []byte) []byte
	Decode(data []byte) ([]byte, error)
	Name() string
}

// NewCodec возвращает кодек по имени: "none" или "zstd"
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return rawCodec{}, nil
	case "zstd":
		return newZstdCodec()
	default:
		return nil, fmt.Errorf("неизвестный алгоритм сжатия: %q", name)
	}
}

type rawCodec struct{}

func (rawCodec) Encode(data []byte) []byte          { return data }
func (rawCodec) Decode(data []byte) ([]byte, error) { return data, nil }
func (rawCodec) Name() string                       { return "none" }

// zstdCodec сжимает блоками через EncodeAll/DecodeAll; безопасен для
// одновременного использования из нескольких горутин.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd decoder: %w", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Encode(data []byte) []byte {
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/4))
}

func (c *zstdCodec) Decode(data []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки zstd: %w", err)
	}
	return out, nil
}

func (c *zstdCodec) Name() string { return "zstd" }
