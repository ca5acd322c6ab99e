package objcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Ratio1/ratio1_records_go/internal/codec"
)

// Frame tags prefix every stored entry. They are part of the storage format.
const (
	frameRaw  byte = 0
	frameZstd byte = 2
)

const defaultCompressThreshold = 4 * 1024

// entry is the stored envelope around a cached value.
type entry struct {
	Value    codec.RawMessage `cbor:"1,keyasint"`
	StoredAt int64            `cbor:"2,keyasint"` // unix milliseconds
	TTL      int64            `cbor:"3,keyasint"` // milliseconds, negative never expires
}

func (e *entry) expired(now time.Time) bool {
	if e.TTL < 0 {
		return false
	}
	return now.UnixMilli()-e.StoredAt > e.TTL
}

func (e *entry) decodeValue(out any) error {
	return codec.Unmarshal(e.Value, out)
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("objcache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("objcache: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeEntry(value any, now time.Time, ttl time.Duration, compressThreshold int) ([]byte, error) {
	raw, err := codec.Marshal(value)
	if err != nil {
		return nil, err
	}
	ttlMillis := int64(-1)
	if ttl >= 0 {
		ttlMillis = ttl.Milliseconds()
	}
	data, err := codec.Marshal(entry{
		Value:    raw,
		StoredAt: now.UnixMilli(),
		TTL:      ttlMillis,
	})
	if err != nil {
		return nil, err
	}

	if compressThreshold > 0 && len(data) > compressThreshold {
		compressed := zstdEncoder.EncodeAll(data, []byte{frameZstd})
		if len(compressed) < len(data)+1 {
			return compressed, nil
		}
	}
	return append([]byte{frameRaw}, data...), nil
}

func decodeEntry(data []byte) (*entry, error) {
	if len(data) == 0 {
		return nil, errors.New("empty entry")
	}
	payload := data[1:]
	switch data[0] {
	case frameRaw:
	case frameZstd:
		decoded, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		payload = decoded
	default:
		return nil, fmt.Errorf("unknown frame tag %d", data[0])
	}
	var ent entry
	if err := codec.Unmarshal(payload, &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}
