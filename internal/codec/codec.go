// Package codec turns a block of text lines into an opaque compressed
// payload and back.
//
// Payload layout:
//
//	zstd(body) | xxhash64(body) (8 bytes, big-endian)
//	body = uvarint(count) { uvarint(len) bytes }*
//
// The format is private to a single process and carries no version.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// ErrCorrupt is returned when a payload fails to decode or verify.
var ErrCorrupt = errors.New("codec: corrupt payload")

// Level selects the zstd speed/ratio trade-off.
type Level int

const (
	LevelFastest Level = iota
	LevelDefault
	LevelBetter
	LevelBest
)

// ParseLevel accepts fastest, default, better or best.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "fastest":
		return LevelFastest, nil
	case "", "default":
		return LevelDefault, nil
	case "better":
		return LevelBetter, nil
	case "best":
		return LevelBest, nil
	}
	return LevelDefault, fmt.Errorf("codec: unknown compression level %q", s)
}

func (l Level) zstd() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

const hashLen = 8

var encoderPools [LevelBest + 1]sync.Pool

func init() {
	for i := range encoderPools {
		lvl := Level(i).zstd()
		encoderPools[i].New = func() any {
			e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl), zstd.WithEncoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("codec: zstd encoder: %v", err))
			}
			return e
		}
	}
}

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func sharedDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			panic(fmt.Sprintf("codec: zstd decoder: %v", err))
		}
		decoder = d
	})
	return decoder
}

// Encode compresses lines. The returned slice is owned by the caller.
func Encode(lines []string, level Level) []byte {
	if level < LevelFastest || level > LevelBest {
		level = LevelDefault
	}
	size := binary.MaxVarintLen64
	for _, l := range lines {
		size += binary.MaxVarintLen64 + len(l)
	}
	body := make([]byte, 0, size)
	body = binary.AppendUvarint(body, uint64(len(lines)))
	for _, l := range lines {
		body = binary.AppendUvarint(body, uint64(len(l)))
		body = append(body, l...)
	}

	enc := encoderPools[level].Get().(*zstd.Encoder)
	out := enc.EncodeAll(body, make([]byte, 0, len(body)/4+hashLen))
	encoderPools[level].Put(enc)

	return binary.BigEndian.AppendUint64(out, xxhash.Sum64(body))
}

// Decode reverses Encode. All returned strings share one backing allocation.
func Decode(payload []byte) ([]string, error) {
	if len(payload) < hashLen {
		return nil, fmt.Errorf("%w: short payload (%d bytes)", ErrCorrupt, len(payload))
	}
	frame, sum := payload[:len(payload)-hashLen], binary.BigEndian.Uint64(payload[len(payload)-hashLen:])
	body, err := sharedDecoder().DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if xxhash.Sum64(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	count, n := binary.Uvarint(body)
	if n <= 0 || count > uint64(len(body)) {
		return nil, fmt.Errorf("%w: bad line count", ErrCorrupt)
	}
	text := string(body)
	lines := make([]string, 0, count)
	off := n
	for i := uint64(0); i < count; i++ {
		l, m := binary.Uvarint(body[off:])
		if m <= 0 || l > uint64(len(body)-off-m) {
			return nil, fmt.Errorf("%w: bad length for line %d", ErrCorrupt, i)
		}
		off += m
		lines = append(lines, text[off:off+int(l)])
		off += int(l)
	}
	if off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(body)-off)
	}
	return lines, nil
}
