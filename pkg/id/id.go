package id

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ID is a 64-bit sortable identifier: [48 bits ms][16 bits sequence].
type ID uint64

const (
	seqBits  = 16
	seqMask  = 1<<seqBits - 1
	encLen   = 13
	alphabet = "0123456789abcdefghjkmnpqrstvwxyz"
)

// Time returns the millisecond timestamp encoded in the ID.
func (i ID) Time() time.Time { return time.UnixMilli(int64(i >> seqBits)) }

// String renders the ID as 13 base32 characters.
func (i ID) String() string {
	var out [encLen]byte
	v := uint64(i)
	for p := encLen - 1; p >= 0; p-- {
		out[p] = alphabet[v&31]
		v >>= 5
	}
	return string(out[:])
}

// Parse is the inverse of String. It is case-insensitive.
func Parse(s string) (ID, error) {
	if len(s) != encLen {
		return 0, fmt.Errorf("id: want %d chars, got %d", encLen, len(s))
	}
	var v uint64
	for _, c := range strings.ToLower(s) {
		idx := strings.IndexRune(alphabet, c)
		if idx < 0 {
			return 0, fmt.Errorf("id: invalid character %q", c)
		}
		v = v<<5 | uint64(idx)
	}
	return ID(v), nil
}

// Generator produces monotonically increasing IDs.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

func NewGenerator() *Generator { return &Generator{} }

// NowMs is swapped out by tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID, strictly greater than every ID previously returned by g.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	switch {
	case ms > g.lastMs:
		g.seq = 0
	case g.seq < seqMask:
		g.seq++
	default:
		for ms <= g.lastMs {
			time.Sleep(time.Millisecond / 8)
			ms = NowMs()
		}
		g.seq = 0
	}
	g.lastMs = ms
	return ID(uint64(ms)<<seqBits | g.seq)
}
