package strategy

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Cloid is a 128-bit client order id, rendered as 0x-prefixed hex on the wire.
type Cloid [16]byte

func (c Cloid) String() string {
	return "0x" + hex.EncodeToString(c[:])
}

func (c Cloid) IsZero() bool {
	return c == Cloid{}
}

func (c Cloid) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return []byte{}, nil
	}
	return []byte(c.String()), nil
}

func ParseCloid(raw string) (Cloid, error) {
	var c Cloid
	s := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(s) != 32 {
		return c, fmt.Errorf("cloid %q: expected 32 hex digits", raw)
	}
	if _, err := hex.Decode(c[:], []byte(s)); err != nil {
		return c, fmt.Errorf("cloid %q: %w", raw, err)
	}
	return c, nil
}

// CloidSource mints strictly increasing ids: a random per-run prefix in the
// high 64 bits and a counter in the low 64 bits.
type CloidSource struct {
	prefix uint64
	next   uint64
}

func NewCloidSource() *CloidSource {
	id := uuid.New()
	return &CloidSource{prefix: binary.BigEndian.Uint64(id[:8])}
}

func newCloidSourceWithPrefix(prefix uint64) *CloidSource {
	return &CloidSource{prefix: prefix}
}

func (s *CloidSource) Next() Cloid {
	s.next++
	var c Cloid
	binary.BigEndian.PutUint64(c[:8], s.prefix)
	binary.BigEndian.PutUint64(c[8:], s.next)
	return c
}
