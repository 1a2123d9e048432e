package envstate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorrupted marks a state stream that cannot be applied: a read past the
// end of the buffer, or a field whose size differs between writer and reader.
// The stream is a replay mechanism, not best-effort I/O, so every consumer
// must treat this as unrecoverable for the affected context.
var ErrCorrupted = errors.New("corrupted state")

// State is a cursor over one contiguous state buffer. In write mode every
// Process call appends the raw little-endian bytes of the value; in read mode
// it copies the next bytes into the value and advances the cursor. Writer and
// reader must process the exact same fields in the exact same order; that
// order is the wire contract.
//
// The first failed operation latches an error; all later operations become
// no-ops and Err returns the original cause.
type State struct {
	buf     []byte
	pos     int
	reading bool
	err     error

	// Checkpoint, when set, is invoked once per processed field. The engine
	// wires this to the divergence tracker so that serializing a context
	// yields the same checkpoint stream as stepping it.
	Checkpoint func()
}

// NewWriter returns a cursor that accumulates written fields.
func NewWriter() *State {
	return &State{}
}

// NewReader returns a cursor that consumes fields from b.
func NewReader(b []byte) *State {
	return &State{buf: b, reading: true}
}

// Reading reports whether the cursor consumes rather than produces bytes.
func (s *State) Reading() bool { return s.reading }

// Err returns the first failure encountered, or nil.
func (s *State) Err() error { return s.err }

// Bytes returns the accumulated buffer of a write cursor.
func (s *State) Bytes() []byte { return s.buf }

// EOS reports whether a read cursor has consumed its whole buffer.
func (s *State) EOS() bool { return s.pos >= len(s.buf) }

func (s *State) fail(format string, args ...any) {
	if s.err == nil {
		s.err = fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...))
	}
}

func (s *State) touch() {
	if s.Checkpoint != nil {
		s.Checkpoint()
	}
}

// processRaw moves exactly n bytes between the buffer and the caller.
func (s *State) processRaw(p []byte) {
	s.touch()
	if s.err != nil {
		return
	}
	if s.reading {
		if s.pos+len(p) > len(s.buf) {
			s.fail("read %d bytes at offset %d, buffer has %d", len(p), s.pos, len(s.buf))
			return
		}
		copy(p, s.buf[s.pos:s.pos+len(p)])
		s.pos += len(p)
		return
	}
	s.buf = append(s.buf, p...)
}

func (s *State) ProcessBool(v *bool) {
	var b [1]byte
	if !s.reading && *v {
		b[0] = 1
	}
	s.processRaw(b[:])
	if s.reading && s.err == nil {
		*v = b[0] != 0
	}
}

func (s *State) ProcessUint32(v *uint32) {
	var b [4]byte
	if !s.reading {
		binary.LittleEndian.PutUint32(b[:], *v)
	}
	s.processRaw(b[:])
	if s.reading && s.err == nil {
		*v = binary.LittleEndian.Uint32(b[:])
	}
}

func (s *State) ProcessUint64(v *uint64) {
	var b [8]byte
	if !s.reading {
		binary.LittleEndian.PutUint64(b[:], *v)
	}
	s.processRaw(b[:])
	if s.reading && s.err == nil {
		*v = binary.LittleEndian.Uint64(b[:])
	}
}

func (s *State) ProcessInt32(v *int32) {
	u := uint32(*v)
	s.ProcessUint32(&u)
	if s.reading && s.err == nil {
		*v = int32(u)
	}
}

// ProcessInt serializes an int as a fixed 8-byte field so that the wire
// layout does not depend on the platform word size.
func (s *State) ProcessInt(v *int) {
	u := uint64(int64(*v))
	s.ProcessUint64(&u)
	if s.reading && s.err == nil {
		*v = int(int64(u))
	}
}

func (s *State) ProcessFloat32(v *float32) {
	u := math.Float32bits(*v)
	s.ProcessUint32(&u)
	if s.reading && s.err == nil {
		*v = math.Float32frombits(u)
	}
}

func (s *State) ProcessFloat64(v *float64) {
	u := math.Float64bits(*v)
	s.ProcessUint64(&u)
	if s.reading && s.err == nil {
		*v = math.Float64frombits(u)
	}
}

// ProcessString writes the length as its own field, then the raw bytes.
func (s *State) ProcessString(v *string) {
	n := len(*v)
	s.ProcessInt(&n)
	if s.err != nil {
		return
	}
	if s.reading {
		if n < 0 || s.pos+n > len(s.buf) {
			s.fail("string of %d bytes at offset %d, buffer has %d", n, s.pos, len(s.buf))
			return
		}
		b := make([]byte, n)
		s.processRaw(b)
		if s.err == nil {
			*v = string(b)
		}
		return
	}
	s.processRaw([]byte(*v))
}

// ProcessBytes is the length-prefixed form for raw byte payloads such as
// rendered frames.
func (s *State) ProcessBytes(v *[]byte) {
	n := len(*v)
	s.ProcessInt(&n)
	if s.err != nil {
		return
	}
	if s.reading {
		if n < 0 || s.pos+n > len(s.buf) {
			s.fail("blob of %d bytes at offset %d, buffer has %d", n, s.pos, len(s.buf))
			return
		}
		*v = make([]byte, n)
	}
	s.processRaw(*v)
}

// ProcessVec3 processes three float32 components in X, Y, Z order.
func (s *State) ProcessVec3(v *[3]float32) {
	s.ProcessFloat32(&v[0])
	s.ProcessFloat32(&v[1])
	s.ProcessFloat32(&v[2])
}

// ProcessCount serializes the length of a variable-length container that the
// caller is about to resize. minElemSize is the smallest encoded size of one
// element; on the read side a count whose elements could not possibly fit the
// remaining bytes is corruption, not an allocation request, and is rejected
// before any container grows to match it.
func (s *State) ProcessCount(v *int, minElemSize int) {
	s.ProcessInt(v)
	if !s.reading {
		return
	}
	if s.err != nil {
		*v = 0
		return
	}
	if minElemSize < 1 {
		minElemSize = 1
	}
	if *v < 0 || *v > (len(s.buf)-s.pos)/minElemSize {
		s.fail("count of %d elements at offset %d, buffer has %d bytes left", *v, s.pos, len(s.buf)-s.pos)
		*v = 0
	}
}

// ResizeSlice applies the length read for a variable-length container. The
// caller processes the length with ProcessCount immediately before the
// elements; on the read side the destination must be resized to that length
// before the elements are processed.
func ResizeSlice[T any](v *[]T, n int) {
	if n < 0 {
		n = 0
	}
	if cap(*v) >= n {
		*v = (*v)[:n]
		return
	}
	next := make([]T, n)
	copy(next, *v)
	*v = next
}
