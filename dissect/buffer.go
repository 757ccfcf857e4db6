package dissect

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Buffer is a read-only, bounds-checked view over packet bytes.
// It borrows the underlying slice; callers must not retain it past the
// lifetime of the packet it was built from.
type Buffer struct {
	data   []byte
	offset int // absolute offset of data[0] inside the top-level buffer
}

// NewBuffer returns a view over the whole of b.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Len returns the number of bytes available in the view.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Offset returns the absolute offset of the view inside its top-level buffer.
func (b *Buffer) Offset() int {
	if b == nil {
		return 0
	}
	return b.offset
}

// Check reports whether [off, off+n) lies inside the view.
func (b *Buffer) Check(off, n int) error {
	if b == nil {
		return errors.Wrap(ErrOutOfBounds, "no buffer")
	}
	if off < 0 || n < 0 || off > b.Len() || n > b.Len()-off {
		return errors.Wrapf(ErrOutOfBounds, "range [%d,%d) of %d bytes", off, off+n, b.Len())
	}
	return nil
}

// Uint8 reads one byte at off.
func (b *Buffer) Uint8(off int) (uint8, error) {
	if err := b.Check(off, 1); err != nil {
		return 0, err
	}
	return b.data[off], nil
}

// Uint16 reads a big-endian uint16 at off.
func (b *Buffer) Uint16(off int) (uint16, error) {
	if err := b.Check(off, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b.data[off : off+2]), nil
}

// Uint32 reads a big-endian uint32 at off.
func (b *Buffer) Uint32(off int) (uint32, error) {
	if err := b.Check(off, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b.data[off : off+4]), nil
}

// Bytes returns the n bytes at off. The result aliases the view.
func (b *Buffer) Bytes(off, n int) ([]byte, error) {
	if err := b.Check(off, n); err != nil {
		return nil, err
	}
	return b.data[off : off+n : off+n], nil
}

// Sub returns a view over [off, off+n).
func (b *Buffer) Sub(off, n int) (*Buffer, error) {
	if err := b.Check(off, n); err != nil {
		return nil, err
	}
	return &Buffer{data: b.data[off : off+n : off+n], offset: b.offset + off}, nil
}

// Tail returns a view from off to the end of the buffer, clamped to at most n bytes.
func (b *Buffer) Tail(off, n int) (*Buffer, error) {
	if err := b.Check(off, 0); err != nil {
		return nil, err
	}
	if rest := b.Len() - off; n > rest {
		n = rest
	}
	return b.Sub(off, n)
}
