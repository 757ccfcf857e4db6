package dissect

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Encoding tags how the bytes of an item are laid out on the wire.
type Encoding int

// Encodings.
const (
	EncodingNA Encoding = iota
	EncodingBigEndian
	EncodingLittleEndian
)

// Item is one node of a field tree.
type Item struct {
	Field *Descriptor
	// Offset and Length locate the item inside the top-level buffer.
	Offset int
	Length int
	// Value is uint64 for integer fields, []byte for byte strings and nil for protocols.
	Value    interface{}
	Subtree  SubtreeID
	reg      *Registry
	children *Tree
}

// Tree is an ordered list of items, each of which may carry a subtree.
type Tree struct {
	reg     *Registry
	items   []*Item
	experts []string
}

// NewTree returns an empty tree resolving field ids through reg.
func NewTree(reg *Registry) *Tree {
	return &Tree{reg: reg}
}

// Items returns the top-level items of t.
func (t *Tree) Items() []*Item {
	if t == nil {
		return nil
	}
	return t.items
}

// Experts returns the notes attached with AddExpert.
func (t *Tree) Experts() []string {
	if t == nil {
		return nil
	}
	return t.experts
}

// AddExpert attaches a note, typically a malformed-packet warning, to t.
func (t *Tree) AddExpert(format string, args ...interface{}) {
	t.experts = append(t.experts, fmt.Sprintf(format, args...))
}

// AddItem decodes length bytes at off in buf as field id and appends the item.
// Nothing is appended when the range is not available in buf.
func (t *Tree) AddItem(id FieldID, buf *Buffer, off, length int, enc Encoding) (*Item, error) {
	d, ok := t.reg.Field(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownField, "id %d", id)
	}
	raw, err := buf.Bytes(off, length)
	if err != nil {
		return nil, errors.Wrap(err, d.Abbrev)
	}

	it := &Item{Field: d, Offset: buf.Offset() + off, Length: length, reg: t.reg}
	switch d.Type {
	case FieldTypeUint8, FieldTypeUint16, FieldTypeUint32:
		if length != d.Type.Size() {
			return nil, errors.Wrapf(ErrInvalidField, "%s: length %d for %v", d.Abbrev, length, d.Type)
		}
		it.Value = decodeUint(raw, enc)
	case FieldTypeBytes:
		it.Value = append([]byte(nil), raw...)
	}
	t.items = append(t.items, it)
	return it, nil
}

// AddProtocol appends a protocol item covering [off, off+length) of buf.
// The range is clamped to the bytes actually present.
func (t *Tree) AddProtocol(id FieldID, buf *Buffer, off, length int) (*Item, error) {
	d, ok := t.reg.Field(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownField, "id %d", id)
	}
	if d.Type != FieldTypeProtocol {
		return nil, errors.Wrapf(ErrInvalidField, "%s is not a protocol", d.Abbrev)
	}
	view, err := buf.Tail(off, length)
	if err != nil {
		return nil, errors.Wrap(err, d.Abbrev)
	}
	it := &Item{Field: d, Offset: view.Offset(), Length: view.Len(), reg: t.reg}
	t.items = append(t.items, it)
	return it, nil
}

// AddSubtree attaches a child tree to the item and returns it.
func (i *Item) AddSubtree(id SubtreeID) *Tree {
	if i.children == nil {
		i.children = NewTree(i.reg)
	}
	i.Subtree = id
	return i.children
}

// Children returns the subtree of the item, or nil.
func (i *Item) Children() *Tree { return i.children }

// Uint returns the integer value of the item.
func (i *Item) Uint() (uint64, bool) {
	v, ok := i.Value.(uint64)
	return v, ok
}

// Bytes returns the byte-string value of the item.
func (i *Item) Bytes() ([]byte, bool) {
	v, ok := i.Value.([]byte)
	return v, ok
}

func (i *Item) String() string {
	d := i.Field
	switch d.Type {
	case FieldTypeProtocol:
		return d.Name
	case FieldTypeBytes:
		v, _ := i.Bytes()
		return fmt.Sprintf("%s: %x", d.Name, v)
	}

	v, _ := i.Uint()
	var s string
	switch d.Base {
	case BaseHex:
		s = fmt.Sprintf("0x%0*x", d.Type.Size()*2, v)
	default:
		s = fmt.Sprintf("%d", v)
	}
	if name, ok := d.Strings[v]; ok {
		s = fmt.Sprintf("%s (%s)", name, s)
	}
	return d.Name + ": " + s
}

// Find returns every item, at any depth, registered under abbrev.
func (t *Tree) Find(abbrev string) []*Item {
	var out []*Item
	for _, it := range t.Items() {
		if it.Field.Abbrev == abbrev {
			out = append(out, it)
		}
		out = append(out, it.children.Find(abbrev)...)
	}
	return out
}

// Format writes an indented text rendering of t to w.
func (t *Tree) Format(w io.Writer) error {
	bw := bufio.NewWriter(w)
	t.format(bw, 0)
	return bw.Flush()
}

func (t *Tree) format(w *bufio.Writer, depth int) {
	if t == nil {
		return
	}
	indent := strings.Repeat("    ", depth)
	for _, it := range t.items {
		fmt.Fprintf(w, "%s%s\n", indent, it)
		it.children.format(w, depth+1)
	}
	for _, e := range t.experts {
		fmt.Fprintf(w, "%s[Expert Info: %s]\n", indent, e)
	}
}

func decodeUint(b []byte, enc Encoding) uint64 {
	var v uint64
	if enc == EncodingLittleEndian {
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return v
	}
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
