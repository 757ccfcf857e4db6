package dissect

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldID is the handle a Registry hands out for a registered field.
// The zero value means "not registered".
type FieldID int

// SubtreeID identifies a display group used to nest items under a labeled subtree.
type SubtreeID int

// FieldType is the wire type of a field.
type FieldType int

// Field types.
const (
	FieldTypeProtocol FieldType = iota
	FieldTypeUint8
	FieldTypeUint16
	FieldTypeUint32
	FieldTypeBytes
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeProtocol: "protocol",
	FieldTypeUint8:    "uint8",
	FieldTypeUint16:   "uint16",
	FieldTypeUint32:   "uint32",
	FieldTypeBytes:    "bytes",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// Size returns the fixed wire width of t, or 0 for variable-length types.
func (t FieldType) Size() int {
	switch t {
	case FieldTypeUint8:
		return 1
	case FieldTypeUint16:
		return 2
	case FieldTypeUint32:
		return 4
	}
	return 0
}

// Base is the display base of integer fields.
type Base int

// Display bases.
const (
	BaseNone Base = iota
	BaseDec
	BaseHex
)

// Descriptor describes one field exposed by a dissector.
type Descriptor struct {
	// ID is assigned by Registry.Register.
	ID FieldID
	// Name is the label shown in the field tree.
	Name string
	// Abbrev is the dotted filter path, e.g. "doip.sa".
	Abbrev string
	Type   FieldType
	Base   Base
	// Strings optionally maps integer values to display names.
	Strings map[uint64]string
	// Description is free text shown as field documentation.
	Description string
}

// Registry maps field ids to descriptors.
//
// A registry is populated during process start-up and sealed before any
// packet is decoded. Register is not safe for concurrent use; lookups on a
// sealed registry are.
type Registry struct {
	fields   []*Descriptor
	byAbbrev map[string]*Descriptor
	subtrees int
	sealed   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byAbbrev: make(map[string]*Descriptor)}
}

// Register assigns an id to every descriptor in fields.
// Either all descriptors are registered or none is.
func (r *Registry) Register(fields []*Descriptor) error {
	if r.sealed {
		return ErrRegistrySealed
	}

	seen := make(map[string]bool, len(fields))
	for _, d := range fields {
		if d == nil || d.Name == "" || d.Abbrev == "" {
			return errors.Wrapf(ErrInvalidField, "%+v", d)
		}
		if _, ok := fieldTypeNames[d.Type]; !ok {
			return errors.Wrapf(ErrInvalidField, "%s: type %v", d.Abbrev, d.Type)
		}
		if d.ID != 0 {
			return errors.Wrapf(ErrDuplicateField, "%s already registered as %d", d.Abbrev, d.ID)
		}
		if _, ok := r.byAbbrev[d.Abbrev]; ok || seen[d.Abbrev] {
			return errors.Wrap(ErrDuplicateField, d.Abbrev)
		}
		seen[d.Abbrev] = true
	}

	for _, d := range fields {
		r.fields = append(r.fields, d)
		d.ID = FieldID(len(r.fields))
		r.byAbbrev[d.Abbrev] = d
	}
	return nil
}

// RegisterSubtrees allocates a subtree id for every pointer in ids.
func (r *Registry) RegisterSubtrees(ids ...*SubtreeID) error {
	if r.sealed {
		return ErrRegistrySealed
	}
	for _, id := range ids {
		if id == nil {
			return errors.Wrap(ErrInvalidField, "nil subtree")
		}
		if *id != 0 {
			return errors.Wrapf(ErrDuplicateField, "subtree %d", *id)
		}
	}
	for _, id := range ids {
		r.subtrees++
		*id = SubtreeID(r.subtrees)
	}
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() { r.sealed = true }

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool { return r.sealed }

// Field returns the descriptor registered under id.
func (r *Registry) Field(id FieldID) (*Descriptor, bool) {
	if id <= 0 || int(id) > len(r.fields) {
		return nil, false
	}
	return r.fields[id-1], true
}

// Lookup returns the descriptor registered under the filter path abbrev.
func (r *Registry) Lookup(abbrev string) (*Descriptor, bool) {
	d, ok := r.byAbbrev[abbrev]
	return d, ok
}

// Fields returns a copy of all registered descriptors in id order.
func (r *Registry) Fields() []Descriptor {
	out := make([]Descriptor, 0, len(r.fields))
	for _, d := range r.fields {
		out = append(out, *d)
	}
	return out
}
