// Package record implements the recursive, schema-tagged record format used
// by layout.toc and (for per-chunk metadata) bundle .sb files.
//
// A decoded record is a dynamically shaped tree: field lookups return one of
// {absent, u32, u64-le, u64-be, bool, bytes, string, composite, list}. This
// mirrors anthemtool.toc.entry.TocEntry in original_source/, which stores
// fields directly as Python attributes and resolves them with getattr-style
// access; Go has no dynamic attribute access, so Node exposes a typed
// accessor per field kind instead.
package record

import (
	"golang.org/x/xerrors"

	"github.com/anthemcas/anthemcas/internal/stream"
)

// Kind identifies the dynamic type of a decoded field value.
type Kind int

const (
	KindAbsent Kind = iota
	KindU32
	KindU64LE
	KindU64BE
	KindBool
	KindBytes
	KindString
	KindComposite
	KindList
)

// Value is one decoded field: exactly one of the typed members is valid,
// selected by Kind.
type Value struct {
	Kind  Kind
	U32   uint32
	U64   uint64
	Bool  bool
	Bytes []byte
	Str   string
	Node  *Node
	List  []*Node
}

// TypeMismatchError is returned by the typed accessors when a field exists
// but is not of the requested kind.
type TypeMismatchError struct {
	Path string
	Want Kind
	Got  Kind
}

func (e *TypeMismatchError) Error() string {
	return xerrors.Errorf("field %q: type mismatch (want %d, got %d)", e.Path, e.Want, e.Got).Error()
}

// UnknownFieldTagError is raised when a field-type byte is not in the known
// vocabulary of field tags.
type UnknownFieldTagError struct {
	Offset int64
	Tag    byte
}

func (e *UnknownFieldTagError) Error() string {
	return xerrors.Errorf("unknown field tag 0x%02x at offset %d", e.Tag, e.Offset).Error()
}

// Node is one decoded composite (record-tag 0x82/0x02) or leaf blob
// (0x87/0x8f). Field insertion order is preserved and reported by Keys.
type Node struct {
	Name string // not set by Parse; composites are named by their parent field key

	keys   []string
	values map[string]Value

	// Blob holds the raw bytes for 0x87 (inline blob) and 0x8f (fixed
	// 16-byte blob) record shapes, which carry no named fields.
	Blob []byte
}

func newNode() *Node {
	return &Node{values: make(map[string]Value)}
}

func (n *Node) set(key string, v Value) {
	if _, exists := n.values[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.values[key] = v
}

// Keys returns field names in source order.
func (n *Node) Keys() []string { return append([]string(nil), n.keys...) }

// Get returns the raw Value for key, or a zero Value with Kind==KindAbsent.
func (n *Node) Get(key string) Value {
	if v, ok := n.values[key]; ok {
		return v
	}
	return Value{Kind: KindAbsent}
}

// Has reports whether key is present.
func (n *Node) Has(key string) bool {
	_, ok := n.values[key]
	return ok
}

// Composite returns the composite-valued field named key.
func (n *Node) Composite(key string) (*Node, error) {
	v := n.Get(key)
	if v.Kind == KindAbsent {
		return nil, nil
	}
	if v.Kind != KindComposite {
		return nil, &TypeMismatchError{Path: key, Want: KindComposite, Got: v.Kind}
	}
	return v.Node, nil
}

// List returns the list-of-composite field named key.
func (n *Node) List(key string) ([]*Node, error) {
	v := n.Get(key)
	if v.Kind == KindAbsent {
		return nil, nil
	}
	if v.Kind != KindList {
		return nil, &TypeMismatchError{Path: key, Want: KindList, Got: v.Kind}
	}
	return v.List, nil
}

// U32 returns the u32 field named key.
func (n *Node) U32(key string) (uint32, error) {
	v := n.Get(key)
	if v.Kind == KindAbsent {
		return 0, nil
	}
	if v.Kind != KindU32 {
		return 0, &TypeMismatchError{Path: key, Want: KindU32, Got: v.Kind}
	}
	return v.U32, nil
}

// String returns the string field named key.
func (n *Node) String(key string) (string, error) {
	v := n.Get(key)
	if v.Kind == KindAbsent {
		return "", nil
	}
	if v.Kind != KindString {
		return "", &TypeMismatchError{Path: key, Want: KindString, Got: v.Kind}
	}
	return v.Str, nil
}

// Bytes returns the raw-byte field named key (field tags 0x0f, 0x13, 0x10).
func (n *Node) Bytes(key string) ([]byte, error) {
	v := n.Get(key)
	if v.Kind == KindAbsent {
		return nil, nil
	}
	if v.Kind != KindBytes {
		return nil, &TypeMismatchError{Path: key, Want: KindBytes, Got: v.Kind}
	}
	return v.Bytes, nil
}

// Parse decodes one top-level tagged record starting at the current position
// of r (the type-tag byte). Composites recurse via addField for nested
// (field-tag 0x02) records.
func Parse(r *stream.Reader) (*Node, error) {
	start := r.Pos()
	tag, err := r.Byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0x82, 0x02:
		n := newNode()
		if tag == 0x02 {
			// Named composite: a NUL-terminated name precedes the size. On a
			// nested field-tag-0x02 read, addField has rewound to the tag, so
			// this reads the field key a second time; it is discarded here.
			if _, err := r.CString(); err != nil {
				return nil, err
			}
		}
		size, err := r.LEB128()
		if err != nil {
			return nil, err
		}
		fieldsStart := r.Pos()
		for r.Pos()-fieldsStart < int64(size) {
			done, err := addField(r, n)
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
		}
		return n, nil
	case 0x87:
		length, err := r.LEB128()
		if err != nil {
			return nil, err
		}
		if length == 0 {
			return nil, xerrors.Errorf("inline blob at offset %d: zero length prefix", start)
		}
		blob, err := r.Bytes(int(length - 1))
		if err != nil {
			return nil, err
		}
		term, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if term != 0x00 {
			return nil, xerrors.Errorf("inline blob at offset %d: expected 0x00 terminator, got 0x%02x", r.Pos(), term)
		}
		return &Node{values: make(map[string]Value), Blob: blob}, nil
	case 0x8f:
		blob, err := r.Bytes(16)
		if err != nil {
			return nil, err
		}
		return &Node{values: make(map[string]Value), Blob: blob}, nil
	default:
		return nil, xerrors.Errorf("record tag 0x%02x at offset %d not recognized", tag, start)
	}
}

// ParseField reads one bare field from r's current position: a field-tag
// byte, key, and typed value, with none of the enclosing record-header
// framing Parse expects. This is what toc_entry.add_field(stream) does in
// original_source/ when a caller already knows it's sitting on a single
// field rather than a whole record (e.g. a bundle's chunkMeta, which is a
// 0x01 list field with no composite wrapper around it).
func ParseField(r *stream.Reader) (key string, value Value, err error) {
	n := newNode()
	done, err := addField(r, n)
	if err != nil {
		return "", Value{}, err
	}
	if done || len(n.keys) == 0 {
		return "", Value{Kind: KindAbsent}, nil
	}
	key = n.keys[0]
	return key, n.values[key], nil
}

// addField reads one field of a composite. It returns done==true when the
// 0x00 field-list terminator was read.
func addField(r *stream.Reader, n *Node) (done bool, err error) {
	offset := r.Pos()
	tag, err := r.Byte()
	if err != nil {
		return false, err
	}
	if tag == 0x00 {
		return true, nil
	}

	key, err := r.CString()
	if err != nil {
		return false, err
	}

	switch tag {
	case 0x0f:
		b, err := r.Bytes(16)
		if err != nil {
			return false, err
		}
		n.set(key, Value{Kind: KindBytes, Bytes: b})
	case 0x09:
		v, err := r.U64LE()
		if err != nil {
			return false, err
		}
		n.set(key, Value{Kind: KindU64LE, U64: v})
	case 0x08:
		v, err := r.U32LE()
		if err != nil {
			return false, err
		}
		n.set(key, Value{Kind: KindU32, U32: v})
	case 0x06:
		b, err := r.Byte()
		if err != nil {
			return false, err
		}
		n.set(key, Value{Kind: KindBool, Bool: b == 0x01})
	case 0x02:
		// Nested composite: rewind the tag byte and recurse through Parse so
		// the nested record re-reads its own (0x82/0x02) header.
		r.Seek(offset)
		nested, err := Parse(r)
		if err != nil {
			return false, err
		}
		n.set(key, Value{Kind: KindComposite, Node: nested})
	case 0x13:
		size, err := r.LEB128()
		if err != nil {
			return false, err
		}
		b, err := r.Bytes(int(size))
		if err != nil {
			return false, err
		}
		n.set(key, Value{Kind: KindBytes, Bytes: b})
	case 0x10:
		b, err := r.Bytes(20)
		if err != nil {
			return false, err
		}
		n.set(key, Value{Kind: KindBytes, Bytes: b})
	case 0x07:
		size, err := r.LEB128()
		if err != nil {
			return false, err
		}
		if size == 0 {
			return false, xerrors.Errorf("string field %q at offset %d: zero length prefix", key, offset)
		}
		b, err := r.Bytes(int(size - 1))
		if err != nil {
			return false, err
		}
		if err := r.Skip(1); err != nil { // terminator
			return false, err
		}
		n.set(key, Value{Kind: KindString, Str: string(b)})
	case 0x0c:
		v, err := r.U64BE()
		if err != nil {
			return false, err
		}
		n.set(key, Value{Kind: KindU64BE, U64: v})
	case 0x01:
		listSize, err := r.LEB128()
		if err != nil {
			return false, err
		}
		listStart := r.Pos()
		var list []*Node
		for r.Pos()-listStart < int64(listSize)-1 {
			item, err := Parse(r)
			if err != nil {
				return false, err
			}
			list = append(list, item)
		}
		term, err := r.Byte()
		if err != nil {
			return false, err
		}
		if term != 0x00 {
			return false, xerrors.Errorf("list field %q at offset %d: expected 0x00 terminator, got 0x%02x", key, r.Pos(), term)
		}
		n.set(key, Value{Kind: KindList, List: list})
	default:
		return false, &UnknownFieldTagError{Offset: offset, Tag: tag}
	}
	return false, nil
}
