package record

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthemcas/anthemcas/internal/stream"
)

// cstr appends a NUL-terminated string.
func cstr(s string) []byte { return append([]byte(s), 0x00) }

func TestParseCompositeFields(t *testing.T) {
	var fields bytes.Buffer
	fields.WriteByte(0x08) // u32 field
	fields.Write(cstr("foo"))
	fields.Write([]byte{42, 0, 0, 0}) // little-endian 42

	fields.WriteByte(0x07) // string field
	fields.Write(cstr("name"))
	fields.WriteByte(0x03) // LEB128 length-prefix (2 chars + terminator)
	fields.WriteString("hi")
	fields.WriteByte(0x00)

	fields.WriteByte(0x00) // field-list terminator

	var buf bytes.Buffer
	buf.WriteByte(0x02) // named composite
	buf.Write(cstr("root"))
	buf.WriteByte(byte(fields.Len())) // LEB128 size, fits in one byte
	buf.Write(fields.Bytes())

	r := stream.New(bytes.NewReader(buf.Bytes()), 0)
	n, err := Parse(r)
	require.NoError(t, err)

	require.Equal(t, []string{"foo", "name"}, n.Keys())

	v, err := n.U32("foo")
	require.NoError(t, err)
	require.Equal(t, uint32(42), v)

	s, err := n.String("name")
	require.NoError(t, err)
	require.Equal(t, "hi", s)

	_, err = n.String("foo")
	var mismatch *TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
}

func TestParseNestedComposite(t *testing.T) {
	var inner bytes.Buffer
	inner.WriteByte(0x08)
	inner.Write(cstr("x"))
	inner.Write([]byte{7, 0, 0, 0})
	inner.WriteByte(0x00)

	// addField rewinds to re-read the tag via Parse, so the full 0x02-shaped
	// record (tag+size+fields) must appear at the field position.
	var full bytes.Buffer
	full.WriteByte(0x02)
	full.Write(cstr("root"))
	fieldsBody := []byte{0x02}
	fieldsBody = append(fieldsBody, cstr("child")...)
	fieldsBody = append(fieldsBody, byte(inner.Len()))
	fieldsBody = append(fieldsBody, inner.Bytes()...)
	fieldsBody = append(fieldsBody, 0x00)
	full.WriteByte(byte(len(fieldsBody)))
	full.Write(fieldsBody)

	r := stream.New(bytes.NewReader(full.Bytes()), 0)
	n, err := Parse(r)
	require.NoError(t, err)

	child, err := n.Composite("child")
	require.NoError(t, err)
	require.NotNil(t, child)
	v, err := child.U32("x")
	require.NoError(t, err)
	require.Equal(t, uint32(7), v)
}

func TestParseInlineBlob(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	var buf bytes.Buffer
	buf.WriteByte(0x87)
	buf.WriteByte(byte(len(payload) + 1)) // LEB128 length incl. terminator
	buf.Write(payload)
	buf.WriteByte(0x00)

	r := stream.New(bytes.NewReader(buf.Bytes()), 0)
	n, err := Parse(r)
	require.NoError(t, err)
	require.Equal(t, payload, n.Blob)
}

func TestParseFixedBlob(t *testing.T) {
	payload := bytes.Repeat([]byte{0x11}, 16)
	var buf bytes.Buffer
	buf.WriteByte(0x8f)
	buf.Write(payload)

	r := stream.New(bytes.NewReader(buf.Bytes()), 0)
	n, err := Parse(r)
	require.NoError(t, err)
	require.Equal(t, payload, n.Blob)
}

func TestParseFieldReadsBareListField(t *testing.T) {
	var item bytes.Buffer
	item.WriteByte(0x08) // u32 field
	item.Write(cstr("h32"))
	item.Write([]byte{0xDD, 0xCC, 0xBB, 0xAA}) // little-endian

	var itemRecord bytes.Buffer
	itemRecord.WriteByte(0x82)
	itemRecord.WriteByte(byte(item.Len() + 1)) // +1 for the terminator
	itemRecord.Write(item.Bytes())
	itemRecord.WriteByte(0x00)

	var buf bytes.Buffer
	buf.WriteByte(0x01) // list field, no enclosing composite wrapper
	buf.Write(cstr("chunkMeta"))
	buf.WriteByte(byte(itemRecord.Len() + 1)) // +1 for the list terminator
	buf.Write(itemRecord.Bytes())
	buf.WriteByte(0x00)

	r := stream.New(bytes.NewReader(buf.Bytes()), 0)
	key, v, err := ParseField(r)
	require.NoError(t, err)
	require.Equal(t, "chunkMeta", key)
	require.Equal(t, KindList, v.Kind)
	require.Len(t, v.List, 1)

	h32, err := v.List[0].U32("h32")
	require.NoError(t, err)
	require.Equal(t, uint32(0xAABBCCDD), h32)
}

func TestUnknownFieldTag(t *testing.T) {
	var fields bytes.Buffer
	fields.WriteByte(0xEE)
	fields.Write(cstr("bogus"))

	var buf bytes.Buffer
	buf.WriteByte(0x82)
	buf.WriteByte(byte(fields.Len()))
	buf.Write(fields.Bytes())

	r := stream.New(bytes.NewReader(buf.Bytes()), 0)
	_, err := Parse(r)
	var unknown *UnknownFieldTagError
	require.True(t, errors.As(err, &unknown))
}

func TestAbsentFieldAccessorsReturnZeroValue(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x82)
	buf.WriteByte(0x00) // zero-size field list: no fields to read at all

	r := stream.New(bytes.NewReader(buf.Bytes()), 0)
	n, err := Parse(r)
	require.NoError(t, err)

	v, err := n.U32("missing")
	require.NoError(t, err)
	require.Equal(t, uint32(0), v)

	c, err := n.Composite("missing")
	require.NoError(t, err)
	require.Nil(t, c)

	require.False(t, n.Has("missing"))
}
