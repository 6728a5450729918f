package txn

import (
	"math"
	"unsafe"
)

// Typed access operations, one per primitive width plus references. Each read
// performs the BeforeReadAccess/addRead pair itself, so instrumented callers
// that do not split the two can call a single operation. The per-width
// surface exists so values travel unboxed; all variants share the word-based
// core and differ only in the tag and the conversion at the edge.

// ReadInt64 transactionally reads an int64 field.
func (c *Context) ReadInt64(base unsafe.Pointer, offset int64) (int64, error) {
	v, err := c.read(base, offset, TagInt64)
	if err != nil {
		return 0, err
	}

	return int64(v.bits), nil
}

// ReadInt32 transactionally reads an int32 field.
func (c *Context) ReadInt32(base unsafe.Pointer, offset int64) (int32, error) {
	v, err := c.read(base, offset, TagInt32)
	if err != nil {
		return 0, err
	}

	return int32(uint32(v.bits)), nil
}

// ReadUint64 transactionally reads a uint64 field.
func (c *Context) ReadUint64(base unsafe.Pointer, offset int64) (uint64, error) {
	v, err := c.read(base, offset, TagUint64)
	if err != nil {
		return 0, err
	}

	return v.bits, nil
}

// ReadUint32 transactionally reads a uint32 field.
func (c *Context) ReadUint32(base unsafe.Pointer, offset int64) (uint32, error) {
	v, err := c.read(base, offset, TagUint32)
	if err != nil {
		return 0, err
	}

	return uint32(v.bits), nil
}

// ReadFloat64 transactionally reads a float64 field.
func (c *Context) ReadFloat64(base unsafe.Pointer, offset int64) (float64, error) {
	v, err := c.read(base, offset, TagFloat64)
	if err != nil {
		return 0, err
	}

	return math.Float64frombits(v.bits), nil
}

// ReadFloat32 transactionally reads a float32 field.
func (c *Context) ReadFloat32(base unsafe.Pointer, offset int64) (float32, error) {
	v, err := c.read(base, offset, TagFloat32)
	if err != nil {
		return 0, err
	}

	return math.Float32frombits(uint32(v.bits)), nil
}

// ReadBool transactionally reads a bool field.
func (c *Context) ReadBool(base unsafe.Pointer, offset int64) (bool, error) {
	v, err := c.read(base, offset, TagBool)
	if err != nil {
		return false, err
	}

	return v.bits != 0, nil
}

// ReadPointer transactionally reads a reference field.
func (c *Context) ReadPointer(base unsafe.Pointer, offset int64) (unsafe.Pointer, error) {
	v, err := c.read(base, offset, TagPointer)
	if err != nil {
		return nil, err
	}

	return v.ptr, nil
}

// WriteInt64 transactionally writes an int64 field.
func (c *Context) WriteInt64(base unsafe.Pointer, offset int64, v int64) error {
	return c.addWrite(base, offset, TagInt64, rawValue{bits: uint64(v)})
}

// WriteInt32 transactionally writes an int32 field.
func (c *Context) WriteInt32(base unsafe.Pointer, offset int64, v int32) error {
	return c.addWrite(base, offset, TagInt32, rawValue{bits: uint64(uint32(v))})
}

// WriteUint64 transactionally writes a uint64 field.
func (c *Context) WriteUint64(base unsafe.Pointer, offset int64, v uint64) error {
	return c.addWrite(base, offset, TagUint64, rawValue{bits: v})
}

// WriteUint32 transactionally writes a uint32 field.
func (c *Context) WriteUint32(base unsafe.Pointer, offset int64, v uint32) error {
	return c.addWrite(base, offset, TagUint32, rawValue{bits: uint64(v)})
}

// WriteFloat64 transactionally writes a float64 field.
func (c *Context) WriteFloat64(base unsafe.Pointer, offset int64, v float64) error {
	return c.addWrite(base, offset, TagFloat64, rawValue{bits: math.Float64bits(v)})
}

// WriteFloat32 transactionally writes a float32 field.
func (c *Context) WriteFloat32(base unsafe.Pointer, offset int64, v float32) error {
	return c.addWrite(base, offset, TagFloat32, rawValue{bits: uint64(math.Float32bits(v))})
}

// WriteBool transactionally writes a bool field.
func (c *Context) WriteBool(base unsafe.Pointer, offset int64, v bool) error {
	var bits uint64
	if v {
		bits = 1
	}

	return c.addWrite(base, offset, TagBool, rawValue{bits: bits})
}

// WritePointer transactionally writes a reference field.
func (c *Context) WritePointer(base unsafe.Pointer, offset int64, v unsafe.Pointer) error {
	return c.addWrite(base, offset, TagPointer, rawValue{ptr: v})
}

// read runs the full read protocol for one location.
func (c *Context) read(base unsafe.Pointer, offset int64, tag TypeTag) (rawValue, error) {
	if err := c.BeforeReadAccess(base, offset); err != nil {
		return rawValue{}, err
	}

	return c.addRead(base, offset, tag)
}
