package vm

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"math/big"
)

// PoolConst is one constant-pool entry: the non-inlinable Value kinds
// (String, Fixed, Regex) that PUSH_CONST addresses by index.
type PoolConst struct {
	Tag          constTag
	Str          string
	Fixed        *Fixed
	RegexPattern string
	RegexFlags   string
}

// ImageWriter serializes a compiled module (constant pool, function
// table, optional debug info) to the framed binary format readers
// consume. Section offsets are back-patched into the header once the
// body has been assembled, mirroring the teacher's ImageWriter
// two-pass shape (collect, then patch header offsets).
type ImageWriter struct {
	Constants   []PoolConst
	Functions   []*FuncEntry
	EntryFuncID uint64
	// DebugBlob is a pre-encoded debug-info section (see package dist),
	// left nil for an image built without -D. vm deliberately doesn't
	// know how to encode/decode it, only how to frame it, so that this
	// package never has to import the codec that does.
	DebugBlob        []byte
	AllowAllSyscalls bool
}

// WriteTo encodes the image to out.
func (w *ImageWriter) WriteTo(out io.Writer) (int64, error) {
	var body bytes.Buffer

	constOff := uint64(ImageHeaderSize)
	writeConstPool(&body, w.Constants)

	funcOff := uint64(ImageHeaderSize) + uint64(body.Len())
	writeFuncTable(&body, w.Functions)

	flags := ImageFlagNone
	if w.AllowAllSyscalls {
		flags |= ImageFlagAllowAll
	}
	if w.DebugBlob != nil {
		flags |= ImageFlagDebugInfo
		writeUint32(&body, uint32(len(w.DebugBlob)))
		body.Write(w.DebugBlob)
	}

	var header bytes.Buffer
	header.Write(ImageMagic[:])
	writeUint32(&header, ImageVersion)
	writeUint32(&header, flags)
	writeUint64(&header, constOff)
	writeUint64(&header, funcOff)
	writeUint64(&header, w.EntryFuncID)

	n1, err := out.Write(header.Bytes())
	if err != nil {
		return int64(n1), err
	}
	n2, err := out.Write(body.Bytes())
	return int64(n1 + n2), err
}

func writeConstPool(buf *bytes.Buffer, consts []PoolConst) {
	writeUint32(buf, uint32(len(consts)))
	for _, c := range consts {
		buf.WriteByte(byte(c.Tag))
		switch c.Tag {
		case constString:
			writeString(buf, c.Str)
		case constFixed:
			writeFixed(buf, c.Fixed)
		case constRegex:
			writeString(buf, c.RegexPattern)
			writeString(buf, c.RegexFlags)
		}
	}
}

func writeFixed(buf *bytes.Buffer, f *Fixed) {
	sign := byte(0)
	if f.Unscaled.Sign() < 0 {
		sign = 1
	}
	buf.WriteByte(sign)
	abs := new(big.Int).Abs(f.Unscaled)
	b := abs.Bytes()
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
	writeUint32(buf, uint32(f.Scale))
}

func writeFuncTable(buf *bytes.Buffer, fns []*FuncEntry) {
	writeUint32(buf, uint32(len(fns)))
	for _, fn := range fns {
		writeUint64(buf, fn.ID)
		writeString(buf, fn.Name)
		writeString(buf, fn.Category)
		writeString(buf, fn.Return)
		writeString(buf, fn.Short)
		writeString(buf, fn.Desc)
		writeString(buf, fn.Example)

		writeUint32(buf, uint32(len(fn.Params)))
		for _, p := range fn.Params {
			writeString(buf, p.Name)
			writeString(buf, p.Type)
			if p.ByRef {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
			if p.Default == nil {
				buf.WriteByte(0)
			} else {
				buf.WriteByte(1)
				writeDefaultValue(buf, *p.Default)
			}
		}

		writeUint32(buf, uint32(len(fn.Locals)))
		for _, l := range fn.Locals {
			writeString(buf, l)
		}

		writeUint32(buf, uint32(len(fn.Code)))
		buf.Write(fn.Code)
	}
}

// writeDefaultValue encodes a parameter default inline. Only nil, bool,
// int, float and string defaults are encodable; any other kind panics.
// At call time FuncEntry.BindArgs (registry.go) substitutes the decoded
// default for an omitted argument.
func writeDefaultValue(buf *bytes.Buffer, v Value) {
	switch v.Kind() {
	case KNil:
		buf.WriteByte(0)
	case KBool:
		buf.WriteByte(1)
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KInt:
		buf.WriteByte(2)
		buf.WriteByte(byte(v.IntWidth()))
		writeUint64(buf, v.AsUint64())
	case KFloat:
		buf.WriteByte(3)
		writeUint64(buf, math.Float64bits(v.Float64()))
	case KString:
		buf.WriteByte(4)
		writeString(buf, v.Str())
	default:
		panic("writeDefaultValue: unsupported default kind " + v.Kind().String())
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}
