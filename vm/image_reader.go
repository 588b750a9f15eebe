package vm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
)

// Image is the decoded, not-yet-loaded contents of an image file. Use
// loader.go's Load to turn this into a running Registry + Interpreter
// (it still needs the verification pass §4.2 requires).
type Image struct {
	Constants        []Value
	Functions        []*FuncEntry
	EntryFuncID      uint64
	DebugBlob        []byte // raw bytes from package dist, nil if absent
	AllowAllSyscalls bool
}

// ReadImage decodes the framed binary format WriteTo produces.
func ReadImage(r io.Reader) (*Image, error) {
	var hdr [ImageHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("vm: read image header: %w", err)
	}
	var magic [4]byte
	copy(magic[:], hdr[0:4])
	if magic != ImageMagic {
		return nil, loadErrorf("bad magic %q, want %q", magic, ImageMagic)
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != ImageVersion {
		return nil, loadErrorf("image version %d, this build supports %d", version, ImageVersion)
	}
	flags := binary.LittleEndian.Uint32(hdr[8:12])
	entryFuncID := binary.LittleEndian.Uint64(hdr[28:36])

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("vm: read image body: %w", err)
	}
	rd := &byteCursor{b: rest}

	consts, err := readConstPool(rd)
	if err != nil {
		return nil, err
	}
	fns, err := readFuncTable(rd)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Constants:        consts,
		Functions:        fns,
		EntryFuncID:      entryFuncID,
		AllowAllSyscalls: flags&ImageFlagAllowAll != 0,
	}
	if flags&ImageFlagDebugInfo != 0 {
		n := rd.u32()
		img.DebugBlob = rd.bytes(int(n))
	}
	if rd.err != nil {
		return nil, rd.err
	}
	return img, nil
}

// byteCursor is a small sequential-read helper; image_reader.go avoids
// reusing BytecodeReader since that type is opcode-aware and this is
// plain structural decoding.
type byteCursor struct {
	b   []byte
	pos int
	err error
}

func (c *byteCursor) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *byteCursor) bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	if c.pos+n > len(c.b) {
		c.fail(fmt.Errorf("vm: image truncated"))
		return nil
	}
	out := c.b[c.pos : c.pos+n]
	c.pos += n
	return out
}

func (c *byteCursor) byte() byte {
	b := c.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *byteCursor) u32() uint32 {
	b := c.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *byteCursor) u64() uint64 {
	b := c.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (c *byteCursor) str() string {
	n := c.u32()
	b := c.bytes(int(n))
	return string(b)
}

func readConstPool(rd *byteCursor) ([]Value, error) {
	n := rd.u32()
	out := make([]Value, n)
	for i := range out {
		tag := constTag(rd.byte())
		switch tag {
		case constString:
			out[i] = FromString(rd.str())
		case constFixed:
			sign := rd.byte()
			blen := rd.u32()
			mag := rd.bytes(int(blen))
			u := new(big.Int).SetBytes(mag)
			if sign == 1 {
				u.Neg(u)
			}
			scale := int(rd.u32())
			out[i] = FromFixed(&Fixed{Unscaled: u, Scale: scale})
		case constRegex:
			pattern := rd.str()
			flags := rd.str()
			re, err := compileRegex(pattern, flags)
			if err != nil {
				return nil, err
			}
			out[i] = FromRegex(re)
		default:
			return nil, loadErrorf("unknown constant-pool tag %d at entry %d", byte(tag), i)
		}
	}
	if rd.err != nil {
		return nil, rd.err
	}
	return out, nil
}

func readFuncTable(rd *byteCursor) ([]*FuncEntry, error) {
	n := rd.u32()
	out := make([]*FuncEntry, n)
	for i := range out {
		fn := &FuncEntry{}
		fn.ID = rd.u64()
		fn.Name = rd.str()
		fn.Category = rd.str()
		fn.Return = rd.str()
		fn.Short = rd.str()
		fn.Desc = rd.str()
		fn.Example = rd.str()

		pcount := rd.u32()
		fn.Params = make([]ParamSpec, pcount)
		for j := range fn.Params {
			fn.Params[j].Name = rd.str()
			fn.Params[j].Type = rd.str()
			fn.Params[j].ByRef = rd.byte() == 1
			if rd.byte() == 1 {
				v := readDefaultValue(rd)
				fn.Params[j].Default = &v
			}
		}

		lcount := rd.u32()
		fn.Locals = make([]string, lcount)
		for j := range fn.Locals {
			fn.Locals[j] = rd.str()
		}

		clen := rd.u32()
		fn.Code = append([]byte(nil), rd.bytes(int(clen))...)

		out[i] = fn
	}
	if rd.err != nil {
		return nil, rd.err
	}
	return out, nil
}

func readDefaultValue(rd *byteCursor) Value {
	switch rd.byte() {
	case 0:
		return Nil
	case 1:
		return FromBool(rd.byte() == 1)
	case 2:
		w := IntWidth(rd.byte())
		return Value{kind: KInt, iw: w, i: rd.u64() & widthMask(w)}
	case 3:
		return FromFloat64(math.Float64frombits(rd.u64()))
	case 4:
		return FromString(rd.str())
	default:
		rd.fail(fmt.Errorf("vm: unknown default-value tag"))
		return Nil
	}
}
