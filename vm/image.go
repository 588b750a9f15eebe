package vm

// ImageMagic identifies a Lavendeux compiled image file.
var ImageMagic = [4]byte{'L', 'V', 'B', 'C'}

// ImageVersion is the on-disk format version. Bump on any incompatible
// change to the section layout below.
const ImageVersion uint32 = 1

// ImageHeaderSize is magic(4) + version(4) + flags(4) + constPoolOff(8)
// + funcTableOff(8) + entryFuncID(8) = 36 bytes.
const ImageHeaderSize = 36

const (
	ImageFlagNone      uint32 = 0
	ImageFlagDebugInfo uint32 = 1 << 0 // a CBOR DebugInfo blob follows the function table
	ImageFlagAllowAll  uint32 = 1 << 1 // image carries no syscall allowlist; every syscall is permitted
)

// ImageHeader is the fixed-size prefix of every image file.
type ImageHeader struct {
	Magic         [4]byte
	Version       uint32
	Flags         uint32
	ConstPoolOff  uint64
	FuncTableOff  uint64
	EntryFuncID   uint64
}

// constTag discriminates the constant-pool payload kinds. Int/Float/
// Bool/Nil never need a pool slot — PUSH_INT and PUSH_FLOAT carry them
// inline — so only the three non-inlinable kinds appear here.
type constTag byte

const (
	constString constTag = iota
	constFixed
	constRegex
)
