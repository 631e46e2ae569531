// Package zcore decodes the fixed 64-byte story file header (spec section
// 3, "Header") and derives the packed-address multiplier used throughout
// the rest of the interpreter. Grounded on the teacher's zcore.Core, now
// reading through zmem.Memory and returning errors instead of indexing a
// raw slice directly.
package zcore

import (
	"encoding/binary"
	"fmt"

	"github.com/davetcode/goz/zmem"
)

// Core is the decoded header. Field names and layout follow the teacher's
// original Core struct; see spec section 3 for the authoritative field
// list.
type Core struct {
	Version                          uint8
	FlagByte1                        uint8
	StatusBarTimeBased               bool
	ReleaseNumber                    uint16
	HighMemoryBase                   uint16
	FirstInstruction                 uint16
	DictionaryBase                   uint16
	ObjectTableBase                  uint16
	GlobalVariableBase               uint16
	StaticMemoryBase                 uint16
	AbbreviationTableBase            uint16
	FileChecksumHeader               uint16
	FileLengthWords                  uint16
	SerialNumber                     [6]uint8
	InterpreterNumber                uint8
	InterpreterVersion               uint8
	ScreenHeightLines                uint8
	ScreenWidthChars                 uint8
	ScreenWidthUnits                 uint16
	ScreenHeightUnits                uint16
	FontHeight                       uint8
	FontWidth                        uint8
	RoutinesOffset                   uint16
	StringOffset                     uint16
	DefaultBackgroundColorNumber     uint8
	DefaultForegroundColorNumber     uint8
	TerminatingCharTableBase         uint16
	OutputStream3Width               uint16
	StandardRevisionNumber           uint16
	AlternativeCharSetBaseAddress    uint16
	ExtensionTableBaseAddress        uint16
	UnicodeExtensionTableBaseAddress uint16
}

// Load parses the header out of mem and installs the dynamic/static memory
// boundary on mem. It also stamps the interpreter-identity bytes the way
// the teacher's LoadCore did, since several story files branch on them.
func Load(mem *zmem.Memory) (*Core, error) {
	b := mem.RawBytes()
	if len(b) < 0x40 {
		return nil, fmt.Errorf("story file shorter than the 64 byte header")
	}

	b[0x1e] = 0x6 // Interpreter number - IBM PC, closest widely-recognized match
	b[0x1f] = 0x1 // Interpreter version

	b[0x20] = 25
	b[0x21] = 80
	b[0x22] = 0
	b[0x23] = 80
	b[0x24] = 0
	b[0x25] = 25
	b[0x26] = 1
	b[0x27] = 1

	b[0x32] = 0x1
	b[0x33] = 0x2

	if b[0] <= 3 {
		b[1] |= 0b0010_0000
	} else {
		b[1] |= 0b0010_1101
	}

	extensionTableBase := binary.BigEndian.Uint16(b[0x36:0x38])
	unicodeExtensionTableBase := uint16(0)
	if extensionTableBase != 0 && int(extensionTableBase)+8 <= len(b) {
		unicodeExtensionTableBase = binary.BigEndian.Uint16(b[extensionTableBase+6 : extensionTableBase+8])
	}

	var serial [6]uint8
	copy(serial[:], b[0x12:0x18])

	c := &Core{
		Version:                          b[0x00],
		FlagByte1:                        b[0x01],
		StatusBarTimeBased:               b[0x01]&0b0000_0010 == 0b0000_0010,
		ReleaseNumber:                    binary.BigEndian.Uint16(b[0x02:0x04]),
		HighMemoryBase:                   binary.BigEndian.Uint16(b[0x04:0x06]),
		FirstInstruction:                 binary.BigEndian.Uint16(b[0x06:0x08]),
		DictionaryBase:                   binary.BigEndian.Uint16(b[0x08:0x0a]),
		ObjectTableBase:                  binary.BigEndian.Uint16(b[0x0a:0x0c]),
		GlobalVariableBase:               binary.BigEndian.Uint16(b[0x0c:0x0e]),
		StaticMemoryBase:                 binary.BigEndian.Uint16(b[0x0e:0x10]),
		SerialNumber:                     serial,
		AbbreviationTableBase:            binary.BigEndian.Uint16(b[0x18:0x1a]),
		FileLengthWords:                  binary.BigEndian.Uint16(b[0x1a:0x1c]),
		FileChecksumHeader:               binary.BigEndian.Uint16(b[0x1c:0x1e]),
		InterpreterNumber:                b[0x1e],
		InterpreterVersion:               b[0x1f],
		ScreenHeightLines:                b[0x20],
		ScreenWidthChars:                 b[0x21],
		ScreenWidthUnits:                 binary.BigEndian.Uint16(b[0x22:0x24]),
		ScreenHeightUnits:                binary.BigEndian.Uint16(b[0x24:0x26]),
		FontHeight:                       b[0x26],
		FontWidth:                        b[0x27],
		RoutinesOffset:                   binary.BigEndian.Uint16(b[0x28:0x2a]),
		StringOffset:                     binary.BigEndian.Uint16(b[0x2a:0x2c]),
		DefaultBackgroundColorNumber:     b[0x2c],
		DefaultForegroundColorNumber:     b[0x2d],
		TerminatingCharTableBase:         binary.BigEndian.Uint16(b[0x2e:0x30]),
		OutputStream3Width:               binary.BigEndian.Uint16(b[0x30:0x32]),
		StandardRevisionNumber:           binary.BigEndian.Uint16(b[0x32:0x34]),
		AlternativeCharSetBaseAddress:    binary.BigEndian.Uint16(b[0x34:0x36]),
		ExtensionTableBaseAddress:        extensionTableBase,
		UnicodeExtensionTableBaseAddress: unicodeExtensionTableBase,
	}

	mem.SetStaticBase(uint32(c.StaticMemoryBase))

	return c, nil
}

// FileLength returns the declared file length in bytes, per spec's
// division-factor table (2/4/8 depending on version).
func (c *Core) FileLength() uint32 {
	var divisor uint32
	switch {
	case c.Version <= 3:
		divisor = 2
	case c.Version <= 5:
		divisor = 4
	default:
		divisor = 8
	}
	return uint32(c.FileLengthWords) * divisor
}

// PackedAddressMultiplier returns the version-specific factor applied to a
// packed address before any v6/v7 routine/string offset is added.
func (c *Core) PackedAddressMultiplier() uint32 {
	switch {
	case c.Version <= 3:
		return 2
	case c.Version <= 5 || c.Version == 7:
		return 4
	default: // 6, 8
		return 8
	}
}

// UnpackRoutine expands a packed routine address to a byte address.
func (c *Core) UnpackRoutine(paddr uint16) uint32 {
	addr := c.PackedAddressMultiplier() * uint32(paddr)
	if c.Version == 6 || c.Version == 7 {
		addr += 8 * uint32(c.RoutinesOffset)
	}
	return addr
}

// UnpackString expands a packed string address to a byte address.
func (c *Core) UnpackString(paddr uint16) uint32 {
	addr := c.PackedAddressMultiplier() * uint32(paddr)
	if c.Version == 6 || c.Version == 7 {
		addr += 8 * uint32(c.StringOffset)
	}
	return addr
}

// AttributeCount is 32 in v1-3, 48 in v4+ (spec section 3, "Object tree").
func (c *Core) AttributeCount() int {
	if c.Version <= 3 {
		return 32
	}
	return 48
}

// ObjectEntrySize is the byte size of one object record, excluding the
// property table it points to.
func (c *Core) ObjectEntrySize() uint32 {
	if c.Version <= 3 {
		return 9
	}
	return 14
}

// PropertyDefaultsSize is the byte size of the property-defaults table
// (spec section 4.5): 31 or 63 words.
func (c *Core) PropertyDefaultsSize() uint32 {
	if c.Version <= 3 {
		return 31 * 2
	}
	return 63 * 2
}

// SetDefaultColors mirrors the teacher's SetDefaultBackgroundColorNumber /
// SetDefaultForegroundColorNumber, writing back into the live header bytes.
func (c *Core) SetDefaultColors(background, foreground uint8, mem *zmem.Memory) {
	c.DefaultBackgroundColorNumber = background
	c.DefaultForegroundColorNumber = foreground
	_ = mem.WriteByte(0x2c, background)
	_ = mem.WriteByte(0x2d, foreground)
}
