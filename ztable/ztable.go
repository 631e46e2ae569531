// Package ztable implements the VAR opcodes that treat a block of memory
// as a generic table: scan_table, copy_table, print_table. Kept from the
// teacher, adapted to read and write through zmem.Memory instead of a bare
// []uint8 so a malformed table address surfaces a bounds error instead of
// a runtime index panic.
package ztable

import (
	"fmt"
	"strings"

	"github.com/davetcode/goz/zmem"
)

func PrintTable(mem *zmem.Memory, baddr uint32, width uint16, height uint16, skip uint16) (string, error) {
	numBytes, err := mem.ReadByte(baddr)
	if err != nil {
		return "", fmt.Errorf("print_table reading length at %#x: %w", baddr, err)
	}

	s := strings.Builder{}
	for i := uint16(0); i < uint16(numBytes); i++ {
		row := i / width
		col := i % width

		if col == 0 && row != 0 {
			s.WriteByte('\n')
			if row == height {
				break
			}
		}

		b, err := mem.ReadByte(baddr + 1 + uint32(i) + uint32(skip*row))
		if err != nil {
			return "", fmt.Errorf("print_table reading byte: %w", err)
		}
		s.WriteByte(b)
	}

	return s.String(), nil
}

// ScanTable returns the address of the first matching entry, or 0 if
// none matched.
func ScanTable(mem *zmem.Memory, test uint16, baddr uint32, length uint16, form uint16) (uint32, error) {
	ptr := baddr
	fieldSize := form & 0b0111_1111
	checkWord := form&0b1000_0000 == 0b1000_0000
	if fieldSize == 0 {
		return 0, nil
	}

	for i := uint16(0); i < length; i++ {
		if !checkWord {
			b, err := mem.ReadByte(ptr)
			if err != nil {
				return 0, fmt.Errorf("scan_table reading byte at %#x: %w", ptr, err)
			}
			if uint16(b) == test {
				return ptr, nil
			}
		} else {
			w, err := mem.ReadWord(ptr)
			if err != nil {
				return 0, fmt.Errorf("scan_table reading word at %#x: %w", ptr, err)
			}
			if w == test {
				return ptr, nil
			}
		}

		ptr += uint32(fieldSize)
	}

	return 0, nil
}

func CopyTable(mem *zmem.Memory, first uint16, second uint16, size int16) error {
	sizeAbs := uint16(size)
	if size < 0 {
		sizeAbs = uint16(-size)
	}

	switch {
	case second == 0:
		for i := uint16(0); i < sizeAbs; i++ {
			if err := mem.WriteByte(uint32(first)+uint32(i), 0); err != nil {
				return fmt.Errorf("copy_table zeroing: %w", err)
			}
		}

	case size >= 0:
		tmp := make([]uint8, sizeAbs)
		for i := uint16(0); i < sizeAbs; i++ {
			b, err := mem.ReadByte(uint32(first) + uint32(i))
			if err != nil {
				return fmt.Errorf("copy_table reading source: %w", err)
			}
			tmp[i] = b
		}
		for i := uint16(0); i < sizeAbs; i++ {
			if err := mem.WriteByte(uint32(second)+uint32(i), tmp[i]); err != nil {
				return fmt.Errorf("copy_table writing destination: %w", err)
			}
		}

	default: // size < 0: allow corruption of the source as the copy proceeds
		for i := uint16(0); i < sizeAbs; i++ {
			b, err := mem.ReadByte(uint32(first) + uint32(i))
			if err != nil {
				return fmt.Errorf("copy_table reading source: %w", err)
			}
			if err := mem.WriteByte(uint32(second)+uint32(i), b); err != nil {
				return fmt.Errorf("copy_table writing destination: %w", err)
			}
		}
	}

	return nil
}
