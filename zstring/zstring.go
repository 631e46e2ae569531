// Package zstring implements the Z-character text codec: packed-string
// decode/encode, the three alphabet shifts, and abbreviation expansion
// (spec section 4.2). Grounded on the teacher's zstring.ReadZString,
// restructured around an explicit *Alphabets value (so v5+ custom
// alphabet tables and the per-version default tables share one code
// path) and a depth-limited abbreviation expansion rather than
// unguarded recursion (spec section 9, "Recursion in packed-string
// decode": abbreviations within abbreviations must fail loudly, not
// loop or stack-overflow).
package zstring

import (
	"encoding/binary"
	"fmt"

	"github.com/davetcode/goz/zerr"
	"github.com/davetcode/goz/zmem"
)

const maxAbbreviationDepth = 1

var a0Default = [26]byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z'}
var a1Default = [26]byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z'}

// a2 default tables are indexed the same way as a0/a1 (zchr-6), but index 0
// (zchr 6) is never read from this table - alphabet 2's character 6 is
// always the ten-bit ZSCII escape, whatever a custom table says.
var a2V1Default = [26]byte{0, '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '<', '-', ':', '(', ')'}
var a2V2Default = [26]byte{0, '\n', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '-', ':', '(', ')'}

// Alphabets holds the three 26-entry alphabet rows (A0 lowercase, A1
// uppercase, A2 punctuation), all indexed by zchr-6. Either the
// per-version default tables, or a story's custom alphabet table (header's
// AlternativeCharSetBaseAddress, v5+).
type Alphabets struct {
	A0 [26]byte
	A1 [26]byte
	A2 [26]byte
}

// LoadAlphabets builds the alphabet tables for version, reading a custom
// 78-byte table from customTableAddr when non-zero (v5+ only).
func LoadAlphabets(version uint8, mem *zmem.Memory, customTableAddr uint16) (*Alphabets, error) {
	a := &Alphabets{A0: a0Default, A1: a1Default}
	if version == 1 {
		a.A2 = a2V1Default
	} else {
		a.A2 = a2V2Default
	}

	if version >= 5 && customTableAddr != 0 {
		table, err := mem.Slice(uint32(customTableAddr), uint32(customTableAddr)+78)
		if err != nil {
			return nil, fmt.Errorf("reading custom alphabet table: %w", err)
		}
		copy(a.A0[:], table[0:26])
		copy(a.A1[:], table[26:52])
		copy(a.A2[1:], table[53:78]) // byte 52 (A2 zchr6 slot) is always the ZSCII escape, never loaded
	}

	return a, nil
}

type alphabet int

const (
	alphaA0 alphabet = 0
	alphaA1 alphabet = 1
	alphaA2 alphabet = 2
)

// Decode reads a packed Z-string starting at addr and returns the decoded
// text plus the number of bytes consumed (always a multiple of 2). version
// and abbreviationBase select abbreviation-table semantics (v2+).
func Decode(mem *zmem.Memory, addr uint32, version uint8, alphabets *Alphabets, abbreviationBase uint16) (string, uint32, error) {
	return decode(mem, addr, version, alphabets, abbreviationBase, 0)
}

func decode(mem *zmem.Memory, addr uint32, version uint8, alphabets *Alphabets, abbreviationBase uint16, depth int) (string, uint32, error) {
	var zchrStream []uint8
	bytesRead := uint32(0)
	ptr := addr

	for {
		halfWord, err := mem.ReadWord(ptr)
		if err != nil {
			return "", 0, fmt.Errorf("reading packed string word at %#x: %w", ptr, err)
		}
		isLast := halfWord>>15 == 1

		zchrStream = append(zchrStream,
			uint8((halfWord>>10)&0b1_1111),
			uint8((halfWord>>5)&0b1_1111),
			uint8(halfWord&0b1_1111),
		)

		ptr += 2
		bytesRead += 2

		if isLast {
			break
		}
	}

	var out []byte
	baseAlphabet := alphaA0
	nextAlphabet := alphaA0

	for i := 0; i < len(zchrStream); i++ {
		zchr := zchrStream[i]
		currentAlphabet := nextAlphabet
		nextAlphabet = baseAlphabet

		switch {
		case zchr == 0:
			out = append(out, ' ')

		case version == 1 && zchr == 1:
			out = append(out, '\n')

		case version >= 2 && zchr >= 1 && zchr <= 3:
			if depth >= maxAbbreviationDepth {
				return "", 0, fmt.Errorf("abbreviation %d used inside another abbreviation: %w", zchr, zerr.ErrNestedAbbreviation)
			}
			if i+1 >= len(zchrStream) {
				return "", 0, fmt.Errorf("abbreviation escape truncated: %w", zerr.ErrMalformedZString)
			}
			i++
			text, err := expandAbbreviation(mem, version, alphabets, abbreviationBase, zchr, zchrStream[i], depth)
			if err != nil {
				return "", 0, err
			}
			out = append(out, text...)

		case version == 1 && zchr == 2:
			nextAlphabet = (nextAlphabet + 1) % 3
		case version == 1 && zchr == 3:
			nextAlphabet = (nextAlphabet + 2) % 3

		case zchr == 4:
			if version >= 3 {
				nextAlphabet = (nextAlphabet + 1) % 3
			} else {
				baseAlphabet = (baseAlphabet + 1) % 3
				nextAlphabet = baseAlphabet
			}
		case zchr == 5:
			if version >= 3 {
				nextAlphabet = (nextAlphabet + 2) % 3
			} else {
				baseAlphabet = (baseAlphabet + 2) % 3
				nextAlphabet = baseAlphabet
			}

		case currentAlphabet == alphaA2 && zchr == 6:
			if i+2 >= len(zchrStream) {
				// An escape cut short by the end of the string (as in a
				// dictionary word truncated to its encoded width) is dropped.
				i = len(zchrStream)
				break
			}
			code := uint16(zchrStream[i+1])<<5 | uint16(zchrStream[i+2])
			i += 2
			out = append(out, byte(code))

		default:
			out = append(out, alphabetChar(alphabets, currentAlphabet, zchr))
		}
	}

	return string(out), bytesRead, nil
}

func alphabetChar(alphabets *Alphabets, a alphabet, zchr uint8) byte {
	ix := zchr - 6
	switch a {
	case alphaA0:
		return alphabets.A0[ix]
	case alphaA1:
		return alphabets.A1[ix]
	default:
		return alphabets.A2[ix]
	}
}

func expandAbbreviation(mem *zmem.Memory, version uint8, alphabets *Alphabets, abbreviationBase uint16, z uint8, x uint8, depth int) (string, error) {
	abbrIx := 32*(uint16(z)-1) + uint16(x)
	entryAddr := uint32(abbreviationBase) + 2*uint32(abbrIx)
	wordAddr, err := mem.ReadWord(entryAddr)
	if err != nil {
		return "", fmt.Errorf("reading abbreviation table entry %d: %w", abbrIx, err)
	}
	text, _, err := decode(mem, 2*uint32(wordAddr), version, alphabets, abbreviationBase, depth+1)
	if err != nil {
		return "", fmt.Errorf("expanding abbreviation %d: %w", abbrIx, err)
	}
	return text, nil
}

// Encode converts runes into a Z-character stream restricted to alphabet 0
// plus shift escapes, padded with Z-char 5 to width Z-characters (spec
// section 4.2). width is 6 for v1-3 dictionary words, 9 for v4+.
func Encode(runes []rune, version uint8, alphabets *Alphabets, width int) []uint8 {
	zchars := make([]uint8, 0, width)

	// v1 uses Z-chars 2 and 3 as single shifts (4 and 5 lock the shift).
	shiftA1, shiftA2 := uint8(4), uint8(5)
	if version == 1 {
		shiftA1, shiftA2 = 2, 3
	}

	for _, r := range runes {
		if len(zchars) >= width {
			break
		}
		b := byte(r)
		if ix, ok := find(alphabets.A0, b, true); ok {
			zchars = append(zchars, uint8(ix)+6)
			continue
		}
		if ix, ok := find(alphabets.A1, b, true); ok {
			zchars = append(zchars, shiftA1, uint8(ix)+6)
			continue
		}
		if ix, ok := find(alphabets.A2, b, false); ok {
			zchars = append(zchars, shiftA2, uint8(ix)+6)
			continue
		}
		// Not representable in any alphabet row: ten-bit ZSCII escape via A2 zchar 6.
		zchars = append(zchars, shiftA2, 6, uint8(b>>5), uint8(b&0b1_1111))
	}

	for len(zchars) < width {
		zchars = append(zchars, 5)
	}
	zchars = zchars[:width]

	numWords := width / 3
	out := make([]uint8, numWords*2)
	for w := 0; w < numWords; w++ {
		half := uint16(zchars[w*3])<<10 | uint16(zchars[w*3+1])<<5 | uint16(zchars[w*3+2])
		if w == numWords-1 {
			half |= 0x8000
		}
		binary.BigEndian.PutUint16(out[w*2:w*2+2], half)
	}
	return out
}

// find searches table for b, returning its index. includeZero controls
// whether index 0 is a candidate match: true for A0/A1 (where index 0 is a
// real letter), false for A2 (where index 0 is the reserved escape slot).
func find(table [26]byte, b byte, includeZero bool) (int, bool) {
	start := 1
	if includeZero {
		start = 0
	}
	for i := start; i < len(table); i++ {
		if table[i] == b {
			return i, true
		}
	}
	return 0, false
}

// EncodedWidth returns the dictionary-entry encoded width in Z-characters
// for version: 6 (2 words) in v1-3, 9 (3 words) in v4+.
func EncodedWidth(version uint8) int {
	if version <= 3 {
		return 6
	}
	return 9
}
