package zstring

import (
	"bytes"
	"os"
	"testing"

	"github.com/davetcode/goz/zmem"
)

func defaultAlphabetsV1() *Alphabets {
	return &Alphabets{A0: a0Default, A1: a1Default, A2: a2V1Default}
}

func newMemory(t *testing.T, bs []uint8) *zmem.Memory {
	t.Helper()
	// Pad to a 16-bit boundary so ReadWord never runs past the buffer.
	if len(bs)%2 != 0 {
		bs = append(bs, 0)
	}
	m := zmem.New(bs)
	m.SetStaticBase(uint32(len(bs)))
	return m
}

var zstringDecodingTests = []struct {
	in        []uint8
	out       string
	bytesRead uint32
	version   uint8
}{
	{[]uint8{11, 45, 42, 234, 1, 216, 0, 192, 98, 70, 70, 32, 72, 206, 68, 244, 116, 13, 42, 234, 142, 37, 11, 45, 42, 234, 1, 216}, "There is a small mailbox here.", 22, 1},
	{[]uint8{12, 193, 248, 165}, ">", 4, 1},
	{[]uint8{26, 94, 23, 24, 148, 207}, "amy\"s", 6, 5},
}

var zstringEncodingTests = []struct {
	in      string
	out     []uint8
	version uint8
}{
	{">", []uint8{12, 193, 248, 165}, 1},
}

func TestZStringDecoding(t *testing.T) {
	for _, tt := range zstringDecodingTests {
		t.Run(tt.out, func(t *testing.T) {
			mem := newMemory(t, tt.in)
			zstr, bytesRead, err := Decode(mem, 0, tt.version, defaultAlphabetsV1(), 0)
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			if tt.out != zstr {
				t.Fatalf(`zstr read incorrectly expected=%s, actual=%s`, tt.out, zstr)
			}
			if tt.bytesRead != bytesRead {
				t.Fatalf(`zstr read incorrect number of bytes expected=%d, actual=%d`, tt.bytesRead, bytesRead)
			}
		})
	}
}

func TestZStringEncoding(t *testing.T) {
	for _, tt := range zstringEncodingTests {
		t.Run(tt.in, func(t *testing.T) {
			zstr := Encode([]rune(tt.in), tt.version, defaultAlphabetsV1(), EncodedWidth(tt.version))
			if !bytes.Equal(tt.out, zstr) {
				t.Fatalf(`zstr encoded incorrectly expected=%v, actual=%v`, tt.out, zstr)
			}
		})
	}
}

func TestV3Abbreviations(t *testing.T) {
	storyFileBytes, err := os.ReadFile("../advent.z3")
	if err != nil {
		t.Skip("test story file missing")
	}

	mem := zmem.New(storyFileBytes)
	mem.SetStaticBase(uint32(len(storyFileBytes)))

	alphabets, err := LoadAlphabets(3, mem, 0)
	if err != nil {
		t.Fatalf("LoadAlphabets: %v", err)
	}

	abbrBase, err := mem.ReadWord(0x18)
	if err != nil {
		t.Fatalf("reading abbreviation table base: %v", err)
	}

	str, _, err := Decode(mem, 0x44ef, 3, alphabets, abbrBase)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if str != "Welcome to Adventure! Do you need instructions?" {
		t.Fatalf("Invalid welcome string: %s", str)
	}
}

func TestNestedAbbreviationFailsLoudly(t *testing.T) {
	// Abbreviation table has one entry pointing at address 0, and the
	// string at address 0 itself tries to use abbreviation 1 again -
	// this must surface an error, not recurse or silently truncate.
	bs := make([]uint8, 16)
	// Abbreviation table at 8: entry 0 -> word address 0 (points back at itself).
	bs[8] = 0x00
	bs[9] = 0x00
	// String: zchar 1 (abbreviation escape) followed by index 0, then stop.
	// Z-chars 1,0,0 packed into one big-endian word with the top bit set.
	half := uint16(1)<<10 | uint16(0)<<5 | uint16(0)
	half |= 0x8000
	bs[0] = uint8(half >> 8)
	bs[1] = uint8(half)

	mem := zmem.New(bs)
	mem.SetStaticBase(uint32(len(bs)))

	alphabets, err := LoadAlphabets(3, mem, 0)
	if err != nil {
		t.Fatalf("LoadAlphabets: %v", err)
	}

	_, _, err = Decode(mem, 0, 3, alphabets, 8)
	if err == nil {
		t.Fatalf("expected an error decoding a self-referential abbreviation, got none")
	}
}
