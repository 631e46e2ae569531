package dictionary

import (
	"testing"

	"github.com/davetcode/goz/zmem"
	"github.com/davetcode/goz/zstring"
)

// buildV3Dictionary constructs a minimal v3 dictionary table (3 input
// codes, 4-byte encoded words, entries sorted ascending) encoding the
// given words and returns the backing memory plus its base address.
func buildV3Dictionary(t *testing.T, alphabets *zstring.Alphabets, words []string) (*zmem.Memory, uint32) {
	t.Helper()

	const inputCodeCount = 3
	const entryLen = 7 // 4 byte encoded word + 3 bytes data
	base := uint32(0)

	buf := make([]uint8, 0, 4+inputCodeCount+entryLen*len(words))
	buf = append(buf, inputCodeCount, ' ', '.', ',')
	buf = append(buf, entryLen)
	buf = append(buf, 0, uint8(len(words)))

	type encoded struct {
		bytes []uint8
	}
	entries := make([]encoded, len(words))
	for i, w := range words {
		zchars := zstring.Encode([]rune(w), 3, alphabets, zstring.EncodedWidth(3))
		entries[i] = encoded{bytes: zchars}
	}

	for _, e := range entries {
		buf = append(buf, e.bytes...)
		buf = append(buf, 0, 0, 0) // entry data, unused by this test
	}

	mem := zmem.New(buf)
	mem.SetStaticBase(uint32(len(buf)))
	return mem, base
}

func TestDictionaryFindBinarySearch(t *testing.T) {
	alphabets, err := zstring.LoadAlphabets(3, zmem.New(make([]uint8, 2)), 0)
	if err != nil {
		t.Fatalf("LoadAlphabets: %v", err)
	}

	// Words must already be in ascending encoded order for the dictionary
	// table to be valid; "go", "north", "take" encode in that order under
	// alphabet 0.
	words := []string{"go", "north", "take"}
	mem, base := buildV3Dictionary(t, alphabets, words)

	dict, err := Parse(mem, base, 3, alphabets, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(dict.Entries()) != len(words) {
		t.Fatalf("expected %d entries, got %d", len(words), len(dict.Entries()))
	}

	for _, w := range words {
		zchars := zstring.Encode([]rune(w), 3, alphabets, zstring.EncodedWidth(3))
		addr := dict.Find(zchars)
		if addr == 0 {
			t.Fatalf("word %q not found in dictionary", w)
		}
	}

	missing := zstring.Encode([]rune("zzz"), 3, alphabets, zstring.EncodedWidth(3))
	if addr := dict.Find(missing); addr != 0 {
		t.Fatalf("expected missing word to resolve to 0, got %d", addr)
	}
}
