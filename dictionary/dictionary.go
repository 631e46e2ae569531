// Package dictionary parses a story's dictionary table and resolves
// encoded words to dictionary-entry addresses (spec section 4.2
// tokenization, section 3 dictionary model). Grounded on the teacher's
// dictionary.ParseDictionary, adapted to zmem.Memory and to a binary
// search over the entry table - the Z-machine standard guarantees
// entries are stored in ascending order by encoded representation so
// a lexer can resolve tokens in O(log n) rather than the teacher's
// linear scan.
package dictionary

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/davetcode/goz/zmem"
	"github.com/davetcode/goz/zstring"
)

type Header struct {
	InputCodes []uint8
	EntryLen   uint8
	Count      int16
}

type Entry struct {
	Address     uint16
	EncodedWord []uint8
	DecodedWord string
	Data        []uint8
}

type Dictionary struct {
	Header  Header
	entries []Entry
}

// Parse reads the dictionary table at baseAddress.
func Parse(mem *zmem.Memory, baseAddress uint32, version uint8, alphabets *zstring.Alphabets, abbreviationBase uint16) (*Dictionary, error) {
	numInputCodes, err := mem.ReadByte(baseAddress)
	if err != nil {
		return nil, fmt.Errorf("reading dictionary input code count: %w", err)
	}

	inputCodes, err := mem.Slice(baseAddress+1, baseAddress+1+uint32(numInputCodes))
	if err != nil {
		return nil, fmt.Errorf("reading dictionary input codes: %w", err)
	}

	entryLen, err := mem.ReadByte(baseAddress + 1 + uint32(numInputCodes))
	if err != nil {
		return nil, fmt.Errorf("reading dictionary entry length: %w", err)
	}

	countWord, err := mem.ReadWord(baseAddress + 2 + uint32(numInputCodes))
	if err != nil {
		return nil, fmt.Errorf("reading dictionary entry count: %w", err)
	}
	count := int16(countWord)

	header := Header{
		InputCodes: inputCodes,
		EntryLen:   entryLen,
		Count:      count,
	}

	encodedWordLen := uint32(zstring.EncodedWidth(version)) / 3 * 2
	entryPtr := baseAddress + 4 + uint32(numInputCodes)
	entries := make([]Entry, count)

	for ix := 0; ix < int(count); ix++ {
		encodedWord, err := mem.Slice(entryPtr, entryPtr+encodedWordLen)
		if err != nil {
			return nil, fmt.Errorf("reading dictionary entry %d: %w", ix, err)
		}
		decodedWord, _, err := zstring.Decode(mem, entryPtr, version, alphabets, abbreviationBase)
		if err != nil {
			return nil, fmt.Errorf("decoding dictionary entry %d: %w", ix, err)
		}
		data, err := mem.Slice(entryPtr+encodedWordLen, entryPtr+uint32(header.EntryLen))
		if err != nil {
			return nil, fmt.Errorf("reading dictionary entry %d data: %w", ix, err)
		}

		entries[ix] = Entry{
			Address:     uint16(entryPtr),
			EncodedWord: encodedWord,
			DecodedWord: decodedWord,
			Data:        data,
		}

		entryPtr += uint32(header.EntryLen)
	}

	return &Dictionary{Header: header, entries: entries}, nil
}

// Find resolves an encoded word to its dictionary entry address, or 0 if
// the word is not in the dictionary, via binary search over the
// ascending-sorted entry table.
func (d *Dictionary) Find(zstr []uint8) uint16 {
	ix := sort.Search(len(d.entries), func(i int) bool {
		return bytes.Compare(d.entries[i].EncodedWord, zstr) >= 0
	})
	if ix < len(d.entries) && bytes.Equal(d.entries[ix].EncodedWord, zstr) {
		return d.entries[ix].Address
	}
	return 0
}

// Entries exposes the parsed entry table for diagnostics and tests.
func (d *Dictionary) Entries() []Entry {
	return d.entries
}
