// Package zmem is the raw byte buffer underlying a loaded story image: a
// bounds-checked, region-aware accessor over dynamic/static/high memory
// (spec section 4.1). It knows nothing about headers, objects or opcodes -
// just addresses and the one invariant that matters at this layer: writes
// at or above staticBase are rejected.
package zmem

import (
	"encoding/binary"

	"github.com/davetcode/goz/zerr"
)

// Memory is the single byte-addressable buffer backing a running story.
// Bytes [0, staticBase) are dynamic (writable, saved); [staticBase, len)
// are static+high (read-only after load).
type Memory struct {
	bytes      []uint8
	staticBase uint32
}

// New wraps storyBytes as the machine's memory. staticBase is filled in
// once the header has been parsed (see zcore.Load); until then staticBase
// is 0, so every checked write is rejected.
func New(storyBytes []uint8) *Memory {
	return &Memory{bytes: storyBytes}
}

// SetStaticBase installs the write-region boundary once it is known (the
// header lives inside the same buffer, so this can't happen until after
// the first header read).
func (m *Memory) SetStaticBase(addr uint32) {
	m.staticBase = addr
}

func (m *Memory) StaticBase() uint32 { return m.staticBase }

func (m *Memory) Len() uint32 { return uint32(len(m.bytes)) }

func (m *Memory) checkRead(addr uint32, width uint32) error {
	if addr+width > m.Len() {
		return zerr.ErrAddressOutOfBounds
	}
	return nil
}

func (m *Memory) checkWrite(addr uint32, width uint32) error {
	if err := m.checkRead(addr, width); err != nil {
		return err
	}
	if addr >= m.staticBase {
		return zerr.ErrWriteToStaticMemory
	}
	return nil
}

func (m *Memory) ReadByte(addr uint32) (uint8, error) {
	if err := m.checkRead(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

func (m *Memory) ReadWord(addr uint32) (uint16, error) {
	if err := m.checkRead(addr, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(m.bytes[addr : addr+2]), nil
}

func (m *Memory) WriteByte(addr uint32, v uint8) error {
	if err := m.checkWrite(addr, 1); err != nil {
		return err
	}
	m.bytes[addr] = v
	return nil
}

func (m *Memory) WriteWord(addr uint32, v uint16) error {
	if err := m.checkWrite(addr, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(m.bytes[addr:addr+2], v)
	return nil
}

// Slice returns a read-only view of [start, end). Used by header parsing,
// object name decoding, and the Quetzal codec's dynamic memory diff.
func (m *Memory) Slice(start, end uint32) ([]uint8, error) {
	if end < start || end > m.Len() {
		return nil, zerr.ErrAddressOutOfBounds
	}
	return m.bytes[start:end], nil
}

// RawBytes exposes the full backing buffer for the header loader, which
// must read fixed-offset fields before staticBase is known. Not
// bounds-checked; callers must know what they're doing (only zcore.Load
// should use this).
func (m *Memory) RawBytes() []uint8 { return m.bytes }

// Dynamic returns the current dynamic-memory region, used by the Quetzal
// encoder to diff against the original image.
func (m *Memory) Dynamic() []uint8 {
	return m.bytes[:m.staticBase]
}

// SetDynamic overwrites the dynamic region wholesale (Quetzal restore,
// restart). len(data) must equal the current static base.
func (m *Memory) SetDynamic(data []uint8) error {
	if uint32(len(data)) != m.staticBase {
		return zerr.ErrQuetzalBadChunkHeader
	}
	copy(m.bytes[:m.staticBase], data)
	return nil
}
