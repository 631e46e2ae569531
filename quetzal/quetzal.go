// Package quetzal implements the Quetzal save-game format (spec section
// 4.6): an IFF chunk container holding an IFhd identity chunk, a Stks
// call-frame dump, and a CMem RLE-compressed diff of dynamic memory
// against the original story image. Grounded on
// original_source/encrusted/src/rust/quetzal.rs, expressed in the
// teacher's idiom (encoding/binary.BigEndian, typed sentinel errors, no
// panics on a malformed save).
package quetzal

import (
	"encoding/binary"

	"github.com/davetcode/goz/zerr"
	"github.com/davetcode/goz/zframe"
)

// maxMemorySize bounds decompressed dynamic memory so a corrupt or
// malicious CMem chunk can't exhaust memory (encrusted's quetzal.rs keeps
// the analogous 128KB limit).
const maxMemorySize = 128 * 1024

// Save is a fully decoded Quetzal save image.
type Save struct {
	Release  uint16
	Serial   [6]uint8
	Checksum uint16
	PC       uint32
	Memory   []uint8
	Frames   []zframe.Frame
}

// Encode serializes a save as a FORM/IFZS Quetzal blob. current is the
// live dynamic memory region, original is the same region as loaded from
// the story file (the CMem diff base).
func Encode(pc uint32, current []uint8, original []uint8, frames []zframe.Frame, release uint16, serial [6]uint8, checksum uint16) []uint8 {
	var formBody []uint8
	formBody = append(formBody, "IFZS"...)

	ifhd := makeIfhdBody(release, serial, checksum, pc)
	stks := makeStksBody(frames)
	cmem := makeCMemBody(current, original)

	formBody = writeChunk(formBody, "IFhd", ifhd)
	formBody = writeChunk(formBody, "Stks", stks)
	formBody = writeChunk(formBody, "CMem", cmem)

	var out []uint8
	out = writeChunk(out, "FORM", formBody)
	return out
}

// Decode parses a Quetzal blob, reconstructing dynamic memory against
// original (the story file's own dynamic region at load time).
func Decode(data []uint8, original []uint8) (*Save, error) {
	header, _, formBody, err := readChunk(data)
	if err != nil {
		return nil, err
	}
	if header != "FORM" {
		return nil, zerr.ErrQuetzalMissingForm
	}
	if len(formBody) < 4 {
		return nil, zerr.ErrQuetzalBadChunkHeader
	}

	save := &Save{}
	chunks := formBody[4:] // skip the "IFZS" subtype tag
	offset := 0
	haveIfhd, haveStks, haveMemory := false, false, false

	for offset < len(chunks) {
		if offset+8 > len(chunks) {
			break
		}

		header, length, body, err := readChunk(chunks[offset:])
		if err != nil {
			return nil, err
		}

		switch header {
		case "IFhd":
			if err := save.readIfhd(body); err != nil {
				return nil, err
			}
			haveIfhd = true
		case "Stks":
			if err := save.readStks(body); err != nil {
				return nil, err
			}
			haveStks = true
		case "CMem":
			if err := save.readCMem(body, original); err != nil {
				return nil, err
			}
			haveMemory = true
		case "UMem":
			if len(body) > maxMemorySize {
				return nil, zerr.ErrQuetzalMemoryTooLarge
			}
			save.Memory = append([]uint8(nil), body...)
			haveMemory = true
		}

		if haveIfhd && haveStks && haveMemory {
			break
		}

		offset += length
	}

	if !haveIfhd || !haveStks || !haveMemory {
		return nil, zerr.ErrQuetzalIncomplete
	}

	return save, nil
}

func readChunk(data []uint8) (header string, chunkLen int, body []uint8, err error) {
	if len(data) < 8 {
		return "", 0, nil, zerr.ErrQuetzalBadChunkHeader
	}

	header = string(data[0:4])
	bodyLen := int(binary.BigEndian.Uint32(data[4:8]))
	if 8+bodyLen > len(data) {
		return "", 0, nil, zerr.ErrQuetzalBadChunkHeader
	}

	body = data[8 : 8+bodyLen]
	chunkLen = 8 + bodyLen
	if chunkLen%2 != 0 {
		chunkLen++ // odd-length chunks are padded with one zero byte
	}

	return header, chunkLen, body, nil
}

func writeChunk(out []uint8, header string, body []uint8) []uint8 {
	out = append(out, header...)
	var lenBytes [4]uint8
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(body)))
	out = append(out, lenBytes[:]...)
	out = append(out, body...)
	if len(body)%2 != 0 {
		out = append(out, 0)
	}
	return out
}

func (s *Save) readIfhd(body []uint8) error {
	if len(body) < 13 {
		return zerr.ErrQuetzalBadIfhdLength
	}
	s.Release = binary.BigEndian.Uint16(body[0:2])
	copy(s.Serial[:], body[2:8])
	s.Checksum = binary.BigEndian.Uint16(body[8:10])
	s.PC = uint32(body[10])<<16 | uint32(body[11])<<8 | uint32(body[12])
	return nil
}

func makeIfhdBody(release uint16, serial [6]uint8, checksum uint16, pc uint32) []uint8 {
	body := make([]uint8, 13)
	binary.BigEndian.PutUint16(body[0:2], release)
	copy(body[2:8], serial[:])
	binary.BigEndian.PutUint16(body[8:10], checksum)
	body[10] = uint8(pc >> 16)
	body[11] = uint8(pc >> 8)
	body[12] = uint8(pc)
	return body
}

func (s *Save) readCMem(compressed []uint8, original []uint8) error {
	uncompressed := make([]uint8, 0, len(original))
	index := 0

	for index < len(compressed) {
		b := compressed[index]
		if b != 0 {
			uncompressed = append(uncompressed, b)
			index++
		} else {
			if index+1 >= len(compressed) {
				return zerr.ErrQuetzalBadStksFrame
			}
			runLength := int(compressed[index+1])
			for i := 0; i <= runLength; i++ {
				uncompressed = append(uncompressed, 0)
			}
			index += 2
		}

		if len(uncompressed) > maxMemorySize {
			return zerr.ErrQuetzalMemoryTooLarge
		}
	}

	if d := len(original) - len(uncompressed); d > 0 {
		uncompressed = append(uncompressed, make([]uint8, d)...)
	}

	memory := make([]uint8, len(original))
	for i := range memory {
		var u uint8
		if i < len(uncompressed) {
			u = uncompressed[i]
		}
		memory[i] = u ^ original[i]
	}
	s.Memory = memory

	return nil
}

func makeCMemBody(current, original []uint8) []uint8 {
	var compressed []uint8
	zeroCount := 0

	flush := func() {
		if zeroCount > 0 {
			compressed = append(compressed, 0, uint8(zeroCount-1))
			zeroCount = 0
		}
	}

	n := len(current)
	if len(original) < n {
		n = len(original)
	}

	for i := 0; i < n; i++ {
		b := current[i] ^ original[i]
		if b != 0 {
			flush()
			compressed = append(compressed, b)
		} else if zeroCount == 255 {
			// This zero byte is the 256th in the run (255 already counted);
			// flush it as a full 256-zero run rather than starting a new one.
			compressed = append(compressed, 0, uint8(zeroCount))
			zeroCount = 0
		} else {
			zeroCount++
		}
	}
	flush()

	return compressed
}

func (s *Save) readStks(bytes []uint8) error {
	var frames []zframe.Frame
	offset := 0

	for offset < len(bytes) {
		if offset+8 > len(bytes) {
			break
		}

		flags := bytes[offset+3]
		numLocals := int(flags & 0b0000_1111)
		discard := flags&0b0001_0000 != 0
		storeVar := bytes[offset+4]
		argCount := countArgBits(bytes[offset+5])

		stackLength := int(binary.BigEndian.Uint16(bytes[offset+6 : offset+8]))
		frameSize := 8 + numLocals*2 + stackLength*2

		if offset+frameSize > len(bytes) {
			return zerr.ErrQuetzalBadStksFrame
		}

		returnPC := uint32(bytes[offset])<<16 | uint32(bytes[offset+1])<<8 | uint32(bytes[offset+2])

		locals := make([]uint16, numLocals)
		for i := 0; i < numLocals; i++ {
			locals[i] = binary.BigEndian.Uint16(bytes[offset+8+i*2 : offset+8+i*2+2])
		}

		stackStart := offset + 8 + numLocals*2
		evalStack := make([]uint16, stackLength)
		for i := 0; i < stackLength; i++ {
			evalStack[i] = binary.BigEndian.Uint16(bytes[stackStart+i*2 : stackStart+i*2+2])
		}

		kind := zframe.Function
		if discard {
			kind = zframe.Procedure
		}

		frames = append(frames, zframe.Frame{
			ReturnPC:      returnPC,
			Locals:        locals,
			EvalStack:     evalStack,
			Kind:          kind,
			StoreVariable: storeVar,
			HasStore:      !discard,
			ArgCount:      argCount,
		})

		offset += frameSize
	}

	s.Frames = frames
	return nil
}

// argCountMask encodes n supplied arguments as the low-n-bits-set bitmask
// the Quetzal standard uses (spec section 4.6, "Stks").
func argCountMask(n int) uint8 {
	if n <= 0 {
		return 0
	}
	if n > 7 {
		n = 7
	}
	return uint8(1<<uint(n)) - 1
}

func countArgBits(mask uint8) int {
	n := 0
	for mask != 0 {
		n += int(mask & 1)
		mask >>= 1
	}
	return n
}

func makeStksBody(frames []zframe.Frame) []uint8 {
	var out []uint8

	for _, f := range frames {
		flags := uint8(len(f.Locals))
		storeVar := f.StoreVariable
		if !f.HasStore {
			flags |= 0b0001_0000
			storeVar = 0
		}

		header := make([]uint8, 8)
		header[0] = uint8(f.ReturnPC >> 16)
		header[1] = uint8(f.ReturnPC >> 8)
		header[2] = uint8(f.ReturnPC)
		header[3] = flags
		header[4] = storeVar
		header[5] = argCountMask(f.ArgCount)
		binary.BigEndian.PutUint16(header[6:8], uint16(len(f.EvalStack)))

		out = append(out, header...)
		for _, l := range f.Locals {
			var b [2]uint8
			binary.BigEndian.PutUint16(b[:], l)
			out = append(out, b[:]...)
		}
		for _, v := range f.EvalStack {
			var b [2]uint8
			binary.BigEndian.PutUint16(b[:], v)
			out = append(out, b[:]...)
		}
	}

	return out
}
