package quetzal

import (
	"bytes"
	"testing"

	"github.com/davetcode/goz/zframe"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := make([]uint8, 256)
	for i := range original {
		original[i] = uint8(i)
	}

	current := append([]uint8(nil), original...)
	current[10] = 0xff
	current[200] = 0x01

	frames := []zframe.Frame{
		{ReturnPC: 0x1234, Locals: []uint16{1, 2, 3}, EvalStack: []uint16{9, 8}, HasStore: true, StoreVariable: 5, ArgCount: 2},
		{ReturnPC: 0x5678, Locals: nil, EvalStack: nil, HasStore: false},
	}

	serial := [6]uint8{'0', '2', '0', '7', '8', '5'}
	blob := Encode(0x0a0b0c, current, original, frames, 3, serial, 0xbeef)

	save, err := Decode(blob, original)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if save.PC != 0x0a0b0c {
		t.Errorf("expected PC 0x0a0b0c, got %#x", save.PC)
	}
	if save.Checksum != 0xbeef {
		t.Errorf("expected checksum 0xbeef, got %#x", save.Checksum)
	}
	if save.Serial != serial {
		t.Errorf("expected serial %v, got %v", serial, save.Serial)
	}
	if !bytes.Equal(save.Memory, current) {
		t.Errorf("decoded memory doesn't match original current memory")
	}
	if len(save.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(save.Frames))
	}
	if save.Frames[0].ReturnPC != 0x1234 || save.Frames[0].StoreVariable != 5 {
		t.Errorf("frame 0 decoded incorrectly: %+v", save.Frames[0])
	}
	if save.Frames[0].ArgCount != 2 {
		t.Errorf("expected arg count 2, got %d", save.Frames[0].ArgCount)
	}
	if save.Frames[1].HasStore {
		t.Errorf("frame 1 should be a discard (procedure) frame")
	}
}

func TestDecodeRejectsMissingForm(t *testing.T) {
	_, err := Decode([]uint8{'J', 'U', 'N', 'K', 0, 0, 0, 0}, nil)
	if err == nil {
		t.Fatal("expected an error for a non-FORM blob")
	}
}

func TestLongZeroRunRoundTrips(t *testing.T) {
	original := make([]uint8, 1024)
	current := make([]uint8, 1024)
	current[1023] = 0x42 // force a long leading zero run in the diff

	frames := []zframe.Frame{{ReturnPC: 0, HasStore: false}}
	blob := Encode(0, current, original, frames, 1, [6]uint8{}, 0)

	save, err := Decode(blob, original)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(save.Memory, current) {
		t.Fatal("long zero run did not round trip correctly")
	}
}
