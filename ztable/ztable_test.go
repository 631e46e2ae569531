package ztable

import (
	"testing"

	"github.com/davetcode/goz/zmem"
)

func newMemory(bs []uint8) *zmem.Memory {
	m := zmem.New(bs)
	m.SetStaticBase(uint32(len(bs)))
	return m
}

func TestScanTableByteForm(t *testing.T) {
	mem := newMemory([]uint8{0, 1, 2, 3, 4, 5, 6, 7})

	addr, err := ScanTable(mem, 5, 0, 8, 0x01)
	if err != nil {
		t.Fatalf("ScanTable: %v", err)
	}
	if addr != 5 {
		t.Fatalf("expected address 5, got %d", addr)
	}
}

func TestCopyTableOverlapSafe(t *testing.T) {
	mem := newMemory([]uint8{1, 2, 3, 4, 5, 0, 0, 0, 0, 0})

	if err := CopyTable(mem, 0, 3, 5); err != nil {
		t.Fatalf("CopyTable: %v", err)
	}

	want := []uint8{1, 2, 3, 1, 2, 3, 4, 5, 0, 0}
	got := mem.RawBytes()
	for i, b := range want {
		if got[i] != b {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], b)
		}
	}
}

func TestCopyTableZero(t *testing.T) {
	mem := newMemory([]uint8{9, 9, 9, 9})

	if err := CopyTable(mem, 0, 0, 4); err != nil {
		t.Fatalf("CopyTable: %v", err)
	}
	for _, b := range mem.RawBytes() {
		if b != 0 {
			t.Fatalf("expected zeroed table, got %v", mem.RawBytes())
		}
	}
}

func TestPrintTableWraps(t *testing.T) {
	mem := newMemory([]uint8{4, 'a', 'b', 'c', 'd'})

	got, err := PrintTable(mem, 0, 2, 2, 0)
	if err != nil {
		t.Fatalf("PrintTable: %v", err)
	}
	if got != "ab\ncd" {
		t.Fatalf("got %q", got)
	}
}
