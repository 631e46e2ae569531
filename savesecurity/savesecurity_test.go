package savesecurity

import (
	"errors"
	"testing"

	"github.com/davetcode/goz/zerr"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := []uint8("a secret key shared with the host")
	payload := []uint8("a quetzal blob goes here")

	sealed := Seal(payload, key)
	got, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	payload := []uint8("save data")
	sealed := Seal(payload, []uint8("key-a"))

	_, err := Open(sealed, []uint8("key-b"))
	if !errors.Is(err, zerr.ErrSecurityHmacMismatch) {
		t.Fatalf("expected ErrSecurityHmacMismatch, got %v", err)
	}
}

func TestOpenRejectsCorruptedCrc(t *testing.T) {
	key := []uint8("key")
	sealed := Seal([]uint8("payload data"), key)
	sealed[len(sealed)-1] ^= 0xff

	_, err := Open(sealed, key)
	if !errors.Is(err, zerr.ErrSecurityCrcMismatch) {
		t.Fatalf("expected ErrSecurityCrcMismatch, got %v", err)
	}
}

func TestOpenRejectsTruncatedBlob(t *testing.T) {
	_, err := Open([]uint8{1, 2, 3}, []uint8("key"))
	if !errors.Is(err, zerr.ErrSecurityShort) {
		t.Fatalf("expected ErrSecurityShort, got %v", err)
	}
}

func TestSealToStringRoundTrip(t *testing.T) {
	key := []uint8("key")
	payload := []uint8("payload")

	encoded := SealToString(payload, key)
	got, err := OpenFromString(encoded, key)
	if err != nil {
		t.Fatalf("OpenFromString: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestOpenFromStringRejectsBadBase64(t *testing.T) {
	_, err := OpenFromString("not valid base64!!", []uint8("key"))
	if !errors.Is(err, zerr.ErrSecurityBadBase64) {
		t.Fatalf("expected ErrSecurityBadBase64, got %v", err)
	}
}
