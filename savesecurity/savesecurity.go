// Package savesecurity wraps a Quetzal save blob with a tamper-evidence
// header: a format version byte, a CRC32 (Castagnoli) integrity check, and
// an HMAC-SHA256 signature keyed on a server-held secret, so a save handed
// back to a client can't be edited or replayed against a different story
// without detection. Grounded on
// original_source/encrusted/src/rust/save_security.rs. No third-party crypto
// library appears anywhere in the example pack, so this is built on
// crypto/hmac, crypto/sha256, hash/crc32 and encoding/base64 - the teacher's
// own stdlib-only precedent for one-off codec glue (e.g. zstring's ZSCII
// tables) rather than reached-for ecosystem packages.
package savesecurity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/davetcode/goz/zerr"
)

const (
	version = 1

	// header layout: 1 (version) + 4 (crc32 LE) + 32 (hmac-sha256)
	headerLength = 1 + 4 + sha256.Size
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Seal wraps payload in the version||crc32||hmac-sha256 header and returns
// the combined blob. secretKey may be any length; HMAC accepts it directly.
func Seal(payload []uint8, secretKey []uint8) []uint8 {
	out := make([]uint8, 0, headerLength+len(payload))
	out = append(out, version)

	var crcBytes [4]uint8
	binary.LittleEndian.PutUint32(crcBytes[:], crc32.Checksum(payload, castagnoli))
	out = append(out, crcBytes[:]...)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write(payload)
	out = append(out, mac.Sum(nil)...)

	out = append(out, payload...)
	return out
}

// Open validates a sealed blob against secretKey and returns the payload.
// Validation is constant-time on the HMAC comparison (hmac.Equal).
func Open(blob []uint8, secretKey []uint8) ([]uint8, error) {
	if len(blob) < headerLength {
		return nil, fmt.Errorf("blob is %d bytes, need at least %d: %w", len(blob), headerLength, zerr.ErrSecurityShort)
	}

	gotVersion := blob[0]
	if gotVersion != version {
		return nil, fmt.Errorf("got version %d, want %d: %w", gotVersion, version, zerr.ErrSecurityBadVersion)
	}

	storedCrc := binary.LittleEndian.Uint32(blob[1:5])
	storedHmac := blob[5:headerLength]
	payload := blob[headerLength:]

	computedCrc := crc32.Checksum(payload, castagnoli)
	if computedCrc != storedCrc {
		return nil, fmt.Errorf("expected %#x, got %#x: %w", storedCrc, computedCrc, zerr.ErrSecurityCrcMismatch)
	}

	mac := hmac.New(sha256.New, secretKey)
	mac.Write(payload)
	computedHmac := mac.Sum(nil)
	if !hmac.Equal(computedHmac, storedHmac) {
		return nil, zerr.ErrSecurityHmacMismatch
	}

	return append([]uint8(nil), payload...), nil
}

// SealToString seals payload and base64-encodes it for transport over a
// text channel (a save-game slot stored as a string, an HTTP JSON field).
func SealToString(payload []uint8, secretKey []uint8) string {
	return base64.StdEncoding.EncodeToString(Seal(payload, secretKey))
}

// OpenFromString reverses SealToString.
func OpenFromString(encoded string, secretKey []uint8) ([]uint8, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 transport encoding: %w: %v", zerr.ErrSecurityBadBase64, err)
	}
	return Open(blob, secretKey)
}
