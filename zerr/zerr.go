// Package zerr collects the sentinel error kinds named in the interpreter's
// error handling design: memory guards, decoder faults, engine faults,
// arithmetic faults, and the Quetzal/SaveSecurity codec faults. Callers
// wrap these with fmt.Errorf("...: %w", zerr.X) for context; tests and
// hosts branch on errors.Is against the sentinels.
package zerr

import "errors"

var (
	// Memory guards (zmem)
	ErrAddressOutOfBounds = errors.New("address out of bounds")
	ErrWriteToStaticMemory = errors.New("write to static or high memory")

	// Instruction decoder (zinstr)
	ErrUnknownOpcode       = errors.New("unknown opcode")
	ErrMalformedInstruction = errors.New("malformed instruction")

	// Text codec (zstring)
	ErrNestedAbbreviation = errors.New("abbreviation escape nested inside another abbreviation")
	ErrMalformedZString   = errors.New("truncated or malformed z-string")

	// Engine (zmachine, zframe)
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrTooManyLocals   = errors.New("too many locals")
	ErrBadVariableNumber = errors.New("bad variable number")

	// Arithmetic
	ErrDivideByZero = errors.New("divide by zero")

	// Quetzal save codec
	ErrQuetzalMissingForm      = errors.New("quetzal: missing FORM chunk")
	ErrQuetzalBadChunkHeader   = errors.New("quetzal: malformed chunk header")
	ErrQuetzalBadIfhdLength    = errors.New("quetzal: IFhd chunk has wrong length")
	ErrQuetzalBadStksFrame     = errors.New("quetzal: Stks frame is truncated or corrupt")
	ErrQuetzalIncomplete       = errors.New("quetzal: save is missing a required chunk")
	ErrQuetzalMemoryTooLarge   = errors.New("quetzal: decompressed memory exceeds limit")

	// SaveSecurity wrapper
	ErrSecurityBadVersion   = errors.New("savesecurity: unsupported wrapper version")
	ErrSecurityShort        = errors.New("savesecurity: blob shorter than header")
	ErrSecurityCrcMismatch  = errors.New("savesecurity: crc32 mismatch")
	ErrSecurityHmacMismatch = errors.New("savesecurity: hmac mismatch")
	ErrSecurityBadBase64    = errors.New("savesecurity: invalid base64 transport encoding")
)
