// Package zinstr decodes one Z-machine instruction into a uniform record
// (spec section 4.3): operand count and types, the store/branch/inline-
// string metadata every opcode family needs, and the instruction's total
// byte length. Grounded on the teacher's zmachine.ParseOpcode/Opcode, lifted
// out of the engine package so the decoder is independently testable and
// carries no execution state.
package zinstr

import (
	"fmt"

	"github.com/davetcode/goz/zerr"
	"github.com/davetcode/goz/zmem"
	"github.com/davetcode/goz/zstring"
)

type Form int

const (
	LongForm Form = iota
	ShortForm
	VarForm
	ExtForm
)

type OperandCount int

const (
	OP0 OperandCount = iota
	OP1
	OP2
	VAR
	EXT
)

type OperandType int

const (
	LargeConstant OperandType = 0b00
	SmallConstant OperandType = 0b01
	Variable      OperandType = 0b10
	Omitted       OperandType = 0b11
)

type Operand struct {
	Type  OperandType
	Value uint16 // literal value, or a variable number when Type == Variable
}

type Branch struct {
	OnTrue      bool   // branch is taken when the instruction's test result equals this
	ReturnValue *uint8 // non-nil means "return this value" instead of branching (0 or 1)
	Offset      int32  // signed offset applied to PC (after the branch bytes) when taken
}

// Decoded is one fully parsed instruction.
type Decoded struct {
	OpcodeByte    uint8
	OpcodeNumber  uint8
	Form          Form
	OperandCount  OperandCount
	Operands      []Operand
	HasStore      bool
	StoreVariable uint8
	Branch        *Branch
	InlineString  string // non-empty only for print/print_ret
	HasInlineText bool
	ByteLength    uint32 // total bytes consumed, including operands/store/branch/text
}

// Decode parses the instruction at addr. version, alphabets and
// abbreviationBase are needed only to decode an embedded print/print_ret
// string inline.
func Decode(mem *zmem.Memory, addr uint32, version uint8, alphabets *zstring.Alphabets, abbreviationBase uint16) (*Decoded, error) {
	ptr := addr

	opcodeByte, err := mem.ReadByte(ptr)
	if err != nil {
		return nil, fmt.Errorf("reading opcode byte at %#x: %w", ptr, err)
	}
	ptr++

	d := &Decoded{OpcodeByte: opcodeByte}

	if opcodeByte == 0xbe && version >= 5 {
		extByte, err := mem.ReadByte(ptr)
		if err != nil {
			return nil, fmt.Errorf("reading extended opcode number at %#x: %w", ptr, err)
		}
		ptr++
		d.Form = ExtForm
		d.OperandCount = VAR
		d.OpcodeNumber = extByte

		if err := parseVariableOperands(mem, &ptr, d); err != nil {
			return nil, err
		}
	} else if OpcodeForm(opcodeByte>>6) == varFormBits {
		d.Form = VarForm
		d.OpcodeNumber = opcodeByte & 0b1_1111
		d.OperandCount = VAR
		if (opcodeByte>>5)&1 == 0 {
			d.OperandCount = OP2
		}
		if err := parseVariableOperands(mem, &ptr, d); err != nil {
			return nil, err
		}
	} else if OpcodeForm(opcodeByte>>6) == shortFormBits {
		d.Form = ShortForm
		d.OpcodeNumber = opcodeByte & 0b1111
		operandType := OperandType((opcodeByte >> 4) & 0b11)

		switch operandType {
		case LargeConstant:
			v, err := mem.ReadWord(ptr)
			if err != nil {
				return nil, fmt.Errorf("reading operand at %#x: %w", ptr, err)
			}
			d.Operands = append(d.Operands, Operand{Type: operandType, Value: v})
			ptr += 2
			d.OperandCount = OP1
		case SmallConstant, Variable:
			v, err := mem.ReadByte(ptr)
			if err != nil {
				return nil, fmt.Errorf("reading operand at %#x: %w", ptr, err)
			}
			d.Operands = append(d.Operands, Operand{Type: operandType, Value: uint16(v)})
			ptr++
			d.OperandCount = OP1
		case Omitted:
			d.OperandCount = OP0
		}
	} else {
		d.Form = LongForm
		d.OpcodeNumber = opcodeByte & 0b1_1111
		d.OperandCount = OP2

		op1Type := SmallConstant
		op2Type := SmallConstant
		if (opcodeByte>>6)&1 == 1 {
			op1Type = Variable
		}
		if (opcodeByte>>5)&1 == 1 {
			op2Type = Variable
		}
		for _, t := range []OperandType{op1Type, op2Type} {
			v, err := mem.ReadByte(ptr)
			if err != nil {
				return nil, fmt.Errorf("reading operand at %#x: %w", ptr, err)
			}
			d.Operands = append(d.Operands, Operand{Type: t, Value: uint16(v)})
			ptr++
		}
	}

	if hasStore(d.OperandCount, d.OpcodeNumber, version, d.Form) {
		v, err := mem.ReadByte(ptr)
		if err != nil {
			return nil, fmt.Errorf("reading store variable at %#x: %w", ptr, err)
		}
		d.HasStore = true
		d.StoreVariable = v
		ptr++
	}

	if hasBranch(d.OperandCount, d.OpcodeNumber, version, d.Form) {
		branch, n, err := parseBranch(mem, ptr)
		if err != nil {
			return nil, err
		}
		d.Branch = branch
		ptr += n
	}

	if hasInlineText(d.OperandCount, d.OpcodeNumber, d.Form) {
		text, n, err := zstring.Decode(mem, ptr, version, alphabets, abbreviationBase)
		if err != nil {
			return nil, fmt.Errorf("decoding inline string at %#x: %w", ptr, err)
		}
		d.HasInlineText = true
		d.InlineString = text
		ptr += n
	}

	d.ByteLength = ptr - addr
	return d, nil
}

type OpcodeForm uint8

const (
	longFormBits  OpcodeForm = 0b00
	shortFormBits OpcodeForm = 0b10
	varFormBits   OpcodeForm = 0b11
)

func parseVariableOperands(mem *zmem.Memory, ptr *uint32, d *Decoded) error {
	typeByte, err := mem.ReadByte(*ptr)
	if err != nil {
		return fmt.Errorf("reading operand type byte at %#x: %w", *ptr, err)
	}
	*ptr++

	extTypeByte := uint8(0)
	maxOperands := 4
	if d.OperandCount == VAR && (d.OpcodeNumber == 12 || d.OpcodeNumber == 26) && d.Form != ExtForm {
		extTypeByte, err = mem.ReadByte(*ptr)
		if err != nil {
			return fmt.Errorf("reading extended operand type byte at %#x: %w", *ptr, err)
		}
		*ptr++
		maxOperands = 8
	}

	for i := 0; i < maxOperands; i++ {
		var t OperandType
		if i < 4 {
			t = OperandType((typeByte >> (2 * (3 - i))) & 0b11)
		} else {
			t = OperandType((extTypeByte >> (2 * (7 - i))) & 0b11)
		}
		if t == Omitted {
			break
		}

		switch t {
		case SmallConstant, Variable:
			v, err := mem.ReadByte(*ptr)
			if err != nil {
				return fmt.Errorf("reading operand at %#x: %w", *ptr, err)
			}
			d.Operands = append(d.Operands, Operand{Type: t, Value: uint16(v)})
			*ptr++
		case LargeConstant:
			v, err := mem.ReadWord(*ptr)
			if err != nil {
				return fmt.Errorf("reading operand at %#x: %w", *ptr, err)
			}
			d.Operands = append(d.Operands, Operand{Type: t, Value: v})
			*ptr += 2
		}
	}

	return nil
}

func parseBranch(mem *zmem.Memory, ptr uint32) (*Branch, uint32, error) {
	b1, err := mem.ReadByte(ptr)
	if err != nil {
		return nil, 0, fmt.Errorf("reading branch byte at %#x: %w", ptr, err)
	}

	onTrue := (b1>>7)&1 == 1
	singleByte := (b1>>6)&1 == 1
	offset := int32(b1 & 0b11_1111)
	consumed := uint32(1)

	if !singleByte {
		b2, err := mem.ReadByte(ptr + 1)
		if err != nil {
			return nil, 0, fmt.Errorf("reading branch offset byte at %#x: %w", ptr+1, err)
		}
		raw := uint16(b1&0b11_1111)<<8 | uint16(b2)
		offset = int32(int16(raw<<2) >> 2) // sign-extend the 14-bit field
		consumed = 2
	}

	var retVal *uint8
	if offset == 0 {
		v := uint8(0)
		retVal = &v
	} else if offset == 1 {
		v := uint8(1)
		retVal = &v
	}

	return &Branch{OnTrue: onTrue, Offset: offset, ReturnValue: retVal}, consumed, nil
}

// hasStore reports whether the given instruction stores a result,
// following the canonical Z-machine opcode table (spec section 4.3, 4.4).
func hasStore(count OperandCount, number uint8, version uint8, form Form) bool {
	switch count {
	case OP0:
		switch number {
		case 5, 6: // save/restore: branch on v1-3, store on v4, illegal (use EXT) on v5+
			return version == 4
		case 9: // catch (v5+); pop (pre-v5, no store)
			return version >= 5
		}
	case OP2:
		switch number {
		case 8, 9, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25:
			return true
		}
	case OP1:
		switch number {
		case 1, 2, 3, 4, 8, 14:
			return true
		case 15: // call_1n (v5+) vs not (pre-v5) - not stores, call_1n doesn't
			return version < 5
		}
	case VAR:
		if form == ExtForm {
			switch number {
			case 0, 1, 2, 3, 4, 9, 0x0a, 0x0c, 0x13:
				return true
			}
			return false
		}
		switch number {
		case 0, 7, 12, 22, 24: // call_vs, random, call_vs2, read_char, not
			return true
		case 4: // sread (v5+ stores terminator)
			return version >= 5
		case 23: // scan_table
			return true
		}
	}
	return false
}

// hasBranch reports whether the given instruction is followed by a branch.
func hasBranch(count OperandCount, number uint8, version uint8, form Form) bool {
	switch count {
	case OP2:
		switch number {
		case 1, 2, 3, 4, 5, 6, 7, 10:
			return true
		}
	case OP1:
		switch number {
		case 0, 1, 2:
			return true
		}
	case OP0:
		switch number {
		case 5, 6: // save/restore branch on v1-3 only
			return version <= 3
		case 13, 15:
			return true
		}
	case VAR:
		if form == ExtForm {
			return false // check_unicode stores only; no EXT opcode branches
		}
		return number == 23 // scan_table
	}
	return false
}

// hasInlineText reports whether a literal Z-string follows the
// instruction's other fields (print, print_ret).
func hasInlineText(count OperandCount, number uint8, form Form) bool {
	return count == OP0 && (number == 2 || number == 3)
}

// ErrUnreachable is returned by callers that hit a Decoded value with no
// classification match; kept here so zmachine can wrap it consistently.
var ErrUnreachable = zerr.ErrMalformedInstruction
