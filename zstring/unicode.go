package zstring

import (
	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zmem"
)

// DefaultUnicodeTranslationTable is the standard ZSCII extension table
// (codes 155-223) used whenever a story carries no custom unicode
// translation table of its own.
var DefaultUnicodeTranslationTable = map[rune]uint8{
	'ä': 155, 'ö': 156, 'ü': 157, 'Ä': 158, 'Ö': 159, 'Ü': 160, 'ß': 161,
	'»': 162, '«': 163, 'ë': 164, 'ï': 165, 'ÿ': 166, 'Ë': 167, 'Ï': 168,
	'á': 169, 'é': 170, 'í': 171, 'ó': 172, 'ú': 173, 'ý': 174, 'Á': 175,
	'É': 176, 'Í': 177, 'Ó': 178, 'Ú': 179, 'Ý': 180, 'à': 181, 'è': 182,
	'ì': 183, 'ò': 184, 'ù': 185, 'À': 186, 'È': 187, 'Ì': 188, 'Ò': 189,
	'Ù': 190, 'â': 191, 'ê': 192, 'î': 193, 'ô': 194, 'û': 195, 'Â': 196,
	'Ê': 197, 'Î': 198, 'Ô': 199, 'Û': 200, 'å': 201, 'Å': 202, 'ø': 203,
	'Ø': 204, 'ã': 205, 'ñ': 206, 'õ': 207, 'Ã': 208, 'Ñ': 209, 'Õ': 210,
	'æ': 211, 'Æ': 212, 'ç': 213, 'Ç': 214, 'þ': 215, 'ð': 216, 'Þ': 217,
	'Ð': 218, '£': 219, 'œ': 220, 'Œ': 221, '¡': 222, '¿': 223,
}

func unicodeToZscii(mem *zmem.Memory, core *zcore.Core, r rune) (uint8, bool) {
	table := translationTable(mem, core)
	zchr, ok := table[r]
	return zchr, ok
}

// ZsciiToUnicode maps a ZSCII code back to its Unicode rune, consulting a
// story's custom unicode translation table when the header declares one.
func ZsciiToUnicode(mem *zmem.Memory, core *zcore.Core, zchr uint8) (rune, bool) {
	table := translationTable(mem, core)
	for r, ix := range table {
		if ix == zchr {
			return r, true
		}
	}
	return 0, false
}

func translationTable(mem *zmem.Memory, core *zcore.Core) map[rune]uint8 {
	if core.UnicodeExtensionTableBaseAddress == 0 {
		return DefaultUnicodeTranslationTable
	}
	table, err := parseUnicodeTranslationTable(mem, core)
	if err != nil {
		return DefaultUnicodeTranslationTable
	}
	return table
}

func parseUnicodeTranslationTable(mem *zmem.Memory, core *zcore.Core) (map[rune]uint8, error) {
	base := uint32(core.UnicodeExtensionTableBaseAddress)
	count, err := mem.ReadByte(base)
	if err != nil {
		return nil, err
	}

	result := make(map[rune]uint8, count)
	startAddress := base + 1
	for i := 0; i < int(count); i++ {
		r, err := mem.ReadWord(startAddress + uint32(i*2))
		if err != nil {
			return nil, err
		}
		result[rune(r)] = uint8(i + 155)
	}

	return result, nil
}
