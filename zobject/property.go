package zobject

import (
	"fmt"

	"github.com/davetcode/goz/zerr"
	"github.com/davetcode/goz/zmem"
)

type Property struct {
	Id                   uint8
	Length               uint8
	DataAddress          uint32
	PropertyHeaderLength uint8
	Address              uint32
}

// propertyByAddress decodes the property header at propertyAddr.
func propertyByAddress(mem *zmem.Memory, propertyAddr uint32, version uint8) (Property, error) {
	sizeByte, err := mem.ReadByte(propertyAddr)
	if err != nil {
		return Property{}, err
	}

	length := (sizeByte >> 5) + 1
	id := sizeByte & 0b1_1111
	headerLen := uint8(1)

	if version >= 4 {
		if sizeByte>>7 == 1 {
			second, err := mem.ReadByte(propertyAddr + 1)
			if err != nil {
				return Property{}, err
			}
			length = second & 0b11_1111
			if length == 0 {
				length = 64 // 0 as the second size byte means length 64 (standard 1.0, S12.4.2.1.1)
			}
			id = sizeByte & 0b11_1111
			headerLen = 2
		} else {
			length = ((sizeByte >> 6) & 1) + 1
			id = sizeByte & 0b11_1111
		}
	}

	return Property{
		Id:                   id,
		Length:               length,
		PropertyHeaderLength: headerLen,
		Address:              propertyAddr,
		DataAddress:          propertyAddr + uint32(headerLen),
	}, nil
}

func (o *Object) firstPropertyAddress(mem *zmem.Memory) (uint32, error) {
	nameLength, err := mem.ReadByte(uint32(o.PropertyPointer))
	if err != nil {
		return 0, err
	}
	return uint32(o.PropertyPointer) + 1 + uint32(nameLength)*2, nil
}

// GetProperty returns the object's own property propertyId, or - if the
// object doesn't define it - a synthetic Property backed by the
// story-wide property defaults table (DataAddress points at the defaults
// entry rather than the object's own property table).
func (o *Object) GetProperty(mem *zmem.Memory, version uint8, objectTableBase uint16, propertyId uint8) (Property, error) {
	ptr, err := o.firstPropertyAddress(mem)
	if err != nil {
		return Property{}, err
	}

	for {
		sizeByte, err := mem.ReadByte(ptr)
		if err != nil {
			return Property{}, err
		}
		if sizeByte == 0 {
			break
		}

		prop, err := propertyByAddress(mem, ptr, version)
		if err != nil {
			return Property{}, err
		}
		if prop.Id == propertyId {
			return prop, nil
		}
		if prop.Id < propertyId {
			break // properties are stored in descending id order
		}

		ptr = prop.DataAddress + uint32(prop.Length)
	}

	defaultAddr := uint32(objectTableBase) + 2*uint32(propertyId-1)
	return Property{Id: propertyId, Length: 2, DataAddress: defaultAddr}, nil
}

// Data reads the property's value bytes.
func (p Property) Data(mem *zmem.Memory) ([]uint8, error) {
	return mem.Slice(p.DataAddress, p.DataAddress+uint32(p.Length))
}

// SetProperty stores value into propertyId's data on o. Only 1- and
// 2-byte properties may be set (spec section 4.5, "put_prop" - "It is
// illegal to try to set a property which the object does not have").
func (o *Object) SetProperty(mem *zmem.Memory, version uint8, propertyId uint8, value uint16) error {
	ptr, err := o.firstPropertyAddress(mem)
	if err != nil {
		return err
	}

	for {
		sizeByte, err := mem.ReadByte(ptr)
		if err != nil {
			return err
		}
		if sizeByte == 0 {
			break
		}

		prop, err := propertyByAddress(mem, ptr, version)
		if err != nil {
			return err
		}
		if prop.Id == propertyId {
			switch prop.Length {
			case 1:
				return mem.WriteByte(prop.DataAddress, uint8(value))
			case 2:
				return mem.WriteWord(prop.DataAddress, value)
			default:
				return fmt.Errorf("property %d on object %d has length %d, can't set by value: %w", propertyId, o.Id, prop.Length, zerr.ErrMalformedInstruction)
			}
		}

		ptr = prop.DataAddress + uint32(prop.Length)
	}

	return fmt.Errorf("object %d has no property %d to set: %w", o.Id, propertyId, zerr.ErrMalformedInstruction)
}

// GetNextProperty implements get_next_prop: propertyId 0 asks for the
// object's first property; otherwise it returns the property following
// propertyId, or 0 if propertyId was the last one.
func (o *Object) GetNextProperty(mem *zmem.Memory, version uint8, objectTableBase uint16, propertyId uint8) (uint8, error) {
	if propertyId == 0 {
		ptr, err := o.firstPropertyAddress(mem)
		if err != nil {
			return 0, err
		}
		sizeByte, err := mem.ReadByte(ptr)
		if err != nil {
			return 0, err
		}
		if sizeByte == 0 {
			return 0, nil
		}
		prop, err := propertyByAddress(mem, ptr, version)
		if err != nil {
			return 0, err
		}
		return prop.Id, nil
	}

	prop, err := o.GetProperty(mem, version, objectTableBase, propertyId)
	if err != nil {
		return 0, err
	}
	if prop.Address == 0 {
		return 0, fmt.Errorf("get_next_prop: object %d has no property %d: %w", o.Id, propertyId, zerr.ErrMalformedInstruction)
	}

	nextPtr := prop.DataAddress + uint32(prop.Length)
	sizeByte, err := mem.ReadByte(nextPtr)
	if err != nil {
		return 0, err
	}
	if sizeByte == 0 {
		return 0, nil
	}
	next, err := propertyByAddress(mem, nextPtr, version)
	if err != nil {
		return 0, err
	}
	return next.Id, nil
}

// GetPropertyAddr returns the byte address of propertyId's data on o, or
// 0 if the object doesn't define that property (spec section 4.5
// "get_prop_addr").
func (o *Object) GetPropertyAddr(mem *zmem.Memory, version uint8, propertyId uint8) (uint32, error) {
	ptr, err := o.firstPropertyAddress(mem)
	if err != nil {
		return 0, err
	}

	for {
		sizeByte, err := mem.ReadByte(ptr)
		if err != nil {
			return 0, err
		}
		if sizeByte == 0 {
			return 0, nil
		}

		prop, err := propertyByAddress(mem, ptr, version)
		if err != nil {
			return 0, err
		}
		if prop.Id == propertyId {
			return prop.DataAddress, nil
		}
		if prop.Id < propertyId {
			return 0, nil
		}

		ptr = prop.DataAddress + uint32(prop.Length)
	}
}
