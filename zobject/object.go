// Package zobject implements the object tree: parent/sibling/child links,
// attribute bitvectors, and property tables (spec section 4.5). Grounded
// on the teacher's zobject.GetObject/SetAttribute/SetParent family,
// unified onto a single *zmem.Memory + *zcore.Core calling convention (the
// retrieved teacher tree carried two incompatible call shapes across
// object.go and its call sites; this package picks the zmem.Memory one
// and returns errors instead of panicking) and extended with the
// bounded-traversal tree-edit operations (Insert/Remove) spec
// section 4.5 and section 9 ("Cyclic or malformed object trees") require.
package zobject

import (
	"fmt"

	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zerr"
	"github.com/davetcode/goz/zmem"
	"github.com/davetcode/goz/zstring"
)

// maxTreeWalk bounds sibling-chain and ancestor walks so a malformed or
// cyclic story file can never hang the interpreter (spec section 9).
const maxTreeWalk = 65536

// Object is a decoded object tree entry. Attributes is stored MSB-first
// across the full 48-bit range regardless of version, with bit 0 (the
// MSB-most attribute) corresponding to attribute number 0 - unused high
// bits in v1-3 (32 attributes) are simply always clear.
type Object struct {
	BaseAddress     uint32
	Id              uint16
	Name            string
	Attributes      uint64
	Parent          uint16
	Sibling         uint16
	Child           uint16
	PropertyPointer uint16
}

func objectBase(core *zcore.Core, objectTableBase uint16, id uint16) uint32 {
	defaultsSize := core.PropertyDefaultsSize()
	return uint32(objectTableBase) + defaultsSize + uint32(id-1)*core.ObjectEntrySize()
}

// Get decodes the object record for id.
func Get(mem *zmem.Memory, core *zcore.Core, alphabets *zstring.Alphabets, objectTableBase uint16, id uint16) (*Object, error) {
	if id == 0 {
		return nil, fmt.Errorf("object id 0 is never valid: %w", zerr.ErrAddressOutOfBounds)
	}

	base := objectBase(core, objectTableBase, id)
	o := &Object{Id: id, BaseAddress: base}

	if core.Version >= 4 {
		attrHi, err := readUint32(mem, base)
		if err != nil {
			return nil, fmt.Errorf("reading object %d attributes: %w", id, err)
		}
		attrLo, err := mem.ReadWord(base + 4)
		if err != nil {
			return nil, fmt.Errorf("reading object %d attributes: %w", id, err)
		}
		o.Attributes = uint64(attrHi)<<32 | uint64(attrLo)<<16

		parent, err := mem.ReadWord(base + 6)
		if err != nil {
			return nil, err
		}
		sibling, err := mem.ReadWord(base + 8)
		if err != nil {
			return nil, err
		}
		child, err := mem.ReadWord(base + 10)
		if err != nil {
			return nil, err
		}
		propPtr, err := mem.ReadWord(base + 12)
		if err != nil {
			return nil, err
		}
		o.Parent, o.Sibling, o.Child, o.PropertyPointer = parent, sibling, child, propPtr
	} else {
		attr, err := readUint32(mem, base)
		if err != nil {
			return nil, fmt.Errorf("reading object %d attributes: %w", id, err)
		}
		o.Attributes = uint64(attr) << 32

		parent, err := mem.ReadByte(base + 4)
		if err != nil {
			return nil, err
		}
		sibling, err := mem.ReadByte(base + 5)
		if err != nil {
			return nil, err
		}
		child, err := mem.ReadByte(base + 6)
		if err != nil {
			return nil, err
		}
		propPtr, err := mem.ReadWord(base + 7)
		if err != nil {
			return nil, err
		}
		o.Parent, o.Sibling, o.Child, o.PropertyPointer = uint16(parent), uint16(sibling), uint16(child), propPtr
	}

	nameLength, err := mem.ReadByte(uint32(o.PropertyPointer))
	if err != nil {
		return nil, fmt.Errorf("reading object %d name length: %w", id, err)
	}
	if nameLength > 0 {
		name, _, err := zstring.Decode(mem, uint32(o.PropertyPointer)+1, core.Version, alphabets, core.AbbreviationTableBase)
		if err != nil {
			return nil, fmt.Errorf("decoding object %d name: %w", id, err)
		}
		o.Name = name
	}

	return o, nil
}

func readUint32(mem *zmem.Memory, addr uint32) (uint32, error) {
	hi, err := mem.ReadWord(addr)
	if err != nil {
		return 0, err
	}
	lo, err := mem.ReadWord(addr + 2)
	if err != nil {
		return 0, err
	}
	return uint32(hi)<<16 | uint32(lo), nil
}

func (o *Object) TestAttribute(attribute uint16) bool {
	mask := uint64(1) << (63 - attribute)
	return o.Attributes&mask == mask
}

func (o *Object) writeAttributes(mem *zmem.Memory, version uint8) error {
	if err := mem.WriteWord(o.BaseAddress, uint16(o.Attributes>>48)); err != nil {
		return err
	}
	if err := mem.WriteWord(o.BaseAddress+2, uint16(o.Attributes>>32)); err != nil {
		return err
	}
	if version >= 4 {
		return mem.WriteWord(o.BaseAddress+4, uint16(o.Attributes>>16))
	}
	return nil
}

func (o *Object) SetAttribute(attribute uint16, mem *zmem.Memory, version uint8) error {
	mask := uint64(1) << (63 - attribute)
	o.Attributes |= mask
	return o.writeAttributes(mem, version)
}

func (o *Object) ClearAttribute(attribute uint16, mem *zmem.Memory, version uint8) error {
	mask := uint64(1) << (63 - attribute)
	o.Attributes &^= mask
	return o.writeAttributes(mem, version)
}

func (o *Object) setParentField(parent uint16, version uint8, mem *zmem.Memory) error {
	o.Parent = parent
	if version >= 4 {
		return mem.WriteWord(o.BaseAddress+6, parent)
	}
	return mem.WriteByte(o.BaseAddress+4, uint8(parent))
}

func (o *Object) setSiblingField(sibling uint16, version uint8, mem *zmem.Memory) error {
	o.Sibling = sibling
	if version >= 4 {
		return mem.WriteWord(o.BaseAddress+8, sibling)
	}
	return mem.WriteByte(o.BaseAddress+5, uint8(sibling))
}

func (o *Object) setChildField(child uint16, version uint8, mem *zmem.Memory) error {
	o.Child = child
	if version >= 4 {
		return mem.WriteWord(o.BaseAddress+10, child)
	}
	return mem.WriteByte(o.BaseAddress+6, uint8(child))
}

// Remove detaches id from its current parent's child chain, leaving it
// parentless with its own sibling/child links untouched (spec section 4.5
// "remove_obj"). Walking the sibling chain is bounded so a corrupt chain
// can't hang the interpreter.
func Remove(mem *zmem.Memory, core *zcore.Core, objectTableBase uint16, id uint16) error {
	self, err := getRaw(mem, core, objectTableBase, id)
	if err != nil {
		return err
	}
	if self.Parent == 0 {
		return nil
	}

	parent, err := getRaw(mem, core, objectTableBase, self.Parent)
	if err != nil {
		return err
	}

	if parent.Child == id {
		if err := parent.setChildField(self.Sibling, core.Version, mem); err != nil {
			return err
		}
	} else {
		prev, err := getRaw(mem, core, objectTableBase, parent.Child)
		if err != nil {
			return err
		}
		steps := 0
		for prev.Sibling != id {
			if steps >= maxTreeWalk {
				return fmt.Errorf("object %d: sibling chain exceeded %d links: %w", parent.Child, maxTreeWalk, zerr.ErrMalformedInstruction)
			}
			steps++
			if prev.Sibling == 0 {
				return nil // id was already detached; nothing to do
			}
			prev, err = getRaw(mem, core, objectTableBase, prev.Sibling)
			if err != nil {
				return err
			}
		}
		if err := prev.setSiblingField(self.Sibling, core.Version, mem); err != nil {
			return err
		}
	}

	return self.setParentField(0, core.Version, mem)
}

// Insert moves id to become the first child of newParent (spec section
// 4.5 "insert_obj"), detaching it from any current parent first.
func Insert(mem *zmem.Memory, core *zcore.Core, objectTableBase uint16, id uint16, newParent uint16) error {
	if err := Remove(mem, core, objectTableBase, id); err != nil {
		return err
	}

	self, err := getRaw(mem, core, objectTableBase, id)
	if err != nil {
		return err
	}
	parent, err := getRaw(mem, core, objectTableBase, newParent)
	if err != nil {
		return err
	}

	if err := self.setSiblingField(parent.Child, core.Version, mem); err != nil {
		return err
	}
	if err := self.setParentField(newParent, core.Version, mem); err != nil {
		return err
	}
	return parent.setChildField(id, core.Version, mem)
}

// getRaw reads only the parent/sibling/child fields, without the property
// pointer or the object's name text, for use by tree-edit operations.
func getRaw(mem *zmem.Memory, core *zcore.Core, objectTableBase uint16, id uint16) (*Object, error) {
	if id == 0 {
		return nil, fmt.Errorf("object id 0 is never valid: %w", zerr.ErrAddressOutOfBounds)
	}
	base := objectBase(core, objectTableBase, id)
	o := &Object{Id: id, BaseAddress: base}

	if core.Version >= 4 {
		parent, err := mem.ReadWord(base + 6)
		if err != nil {
			return nil, err
		}
		sibling, err := mem.ReadWord(base + 8)
		if err != nil {
			return nil, err
		}
		child, err := mem.ReadWord(base + 10)
		if err != nil {
			return nil, err
		}
		o.Parent, o.Sibling, o.Child = parent, sibling, child
	} else {
		parent, err := mem.ReadByte(base + 4)
		if err != nil {
			return nil, err
		}
		sibling, err := mem.ReadByte(base + 5)
		if err != nil {
			return nil, err
		}
		child, err := mem.ReadByte(base + 6)
		if err != nil {
			return nil, err
		}
		o.Parent, o.Sibling, o.Child = uint16(parent), uint16(sibling), uint16(child)
	}

	return o, nil
}

// Snapshot is a flattened parent/children view of one object, used by the
// host message channel to publish an object-tree snapshot.
type Snapshot struct {
	Id       uint16
	Name     string
	Parent   uint16
	Children []uint16
}

// Tree walks the whole object table (ids 1..maxId) into a flattened
// snapshot list, bounding each object's child-chain walk the same way
// Remove/Insert do.
func Tree(mem *zmem.Memory, core *zcore.Core, alphabets *zstring.Alphabets, objectTableBase uint16, maxId uint16) ([]Snapshot, error) {
	out := make([]Snapshot, 0, maxId)
	for id := uint16(1); id <= maxId; id++ {
		obj, err := Get(mem, core, alphabets, objectTableBase, id)
		if err != nil {
			return nil, fmt.Errorf("snapshotting object %d: %w", id, err)
		}

		var children []uint16
		childId := obj.Child
		steps := 0
		for childId != 0 {
			if steps >= maxTreeWalk {
				return nil, fmt.Errorf("object %d: child chain exceeded %d links: %w", id, maxTreeWalk, zerr.ErrMalformedInstruction)
			}
			steps++
			children = append(children, childId)
			child, err := getRaw(mem, core, objectTableBase, childId)
			if err != nil {
				return nil, err
			}
			childId = child.Sibling
		}

		out = append(out, Snapshot{Id: obj.Id, Name: obj.Name, Parent: obj.Parent, Children: children})
	}
	return out, nil
}
