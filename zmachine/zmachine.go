// Package zmachine is the instruction dispatch loop: it owns the running
// story's program counter, call-frame stack and I/O streams, and wires
// zinstr's decoder to zobject, zstring, dictionary, ztable and the
// quetzal/undo/savesecurity save-game stack. Grounded on the teacher's
// ZMachine/StepMachine, rebuilt around *zmem.Memory, zinstr.Decoded and
// typed errors in place of the teacher's raw-slice indexing and panics -
// a malformed story file or out-of-range opcode operand now returns an
// error that bubbles up to the host instead of crashing the process.
package zmachine

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/davetcode/goz/dictionary"
	"github.com/davetcode/goz/host"
	"github.com/davetcode/goz/quetzal"
	"github.com/davetcode/goz/savesecurity"
	"github.com/davetcode/goz/undo"
	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zerr"
	"github.com/davetcode/goz/zframe"
	"github.com/davetcode/goz/zinstr"
	"github.com/davetcode/goz/zmem"
	"github.com/davetcode/goz/zobject"
	"github.com/davetcode/goz/zstring"
	"github.com/davetcode/goz/ztable"
)

// Options configures a freshly loaded story. Grounded on
// original_source/encrusted/src/rust/options.rs's rand_seed; SaveSecurityKey
// and UndoCapacity are this interpreter's own additions for the
// SaveSecurity wrapper and the undo/redo ring.
type Options struct {
	RandSeed        int64
	SaveSecurityKey []uint8
	UndoCapacity    int
}

type memoryStream struct {
	baseAddress uint32
	ptr         uint32
}

type streams struct {
	screen        bool
	transcript    bool
	memory        bool
	memoryStreams []memoryStream
	commandScript bool
}

// Machine is one running story.
type Machine struct {
	core      *zcore.Core
	mem       *zmem.Memory
	alphabets *zstring.Alphabets
	dict      *dictionary.Dictionary

	frames zframe.Stack
	pc     uint32

	host   host.Host
	screen ScreenModel
	stream streams
	rng    *rand.Rand

	undoRing  *undo.Ring
	redoArmed bool // true only until the next Step, per spec section 4.7
	saveKey   []uint8
	original  []uint8 // dynamic memory as loaded, for Quetzal diffing

	warned map[string]bool

	quit bool
}

// Version reports the story's Z-machine version byte.
func (m *Machine) Version() uint8 { return m.core.Version }

// LoadRom parses a story file and prepares it to run. Grounded on the
// teacher's LoadRom: v6's initial routine call convention (packed address
// plus a leading locals-count byte) is preserved; all other versions start
// directly at the header's first-instruction address.
func LoadRom(storyFile []uint8, h host.Host, opts Options) (*Machine, error) {
	mem := zmem.New(append([]uint8(nil), storyFile...))
	core, err := zcore.Load(mem)
	if err != nil {
		return nil, fmt.Errorf("loading header: %w", err)
	}

	alphabets, err := zstring.LoadAlphabets(core.Version, mem, core.AlternativeCharSetBaseAddress)
	if err != nil {
		return nil, fmt.Errorf("loading alphabets: %w", err)
	}

	dict, err := dictionary.Parse(mem, uint32(core.DictionaryBase), core.Version, alphabets, core.AbbreviationTableBase)
	if err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	core.SetDefaultColors(2, 9, mem) // 2 = BLACK, 9 = WHITE (spec section 4.7 color numbers)

	seed := opts.RandSeed
	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewSource(seed))
	} else {
		rng = rand.New(rand.NewSource(hostEntropySeed()))
	}

	m := &Machine{
		core:      core,
		mem:       mem,
		alphabets: alphabets,
		dict:      dict,
		host:      h,
		screen:    newScreenModel(Black, White),
		stream:    streams{screen: true},
		rng:       rng,
		undoRing:  undo.New(opts.UndoCapacity),
		saveKey:   opts.SaveSecurityKey,
		original:  append([]uint8(nil), mem.Dynamic()...),
		warned:    map[string]bool{},
	}

	if core.Version == 6 {
		routineAddress := core.UnpackRoutine(core.FirstInstruction)
		localCount, err := mem.ReadByte(routineAddress)
		if err != nil {
			return nil, fmt.Errorf("reading v6 initial routine header: %w", err)
		}
		m.frames.Push(zframe.Frame{Locals: make([]uint16, localCount)})
		m.pc = routineAddress + 1
	} else {
		m.frames.Push(zframe.Frame{})
		m.pc = uint32(core.FirstInstruction)
	}

	return m, nil
}

// restart resets dynamic memory and the call stack to their as-loaded state
// (spec section 4.6's restart opcode), without reopening the story file or
// disturbing streams the host already has buffered output in.
func (m *Machine) restart() {
	m.mem.SetDynamic(append([]uint8(nil), m.original...))
	m.core.SetDefaultColors(2, 9, m.mem)

	m.frames = zframe.Stack{}
	if m.core.Version == 6 {
		routineAddress := m.core.UnpackRoutine(m.core.FirstInstruction)
		localCount, _ := m.mem.ReadByte(routineAddress)
		m.frames.Push(zframe.Frame{Locals: make([]uint16, localCount)})
		m.pc = routineAddress + 1
	} else {
		m.frames.Push(zframe.Frame{})
		m.pc = uint32(m.core.FirstInstruction)
	}

	m.stream = streams{screen: true}
	m.screen = newScreenModel(Black, White)
	m.quit = false
}

// hostEntropySeed is the fallback RNG seed when Options.RandSeed is zero,
// and the reseed value for random with n == 0: one draw from math/rand's
// global source, which the Go runtime seeds non-deterministically.
func hostEntropySeed() int64 {
	return rand.Int63()
}

func (m *Machine) currentFrame() (*zframe.Frame, error) {
	return m.frames.Top()
}

func (m *Machine) warnOnce(key string, format string, args ...any) {
	if m.warned[key] {
		return
	}
	m.warned[key] = true
	m.host.Message("warning", fmt.Sprintf(format, args...))
}

// readVariable reads variable 0-255: 0 is the current frame's evaluation
// stack, 1-15 are locals, 16+ are globals. indirect distinguishes the
// seven opcodes (inc, dec, inc_chk, dec_chk, load, store, pull) that read
// the stack in place rather than popping it (spec section 4.4 "Indirect
// variable references").
func (m *Machine) readVariable(variable uint8, indirect bool) (uint16, error) {
	frame, err := m.currentFrame()
	if err != nil {
		return 0, err
	}

	switch {
	case variable == 0:
		if indirect {
			return frame.Peek()
		}
		return frame.Pop()
	case variable < 16:
		return frame.Local(variable)
	default:
		addr := uint32(m.core.GlobalVariableBase) + 2*uint32(variable-16)
		return m.mem.ReadWord(addr)
	}
}

func (m *Machine) writeVariable(variable uint8, value uint16, indirect bool) error {
	frame, err := m.currentFrame()
	if err != nil {
		return err
	}

	switch {
	case variable == 0:
		if indirect {
			if _, err := frame.Pop(); err != nil {
				return err
			}
		}
		frame.Push(value)
		return nil
	case variable < 16:
		return frame.SetLocal(variable, value)
	default:
		addr := uint32(m.core.GlobalVariableBase) + 2*uint32(variable-16)
		return m.mem.WriteWord(addr, value)
	}
}

// resolveOperand returns an operand's value, reading through a variable
// reference (non-indirect: popping the stack) when the operand names one.
func (m *Machine) resolveOperand(op zinstr.Operand) (uint16, error) {
	if op.Type == zinstr.Variable {
		return m.readVariable(uint8(op.Value), false)
	}
	return op.Value, nil
}

func (m *Machine) resolveOperands(ops []zinstr.Operand) ([]uint16, error) {
	out := make([]uint16, len(ops))
	for i, op := range ops {
		v, err := m.resolveOperand(op)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *Machine) readIncPC() (uint8, error) {
	v, err := m.mem.ReadByte(m.pc)
	if err != nil {
		return 0, err
	}
	m.pc++
	return v, nil
}

// call resolves and pushes a new frame for a routine call. operands[0] is
// the packed routine address; operands[1:] are the arguments. A routine
// address of 0 is special-cased per spec section 4.4: no call is made and
// 0 is stored immediately (only relevant when the caller expects a store).
func (m *Machine) call(operands []uint16, kind zframe.RoutineKind, hasStore bool, storeVariable uint8) error {
	if operands[0] == 0 {
		if hasStore {
			return m.writeVariable(storeVariable, 0, false)
		}
		return nil
	}

	routineAddress := m.core.UnpackRoutine(operands[0])
	localCount, err := m.mem.ReadByte(routineAddress)
	if err != nil {
		return fmt.Errorf("reading routine header at %#x: %w", routineAddress, err)
	}
	routineAddress++

	locals := make([]uint16, localCount)
	for i := 0; i < int(localCount); i++ {
		if i+1 < len(operands) {
			locals[i] = operands[i+1]
		} else if m.core.Version < 5 {
			v, err := m.mem.ReadWord(routineAddress)
			if err != nil {
				return fmt.Errorf("reading default local %d: %w", i, err)
			}
			locals[i] = v
		}
		if m.core.Version < 5 {
			routineAddress += 2
		}
	}

	m.frames.Push(zframe.Frame{
		ReturnPC:      m.pc,
		Locals:        locals,
		Kind:          kind,
		StoreVariable: storeVariable,
		HasStore:      hasStore,
		ArgCount:      len(operands) - 1,
	})
	m.pc = routineAddress
	return nil
}

// retValue pops the current frame and, if it was a value-returning
// routine, stores val into the caller's requested variable and restores
// PC (spec section 4.4 "ret").
func (m *Machine) retValue(val uint16) error {
	old, err := m.frames.Pop()
	if err != nil {
		return err
	}
	m.pc = old.ReturnPC

	if old.Kind == zframe.Function && old.HasStore {
		return m.writeVariable(old.StoreVariable, val, false)
	}
	return nil
}

// handleBranch applies a decoded branch's offset-0/1 "immediate return"
// special case (spec section 4.3) or adjusts PC for a real jump.
func (m *Machine) handleBranch(branch *zinstr.Branch, result bool) error {
	if branch == nil {
		return fmt.Errorf("instruction expected a branch but none was decoded: %w", zerr.ErrMalformedInstruction)
	}
	if result != branch.OnTrue {
		return nil
	}
	if branch.ReturnValue != nil {
		return m.retValue(uint16(*branch.ReturnValue))
	}
	m.pc = uint32(int64(m.pc) + int64(branch.Offset) - 2)
	return nil
}

func (m *Machine) appendText(s string) error {
	if m.stream.memory {
		ms := &m.stream.memoryStreams[len(m.stream.memoryStreams)-1]
		for _, r := range s {
			if err := m.mem.WriteByte(ms.ptr, uint8(r)); err != nil {
				return err
			}
			ms.ptr++
		}
		// Output stream 3 is exclusive while selected (spec section 7.1.2.2).
		return nil
	}

	if m.stream.screen {
		m.host.Print(s)
		if !m.screen.LowerWindowActive {
			lines := strings.Split(s, "\n")
			m.screen.UpperWindowCursorY += len(lines) - 1
			m.screen.UpperWindowCursorX += len(lines[len(lines)-1])
		}
	}

	if m.stream.transcript {
		m.host.Message("transcript", s)
	}
	if m.stream.commandScript {
		m.host.Message("command-script", s)
	}
	return nil
}

func (m *Machine) statusBarObjectName(id uint16) (string, error) {
	obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, id)
	if err != nil {
		return "", err
	}
	return obj.Name, nil
}

func (m *Machine) pushStatusBar() error {
	roomVar, err := m.readVariable(16, false)
	if err != nil {
		return err
	}
	name, err := m.statusBarObjectName(roomVar)
	if err != nil {
		return err
	}

	if m.core.StatusBarTimeBased {
		hours, err := m.readVariable(17, false)
		if err != nil {
			return err
		}
		mins, err := m.readVariable(18, false)
		if err != nil {
			return err
		}
		m.host.SetStatusBar(host.StatusBar{PlaceName: name, Right: fmt.Sprintf("%02d:%02d", hours, mins), IsTimeBased: true})
		return nil
	}

	score, err := m.readVariable(17, false)
	if err != nil {
		return err
	}
	moves, err := m.readVariable(18, false)
	if err != nil {
		return err
	}
	m.host.SetStatusBar(host.StatusBar{PlaceName: name, Right: fmt.Sprintf("%d/%d", int16(score), moves)})
	return nil
}

// CurrentRoom returns global variable 16 (the object most games use as
// "current location") and its short name, for the host "room" message
// channel (SPEC_FULL.md's supplemented host message-channel feature).
func (m *Machine) CurrentRoom() (host.RoomSnapshot, error) {
	roomVar, err := m.readVariable(16, false)
	if err != nil {
		return host.RoomSnapshot{}, err
	}
	if roomVar == 0 {
		return host.RoomSnapshot{}, nil
	}
	name, err := m.statusBarObjectName(roomVar)
	if err != nil {
		return host.RoomSnapshot{}, err
	}
	return host.RoomSnapshot{Id: roomVar, Name: name}, nil
}

// ObjectTree returns a flattened snapshot of the whole object table, for
// the host "tree" message channel.
func (m *Machine) ObjectTree() ([]host.ObjectSnapshot, error) {
	maxId, err := m.maxObjectId()
	if err != nil {
		return nil, err
	}
	snaps, err := zobject.Tree(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, maxId)
	if err != nil {
		return nil, err
	}
	out := make([]host.ObjectSnapshot, len(snaps))
	for i, s := range snaps {
		out[i] = host.ObjectSnapshot{Id: s.Id, Name: s.Name, Parent: s.Parent, Children: s.Children}
	}
	return out, nil
}

// pushTurnSnapshot sends the "room" and "tree" message-channel updates
// SPEC_FULL.md's supplemented host message-channel feature promises once
// per turn boundary (wasm/src/lib.rs's push_updates). The natural turn
// boundary in a synchronous, Step-at-a-time engine is the moment it is
// about to suspend for the player's next command, i.e. right before
// sread/aread blocks - by then the previous turn's moves and object
// rearrangements have already landed in memory. Failures here (e.g. an
// object table the story hasn't finished initializing yet) are swallowed:
// this channel is a convenience for a host-drawn map, never load-bearing.
func (m *Machine) pushTurnSnapshot() {
	if room, err := m.CurrentRoom(); err == nil {
		m.host.Message("room", room)
	}
	if tree, err := m.ObjectTree(); err == nil {
		m.host.Message("tree", tree)
	}
}

// maxObjectId infers the object count from the object table's layout:
// each object's own property table must live somewhere past the last
// object entry, so the lowest property-table address seen bounds how
// many entries the table actually holds.
func (m *Machine) maxObjectId() (uint16, error) {
	entrySize := m.core.ObjectEntrySize()
	base := uint32(m.core.ObjectTableBase) + m.core.PropertyDefaultsSize()
	propPtrOffset := uint32(7)
	if m.core.Version >= 4 {
		propPtrOffset = 12
	}

	limit := m.mem.Len()
	id := uint16(0)
	for {
		entryAddr := base + uint32(id)*entrySize
		if entryAddr+entrySize > limit || entryAddr+entrySize > m.mem.StaticBase()+entrySize {
			break
		}
		propPtr, err := m.mem.ReadWord(entryAddr + propPtrOffset)
		if err != nil {
			break
		}
		if uint32(propPtr) < limit && uint32(propPtr) > base {
			limit = uint32(propPtr)
		}
		id++
		if entryAddr+entrySize >= limit {
			break
		}
	}
	return id, nil
}

// Quit reports whether the story has executed a quit opcode.
func (m *Machine) Quit() bool { return m.quit }

// Screen returns a snapshot of the current window/cursor/color model, for
// a host that renders split upper/lower windows itself rather than just
// appending Print text to a single transcript.
func (m *Machine) Screen() ScreenModel { return m.screen }

// Step decodes and executes exactly one instruction. It returns false
// once the story has quit.
func (m *Machine) Step() (bool, error) {
	if m.quit {
		return false, nil
	}

	if m.redoArmed {
		m.undoRing.ClearRedo()
		m.redoArmed = false
	}

	d, err := zinstr.Decode(m.mem, m.pc, m.core.Version, m.alphabets, m.core.AbbreviationTableBase)
	if err != nil {
		return false, fmt.Errorf("decoding instruction at %#x: %w", m.pc, err)
	}
	m.pc += d.ByteLength

	if err := m.execute(d); err != nil {
		return false, err
	}
	return !m.quit, nil
}

func (m *Machine) execute(d *zinstr.Decoded) error {
	ops, err := m.resolveOperands(d.Operands)
	if err != nil {
		return err
	}

	switch d.OperandCount {
	case zinstr.OP0:
		return m.executeOp0(d, ops)
	case zinstr.OP1:
		return m.executeOp1(d, ops)
	case zinstr.OP2:
		return m.executeOp2(d, ops)
	case zinstr.VAR, zinstr.EXT:
		if d.Form == zinstr.ExtForm {
			return m.executeExt(d, ops)
		}
		return m.executeVar(d, ops)
	default:
		return fmt.Errorf("unreachable operand count %v: %w", d.OperandCount, zerr.ErrUnknownOpcode)
	}
}

func (m *Machine) executeOp0(d *zinstr.Decoded, ops []uint16) error {
	switch d.OpcodeNumber {
	case 0: // rtrue
		return m.retValue(1)
	case 1: // rfalse
		return m.retValue(0)
	case 2: // print
		return m.appendText(d.InlineString)
	case 3: // print_ret
		if err := m.appendText(d.InlineString); err != nil {
			return err
		}
		if err := m.appendText("\n"); err != nil {
			return err
		}
		return m.retValue(1)
	case 4: // nop
		return nil
	case 5, 6: // save/restore (pre-v4 branch on success; v4 stores 0/1)
		return m.opSaveOrRestore(d)
	case 7: // restart
		m.restart()
		return nil
	case 8: // ret_popped
		frame, err := m.currentFrame()
		if err != nil {
			return err
		}
		v, err := frame.Pop()
		if err != nil {
			return err
		}
		return m.retValue(v)
	case 9: // pop / catch
		if m.core.Version >= 5 {
			frame, err := m.currentFrame()
			if err != nil {
				return err
			}
			return m.writeVariable(d.StoreVariable, uint16(len(frame.EvalStack)), false)
		}
		frame, err := m.currentFrame()
		if err != nil {
			return err
		}
		_, err = frame.Pop()
		return err
	case 10: // quit
		m.quit = true
		return nil
	case 11: // new_line
		return m.appendText("\n")
	case 12: // show_status (v3 only, rarely used)
		return m.pushStatusBar()
	case 13: // verify
		return m.handleBranch(d.Branch, m.verifyChecksum())
	case 15: // piracy
		return m.handleBranch(d.Branch, true)
	default:
		return fmt.Errorf("unimplemented 0OP opcode %#x at %#x: %w", d.OpcodeByte, m.pc, zerr.ErrUnknownOpcode)
	}
}

func (m *Machine) verifyChecksum() bool {
	fileLength := m.core.FileLength()
	var sum uint16
	for i := uint32(0x40); i < fileLength; i++ {
		b, err := m.mem.ReadByte(i)
		if err != nil {
			break
		}
		sum += uint16(b)
	}
	return sum == m.core.FileChecksumHeader
}

func (m *Machine) executeOp1(d *zinstr.Decoded, ops []uint16) error {
	switch d.OpcodeNumber {
	case 0: // jz
		return m.handleBranch(d.Branch, ops[0] == 0)
	case 1: // get_sibling
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		if err := m.writeVariable(d.StoreVariable, obj.Sibling, false); err != nil {
			return err
		}
		return m.handleBranch(d.Branch, obj.Sibling != 0)
	case 2: // get_child
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		if err := m.writeVariable(d.StoreVariable, obj.Child, false); err != nil {
			return err
		}
		return m.handleBranch(d.Branch, obj.Child != 0)
	case 3: // get_parent
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		return m.writeVariable(d.StoreVariable, obj.Parent, false)
	case 4: // get_prop_len
		if ops[0] == 0 {
			return m.writeVariable(d.StoreVariable, 0, false)
		}
		prop, err := propertyByDataAddress(m.mem, uint32(ops[0]), m.core.Version)
		if err != nil {
			return err
		}
		return m.writeVariable(d.StoreVariable, uint16(prop), false)
	case 5: // inc
		variable := uint8(ops[0])
		v, err := m.readVariable(variable, true)
		if err != nil {
			return err
		}
		return m.writeVariable(variable, v+1, true)
	case 6: // dec
		variable := uint8(ops[0])
		v, err := m.readVariable(variable, true)
		if err != nil {
			return err
		}
		return m.writeVariable(variable, v-1, true)
	case 7: // print_addr
		text, _, err := zstring.Decode(m.mem, uint32(ops[0]), m.core.Version, m.alphabets, m.core.AbbreviationTableBase)
		if err != nil {
			return err
		}
		return m.appendText(text)
	case 8: // call_1s
		return m.call(ops, zframe.Function, d.HasStore, d.StoreVariable)
	case 9: // remove_obj
		return zobject.Remove(m.mem, m.core, m.core.ObjectTableBase, ops[0])
	case 10: // print_obj
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		return m.appendText(obj.Name)
	case 11: // ret
		return m.retValue(ops[0])
	case 12: // jump
		m.pc = uint32(int64(m.pc) + int64(int16(ops[0])) - 2)
		return nil
	case 13: // print_paddr
		addr := m.core.UnpackString(ops[0])
		text, _, err := zstring.Decode(m.mem, addr, m.core.Version, m.alphabets, m.core.AbbreviationTableBase)
		if err != nil {
			return err
		}
		return m.appendText(text)
	case 14: // load
		v, err := m.readVariable(uint8(ops[0]), true)
		if err != nil {
			return err
		}
		return m.writeVariable(d.StoreVariable, v, false)
	case 15: // not (pre-v5) / call_1n (v5+)
		if m.core.Version < 5 {
			return m.writeVariable(d.StoreVariable, ^ops[0], false)
		}
		return m.call(ops, zframe.Procedure, false, 0)
	default:
		return fmt.Errorf("unimplemented 1OP opcode %#x at %#x: %w", d.OpcodeByte, m.pc, zerr.ErrUnknownOpcode)
	}
}

func (m *Machine) executeOp2(d *zinstr.Decoded, ops []uint16) error {
	switch d.OpcodeNumber {
	case 1: // je
		for _, b := range ops[1:] {
			if ops[0] == b {
				return m.handleBranch(d.Branch, true)
			}
		}
		return m.handleBranch(d.Branch, false)
	case 2: // jl
		return m.handleBranch(d.Branch, int16(ops[0]) < int16(ops[1]))
	case 3: // jg
		return m.handleBranch(d.Branch, int16(ops[0]) > int16(ops[1]))
	case 4: // dec_chk
		variable := uint8(ops[0])
		v, err := m.readVariable(variable, true)
		if err != nil {
			return err
		}
		newValue := int16(v) - 1
		if err := m.writeVariable(variable, uint16(newValue), true); err != nil {
			return err
		}
		return m.handleBranch(d.Branch, newValue < int16(ops[1]))
	case 5: // inc_chk
		variable := uint8(ops[0])
		v, err := m.readVariable(variable, true)
		if err != nil {
			return err
		}
		newValue := int16(v) + 1
		if err := m.writeVariable(variable, uint16(newValue), true); err != nil {
			return err
		}
		return m.handleBranch(d.Branch, newValue > int16(ops[1]))
	case 6: // jin
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		return m.handleBranch(d.Branch, obj.Parent == ops[1])
	case 7: // test
		return m.handleBranch(d.Branch, ops[0]&ops[1] == ops[1])
	case 8: // or
		return m.writeVariable(d.StoreVariable, ops[0]|ops[1], false)
	case 9: // and
		return m.writeVariable(d.StoreVariable, ops[0]&ops[1], false)
	case 10: // test_attr
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		return m.handleBranch(d.Branch, obj.TestAttribute(ops[1]))
	case 11: // set_attr
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		return obj.SetAttribute(ops[1], m.mem, m.core.Version)
	case 12: // clear_attr
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		return obj.ClearAttribute(ops[1], m.mem, m.core.Version)
	case 13: // store
		return m.writeVariable(uint8(ops[0]), ops[1], true)
	case 14: // insert_obj
		return zobject.Insert(m.mem, m.core, m.core.ObjectTableBase, ops[0], ops[1])
	case 15: // loadw
		v, err := m.mem.ReadWord(uint32(ops[0]) + 2*uint32(ops[1]))
		if err != nil {
			return err
		}
		return m.writeVariable(d.StoreVariable, v, false)
	case 16: // loadb
		v, err := m.mem.ReadByte(uint32(ops[0]) + uint32(ops[1]))
		if err != nil {
			return err
		}
		return m.writeVariable(d.StoreVariable, uint16(v), false)
	case 17: // get_prop
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		prop, err := obj.GetProperty(m.mem, m.core.Version, m.core.ObjectTableBase, uint8(ops[1]))
		if err != nil {
			return err
		}
		data, err := prop.Data(m.mem)
		if err != nil {
			return err
		}
		var value uint16
		switch len(data) {
		case 1:
			value = uint16(data[0])
		case 2:
			value = uint16(data[0])<<8 | uint16(data[1])
		default:
			return fmt.Errorf("get_prop: property %d on object %d has length %d: %w", ops[1], ops[0], len(data), zerr.ErrMalformedInstruction)
		}
		return m.writeVariable(d.StoreVariable, value, false)
	case 18: // get_prop_addr
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		addr, err := obj.GetPropertyAddr(m.mem, m.core.Version, uint8(ops[1]))
		if err != nil {
			return err
		}
		return m.writeVariable(d.StoreVariable, uint16(addr), false)
	case 19: // get_next_prop
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		next, err := obj.GetNextProperty(m.mem, m.core.Version, m.core.ObjectTableBase, uint8(ops[1]))
		if err != nil {
			return err
		}
		return m.writeVariable(d.StoreVariable, uint16(next), false)
	case 20: // add
		return m.writeVariable(d.StoreVariable, ops[0]+ops[1], false)
	case 21: // sub
		return m.writeVariable(d.StoreVariable, ops[0]-ops[1], false)
	case 22: // mul
		return m.writeVariable(d.StoreVariable, ops[0]*ops[1], false)
	case 23: // div
		denominator := int16(ops[1])
		if denominator == 0 {
			return fmt.Errorf("div by zero: %w", zerr.ErrDivideByZero)
		}
		return m.writeVariable(d.StoreVariable, uint16(int16(ops[0])/denominator), false)
	case 24: // mod
		denominator := int16(ops[1])
		if denominator == 0 {
			return fmt.Errorf("mod by zero: %w", zerr.ErrDivideByZero)
		}
		return m.writeVariable(d.StoreVariable, uint16(int16(ops[0])%denominator), false)
	case 25: // call_2s
		return m.call(ops, zframe.Function, d.HasStore, d.StoreVariable)
	case 26: // call_2n
		return m.call(ops, zframe.Procedure, false, 0)
	case 27: // set_colour
		m.warnOnce("set_colour", "set_colour is a no-op (no true-color rendering)")
		return nil
	case 28: // throw
		return fmt.Errorf("throw is not supported (no catch frames): %w", zerr.ErrUnknownOpcode)
	default:
		return fmt.Errorf("unimplemented 2OP opcode %#x at %#x: %w", d.OpcodeByte, m.pc, zerr.ErrUnknownOpcode)
	}
}

func (m *Machine) executeVar(d *zinstr.Decoded, ops []uint16) error {
	switch d.OpcodeNumber {
	case 0: // call / call_vs
		return m.call(ops, zframe.Function, d.HasStore, d.StoreVariable)
	case 1: // storew
		return m.mem.WriteWord(uint32(ops[0])+2*uint32(ops[1]), ops[2])
	case 2: // storeb
		return m.mem.WriteByte(uint32(ops[0])+uint32(ops[1]), uint8(ops[2]))
	case 3: // put_prop
		obj, err := zobject.Get(m.mem, m.core, m.alphabets, m.core.ObjectTableBase, ops[0])
		if err != nil {
			return err
		}
		return obj.SetProperty(m.mem, m.core.Version, uint8(ops[1]), ops[2])
	case 4: // sread / aread
		return m.opRead(d, ops)
	case 5: // print_char
		if ops[0] != 0 {
			return m.appendText(string(rune(ops[0])))
		}
		return nil
	case 6: // print_num
		return m.appendText(strconv.Itoa(int(int16(ops[0]))))
	case 7: // random
		return m.opRandom(d, ops)
	case 8: // push
		frame, err := m.currentFrame()
		if err != nil {
			return err
		}
		frame.Push(ops[0])
		return nil
	case 9: // pull
		frame, err := m.currentFrame()
		if err != nil {
			return err
		}
		if m.core.Version == 6 && len(ops) == 0 {
			v, err := frame.Pop()
			if err != nil {
				return err
			}
			return m.writeVariable(d.StoreVariable, v, false)
		}
		v, err := frame.Pop()
		if err != nil {
			return err
		}
		return m.writeVariable(uint8(ops[0]), v, true)
	case 10: // split_window
		m.screen.UpperWindowHeight = int(ops[0])
		return nil
	case 11: // set_window
		m.screen.LowerWindowActive = ops[0] == 0
		return nil
	case 12: // call_vs2
		return m.call(ops, zframe.Function, d.HasStore, d.StoreVariable)
	case 13: // erase_window
		window := int16(ops[0])
		if window == 1 || window == -1 {
			m.screen.LowerWindowActive = true
			m.screen.UpperWindowHeight = 0
		}
		m.host.Message("erase-window", window)
		return nil
	case 14: // erase_line
		return nil
	case 15: // set_cursor
		if !m.screen.LowerWindowActive {
			m.screen.UpperWindowCursorY = int(ops[0])
			m.screen.UpperWindowCursorX = int(ops[1])
		}
		return nil
	case 16: // get_cursor
		return nil
	case 17: // set_text_style
		style := TextStyle(ops[0])
		if m.screen.LowerWindowActive {
			m.screen.LowerWindowTextStyle = style
		} else {
			m.screen.UpperWindowTextStyle = style
		}
		return nil
	case 18: // buffer_mode
		return nil
	case 19: // output_stream
		return m.opOutputStream(int16(ops[0]), ops)
	case 20: // input_stream
		return nil
	case 21: // sound_effect
		return nil
	case 22: // read_char
		m.host.Flush()
		c := m.host.GetCharacter()
		return m.writeVariable(d.StoreVariable, uint16(c), false)
	case 23: // scan_table
		form := uint16(0x82)
		if len(ops) == 4 {
			form = ops[3]
		}
		addr, err := ztable.ScanTable(m.mem, ops[0], uint32(ops[1]), ops[2], form)
		if err != nil {
			return err
		}
		if err := m.writeVariable(d.StoreVariable, uint16(addr), false); err != nil {
			return err
		}
		return m.handleBranch(d.Branch, addr != 0)
	case 24: // not
		return m.writeVariable(d.StoreVariable, ^ops[0], false)
	case 25: // call_vn
		return m.call(ops, zframe.Procedure, false, 0)
	case 26: // call_vn2
		return m.call(ops, zframe.Procedure, false, 0)
	case 27: // tokenise
		dict := m.dict
		if len(ops) > 2 && ops[2] != 0 {
			custom, err := dictionary.Parse(m.mem, uint32(ops[2]), m.core.Version, m.alphabets, m.core.AbbreviationTableBase)
			if err != nil {
				return err
			}
			dict = custom
		}
		return m.tokenise(uint32(ops[0]), uint32(ops[1]), dict)
	case 28: // encode_text
		return fmt.Errorf("encode_text is not implemented: %w", zerr.ErrUnknownOpcode)
	case 29: // copy_table
		return ztable.CopyTable(m.mem, ops[0], ops[1], int16(ops[2]))
	case 30: // print_table
		height := uint16(1)
		skip := uint16(0)
		if len(ops) > 2 {
			height = ops[2]
			if len(ops) > 3 {
				skip = ops[3]
			}
		}
		text, err := ztable.PrintTable(m.mem, uint32(ops[0]), ops[1], height, skip)
		if err != nil {
			return err
		}
		return m.appendText(text)
	case 31: // check_arg_count
		frame, err := m.currentFrame()
		if err != nil {
			return err
		}
		return m.handleBranch(d.Branch, int(ops[0]) <= frame.ArgCount)
	default:
		return fmt.Errorf("unimplemented VAR opcode %#x at %#x: %w", d.OpcodeByte, m.pc, zerr.ErrUnknownOpcode)
	}
}

func (m *Machine) executeExt(d *zinstr.Decoded, ops []uint16) error {
	switch d.OpcodeNumber {
	case 0x00: // save
		return m.opSaveOrRestore(d)
	case 0x01: // restore
		return m.opSaveOrRestore(d)
	case 0x02: // log_shift
		places := int16(ops[1])
		var result uint16
		if places >= 0 {
			result = ops[0] << uint16(places)
		} else {
			result = ops[0] >> uint16(-places)
		}
		return m.writeVariable(d.StoreVariable, result, false)
	case 0x03: // art_shift
		places := int16(ops[1])
		n := int16(ops[0])
		var result int16
		if places >= 0 {
			result = n << uint16(places)
		} else {
			result = n >> uint16(-places)
		}
		return m.writeVariable(d.StoreVariable, uint16(result), false)
	case 0x04: // set_font
		return m.writeVariable(d.StoreVariable, uint16(FontNormal), false)
	case 0x09: // save_undo
		blob, err := m.snapshotForSave(d)
		if err != nil {
			return err
		}
		m.undoRing.Push(blob)
		return m.writeVariable(d.StoreVariable, 1, false)
	case 0x0a: // restore_undo
		snapshot, ok := m.undoRing.Undo(m.snapshotBytes())
		if !ok {
			return m.writeVariable(d.StoreVariable, 0, false)
		}
		return m.restoreSnapshotBytes(snapshot) // baked-in store value of 2 already applied at save_undo time
	case 0x0b: // print_unicode
		return m.appendText(string(rune(ops[0])))
	case 0x0c: // check_unicode
		result := uint16(0)
		if ops[0] != 0 {
			result = 0b11
		}
		return m.writeVariable(d.StoreVariable, result, false)
	case 0x0d: // set_true_colour
		m.warnOnce("set_true_colour", "set_true_colour is a no-op (no true-color rendering)")
		return nil
	default:
		return fmt.Errorf("unimplemented EXT opcode %#x at %#x: %w", d.OpcodeByte, m.pc, zerr.ErrUnknownOpcode)
	}
}

func (m *Machine) opRandom(d *zinstr.Decoded, ops []uint16) error {
	n := int16(ops[0])
	var result uint16
	switch {
	case n < 0:
		m.rng = rand.New(rand.NewSource(-int64(n)))
	case n == 0:
		m.rng = rand.New(rand.NewSource(hostEntropySeed()))
	default:
		result = uint16(m.rng.Int31n(int32(n))) + 1
	}
	return m.writeVariable(d.StoreVariable, result, false)
}

func (m *Machine) opOutputStream(stream int16, ops []uint16) error {
	switch stream {
	case 1, -1:
		m.stream.screen = stream > 0
	case 2, -2:
		m.stream.transcript = stream > 0
	case 3:
		m.stream.memory = true
		m.stream.memoryStreams = append(m.stream.memoryStreams, memoryStream{
			baseAddress: uint32(ops[1]),
			ptr:         uint32(ops[1]) + 2,
		})
	case -3:
		if m.stream.memory && len(m.stream.memoryStreams) > 0 {
			active := m.stream.memoryStreams[len(m.stream.memoryStreams)-1]
			if err := m.mem.WriteWord(active.baseAddress, uint16(active.ptr-active.baseAddress-2)); err != nil {
				return err
			}
			m.stream.memoryStreams = m.stream.memoryStreams[:len(m.stream.memoryStreams)-1]
			m.stream.memory = len(m.stream.memoryStreams) > 0
		}
	case 4, -4:
		m.stream.commandScript = stream > 0
	}
	return nil
}

// opRead implements sread/aread (spec section 4.2 tokenization, section
// 7 SREAD semantics): pre-v4 pushes a status bar update first; v5+ stores
// 13 (newline) as the terminator. The header's terminating-character table
// is not consulted.
func (m *Machine) opRead(d *zinstr.Decoded, ops []uint16) error {
	if m.core.Version <= 3 {
		if err := m.pushStatusBar(); err != nil {
			return err
		}
	}

	m.pushTurnSnapshot()

	m.host.Flush()
	raw := strings.ToLower(m.host.GetInput())
	rawBytes := []byte(raw)

	textBufferPtr := uint32(ops[0])
	bufferSize, err := m.mem.ReadByte(textBufferPtr)
	if err != nil {
		return err
	}
	textBufferPtr++

	if m.core.Version >= 5 {
		existing, err := m.mem.ReadByte(textBufferPtr)
		if err != nil {
			return err
		}
		textBufferPtr += 1 + uint32(existing)
	}

	ix := 0
	for ix < len(rawBytes) && ix <= int(bufferSize) {
		chr := rawBytes[ix]
		if !((chr >= 32 && chr <= 126) || (chr >= 155 && chr <= 251)) {
			chr = 32
		}
		if err := m.mem.WriteByte(textBufferPtr+uint32(ix), chr); err != nil {
			return err
		}
		ix++
	}
	if err := m.mem.WriteByte(textBufferPtr+uint32(ix), 0); err != nil {
		return err
	}

	if m.core.Version >= 5 {
		if err := m.mem.WriteByte(uint32(ops[0])+1, uint8(ix)); err != nil {
			return err
		}
	}

	if len(ops) > 1 && ops[1] != 0 {
		if err := m.tokenise(uint32(ops[0]), uint32(ops[1]), m.dict); err != nil {
			return err
		}
	}

	if m.core.Version >= 5 {
		return m.writeVariable(d.StoreVariable, 13, false)
	}
	return nil
}

type tokenWord struct {
	bytes      []byte
	start      uint32
	dictionary uint16
}

func (m *Machine) tokeniseSingleWord(raw []byte, start uint32, dict *dictionary.Dictionary) tokenWord {
	runes := []rune(string(raw))
	width := zstring.EncodedWidth(m.core.Version)
	encoded := zstring.Encode(runes, m.core.Version, m.alphabets, width)
	return tokenWord{bytes: raw, start: start, dictionary: dict.Find(encoded)}
}

// tokenise implements the tokenise/sread word-splitting pass (spec
// section 4.2): splits on spaces and the dictionary's own separator set,
// keeping separators themselves as single-character tokens.
func (m *Machine) tokenise(textAddr, parseAddr uint32, dict *dictionary.Dictionary) error {
	start := textAddr + 1
	var charCount uint32
	if m.core.Version >= 5 {
		n, err := m.mem.ReadByte(start)
		if err != nil {
			return err
		}
		charCount = uint32(n)
		start++
	} else {
		for i := uint32(0); ; i++ {
			b, err := m.mem.ReadByte(start + i)
			if err != nil || b == 0 {
				break
			}
			charCount++
		}
	}

	var words []tokenWord
	wordStart := start
	cur := start
	for i := uint32(0); i < charCount; i++ {
		b, err := m.mem.ReadByte(cur)
		if err != nil {
			return err
		}

		isSeparator := false
		for _, sep := range dict.Header.InputCodes {
			if b == sep {
				isSeparator = true
				break
			}
		}

		if b == ' ' || isSeparator {
			if cur > wordStart {
				raw, err := m.mem.Slice(wordStart, cur)
				if err != nil {
					return err
				}
				words = append(words, m.tokeniseSingleWord(raw, wordStart, dict))
			}
			if isSeparator {
				raw, err := m.mem.Slice(cur, cur+1)
				if err != nil {
					return err
				}
				words = append(words, m.tokeniseSingleWord(raw, cur, dict))
			}
			wordStart = cur + 1
		}

		cur++
	}
	if cur > wordStart {
		raw, err := m.mem.Slice(wordStart, cur)
		if err != nil {
			return err
		}
		words = append(words, m.tokeniseSingleWord(raw, wordStart, dict))
	}

	maxWords, err := m.mem.ReadByte(parseAddr)
	if err != nil {
		return err
	}
	if len(words) > int(maxWords) {
		words = words[:maxWords]
	}

	ptr := parseAddr + 1
	if err := m.mem.WriteByte(ptr, uint8(len(words))); err != nil {
		return err
	}
	ptr++
	for _, w := range words {
		if err := m.mem.WriteWord(ptr, w.dictionary); err != nil {
			return err
		}
		if err := m.mem.WriteByte(ptr+2, uint8(len(w.bytes))); err != nil {
			return err
		}
		if err := m.mem.WriteByte(ptr+3, uint8(w.start-textAddr)); err != nil {
			return err
		}
		ptr += 4
	}
	return nil
}

// snapshotBytes captures a raw Quetzal-encoded blob of the current engine
// state, used by both save/restore and save_undo/restore_undo.
func (m *Machine) snapshotBytes() []uint8 {
	clone := m.frames.Clone()
	frames := clone.Frames()
	return quetzal.Encode(m.pc, m.mem.Dynamic(), m.original, frames, m.core.ReleaseNumber, m.core.SerialNumber, m.core.FileChecksumHeader)
}

func (m *Machine) restoreSnapshotBytes(blob []uint8) error {
	save, err := quetzal.Decode(blob, m.original)
	if err != nil {
		return err
	}
	if err := m.mem.SetDynamic(save.Memory); err != nil {
		return err
	}
	m.frames.Restore(save.Frames)
	m.pc = save.PC
	return nil
}

// snapshotForSave captures a Quetzal snapshot of the state a successful
// future restore should resume into: restore/restore_undo never return to
// their own call site, they resume as though the matching save/save_undo
// had just reported success with value 2 instead of 1 (spec section 4.6,
// "restore"). To produce that without threading extra metadata through
// the Quetzal format, the result slot is written with the restore-time
// value *before* snapshotting; the save path then overwrites it with the
// real save-time value once the blob has already been captured.
func (m *Machine) snapshotForSave(d *zinstr.Decoded) ([]uint8, error) {
	if d.HasStore {
		if err := m.writeVariable(d.StoreVariable, 2, false); err != nil {
			return nil, err
		}
		return m.snapshotBytes(), nil
	}

	// Pre-v4 branch form: a restore "succeeding" is equivalent to the
	// save itself having branched true, which is also save's own real
	// outcome here - bake the branch in once and reuse it for both.
	if err := m.handleBranch(d.Branch, true); err != nil {
		return nil, err
	}
	return m.snapshotBytes(), nil
}

// opSaveOrRestore handles the OP0 (pre-v5 branch/v4 store) and EXT (v5+
// store) forms of save/restore identically: both produce or consume a
// SaveSecurity-wrapped, base64-transported Quetzal blob via the host
// message channel, never touching engine state on failure (spec section
// 7's error propagation policy: save/restore errors are reported, not
// fatal).
func (m *Machine) opSaveOrRestore(d *zinstr.Decoded) error {
	isSave := (d.Form == zinstr.ExtForm && d.OpcodeNumber == 0x00) || (d.Form != zinstr.ExtForm && d.OpcodeNumber == 5)

	if isSave {
		blob, err := m.snapshotForSave(d)
		if err != nil {
			return err
		}
		m.host.Message("save", savesecurity.SealToString(blob, m.saveKey))
		if d.HasStore {
			return m.writeVariable(d.StoreVariable, 1, false)
		}
		return nil // branch form: already baked true above, matching save's own outcome
	}

	m.host.Flush()
	blob, ok := m.host.RequestRestore()
	if !ok {
		if d.HasStore {
			return m.writeVariable(d.StoreVariable, 0, false)
		}
		return m.handleBranch(d.Branch, false)
	}
	if err := m.Restore(blob); err != nil {
		m.host.Message("warning", fmt.Sprintf("restore rejected: %v", err))
		if d.HasStore {
			return m.writeVariable(d.StoreVariable, 0, false)
		}
		return m.handleBranch(d.Branch, false)
	}
	return nil // success: the restored state already encodes the post-restore outcome
}

// Save produces a SaveSecurity-wrapped, base64-encoded Quetzal blob of
// the current engine state (spec section 4.6, 7.2). This is the
// canonical host-facing save entry point; the save/restore opcodes above
// only cover a story's own in-band save/restore instructions.
func (m *Machine) Save() string {
	return savesecurity.SealToString(m.snapshotBytes(), m.saveKey)
}

// Restore validates and applies a blob produced by Save. Per spec
// section 7's recommendation there is no lenient variant: a tampered or
// truncated blob is rejected outright and engine state is left untouched.
func (m *Machine) Restore(blob string) error {
	raw, err := savesecurity.OpenFromString(blob, m.saveKey)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	return m.restoreSnapshotBytes(raw)
}

// Undo reverts to the most recently save_undo'd checkpoint, for a
// host-level "undo" command outside the story's own
// save_undo/restore_undo opcodes (spec section 6's undo() -> bool). It
// reports false and leaves engine state untouched if no checkpoint
// exists. A successful Undo arms exactly one matching Redo, valid only
// until the next Step (spec section 4.7).
func (m *Machine) Undo() bool {
	snapshot, ok := m.undoRing.Undo(m.snapshotBytes())
	if !ok {
		return false
	}
	if err := m.restoreSnapshotBytes(snapshot); err != nil {
		return false
	}
	m.redoArmed = true
	return true
}

// Redo reverses the most recent Undo, if it is still armed (spec section
// 6's redo() -> bool; section 4.7's redo history is discarded the moment
// any further instruction executes).
func (m *Machine) Redo() bool {
	if !m.redoArmed {
		return false
	}
	m.redoArmed = false
	snapshot, ok := m.undoRing.Redo(m.snapshotBytes())
	if !ok {
		return false
	}
	if err := m.restoreSnapshotBytes(snapshot); err != nil {
		return false
	}
	return true
}

// propertyByDataAddress recovers a property's length given the data
// address get_prop_addr/the story handed back, by re-reading the size
// byte(s) immediately preceding it (spec section 4.5 "get_prop_len").
func propertyByDataAddress(mem *zmem.Memory, dataAddr uint32, version uint8) (uint8, error) {
	if dataAddr == 0 {
		return 0, nil
	}

	sizeByte, err := mem.ReadByte(dataAddr - 1)
	if err != nil {
		return 0, err
	}

	if version <= 3 {
		return (sizeByte >> 5) + 1, nil
	}

	if sizeByte>>7 == 1 {
		length := sizeByte & 0b11_1111
		if length == 0 {
			length = 64
		}
		return length, nil
	}
	return ((sizeByte >> 6) & 1) + 1, nil
}
