package zmachine_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/davetcode/goz/host"
	"github.com/davetcode/goz/zerr"
	"github.com/davetcode/goz/zmachine"
)

// recordingHost is a minimal host.Host used to drive and observe a Machine
// in tests; it never blocks, since GetInput and GetCharacter return canned
// values immediately.
type recordingHost struct {
	printed      []string
	messages     map[string]any
	statusBar    host.StatusBar
	input        string
	restoreBlob  string
	restoreReady bool
}

func (h *recordingHost) Print(text string)       { h.printed = append(h.printed, text) }
func (h *recordingHost) NewLine()                { h.printed = append(h.printed, "\n") }
func (h *recordingHost) PrintObject(name string) { h.printed = append(h.printed, name) }
func (h *recordingHost) PrintASCIIArt(key string) {}
func (h *recordingHost) SetStatusBar(bar host.StatusBar) { h.statusBar = bar }
func (h *recordingHost) Message(channel string, payload any) {
	if h.messages == nil {
		h.messages = map[string]any{}
	}
	h.messages[channel] = payload
}
func (h *recordingHost) Flush()              {}
func (h *recordingHost) GetInput() string    { return h.input }
func (h *recordingHost) GetCharacter() uint8 { return 0 }
func (h *recordingHost) RequestRestore() (string, bool) {
	return h.restoreBlob, h.restoreReady
}

var _ host.Host = (*recordingHost)(nil)

func (h *recordingHost) allPrinted() string { return strings.Join(h.printed, "") }

// buildV3Story lays out a minimal, self-consistent v3 header plus a fixed
// two-object table, an empty dictionary and a 240-word global table, and
// drops program at the first-instruction address. The object table shape
// mirrors zobject/object_test.go's buildV1Object technique, extended to two
// objects so insert_obj/remove_obj have something to rearrange.
func buildV3Story(t *testing.T, program []uint8) []uint8 {
	t.Helper()

	const objectTableBase = 0x0040
	const defaultsSize = 62 // 31 words, v1-3
	const obj1Base = objectTableBase + defaultsSize
	const obj2Base = obj1Base + 9
	const propTable1 = obj2Base + 9
	const propTable2 = propTable1 + 2
	const dictionaryBase = propTable2 + 2
	const globalBase = dictionaryBase + 4
	const staticBase = globalBase + 240*2

	buf := make([]uint8, staticBase+len(program))

	buf[0x00] = 3 // version
	buf[0x06] = uint8(staticBase >> 8)
	buf[0x07] = uint8(staticBase & 0xff)
	buf[0x08] = uint8(dictionaryBase >> 8)
	buf[0x09] = uint8(dictionaryBase)
	buf[0x0a] = uint8(objectTableBase >> 8)
	buf[0x0b] = uint8(objectTableBase)
	buf[0x0c] = uint8(globalBase >> 8)
	buf[0x0d] = uint8(globalBase)
	buf[0x0e] = uint8(staticBase >> 8)
	buf[0x0f] = uint8(staticBase & 0xff)

	// Object 1: propPtr -> propTable1.
	buf[obj1Base+7] = uint8(propTable1 >> 8)
	buf[obj1Base+8] = uint8(propTable1)
	// Object 2: propPtr -> propTable2.
	buf[obj2Base+7] = uint8(propTable2 >> 8)
	buf[obj2Base+8] = uint8(propTable2)
	// Both property tables: name length 0, terminator 0.
	buf[propTable1] = 0
	buf[propTable1+1] = 0
	buf[propTable2] = 0
	buf[propTable2+1] = 0

	// Dictionary: no input codes, entry length 7, zero entries.
	buf[dictionaryBase] = 0
	buf[dictionaryBase+1] = 7
	buf[dictionaryBase+2] = 0
	buf[dictionaryBase+3] = 0

	copy(buf[staticBase:], program)
	return buf
}

func loadTestMachine(t *testing.T, program []uint8) (*zmachine.Machine, *recordingHost) {
	t.Helper()
	h := &recordingHost{}
	m, err := zmachine.LoadRom(buildV3Story(t, program), h, zmachine.Options{RandSeed: 1})
	if err != nil {
		t.Fatalf("LoadRom: %v", err)
	}
	return m, h
}

func runUntilQuit(t *testing.T, m *zmachine.Machine, maxSteps int) {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		more, err := m.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !more {
			return
		}
	}
	t.Fatalf("program did not quit within %d steps", maxSteps)
}

// TestAddAndPrintNum exercises add (2OP:20), store, print_num (VAR:6),
// new_line and quit end to end through Step.
func TestAddAndPrintNum(t *testing.T) {
	program := []uint8{
		0x14, 5, 3, 16, // add 5 3 -> G00 (variable 16)
		0xE6, 0xBF, 16, // print_num G00
		0xBB, // new_line
		0xBA, // quit
	}
	m, h := loadTestMachine(t, program)
	runUntilQuit(t, m, 10)

	if !m.Quit() {
		t.Fatalf("expected the machine to have quit")
	}
	if got := h.allPrinted(); got != "8\n" {
		t.Fatalf("expected printed output %q, got %q", "8\n", got)
	}
}

// TestDivideByZero confirms div (2OP:23) reports zerr.ErrDivideByZero
// instead of panicking.
func TestDivideByZero(t *testing.T) {
	program := []uint8{
		0x17, 10, 0, 16, // div 10 0 -> G00
	}
	m, _ := loadTestMachine(t, program)

	_, err := m.Step()
	if err == nil {
		t.Fatalf("expected an error dividing by zero")
	}
	if !errors.Is(err, zerr.ErrDivideByZero) {
		t.Fatalf("expected zerr.ErrDivideByZero, got %v", err)
	}
}

// TestInsertAndRemoveObject exercises insert_obj (2OP:14) and remove_obj
// (1OP:9) against the object tree, observed through the host-facing
// ObjectTree snapshot rather than by peeking at raw memory.
func TestInsertAndRemoveObject(t *testing.T) {
	program := []uint8{
		0x0E, 1, 2, // insert_obj 1 2
		0x99, 1, // remove_obj 1
		0xBA, // quit
	}
	m, _ := loadTestMachine(t, program)

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (insert_obj): %v", err)
	}
	tree, err := m.ObjectTree()
	if err != nil {
		t.Fatalf("ObjectTree: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(tree))
	}
	if tree[0].Parent != 2 {
		t.Fatalf("expected object 1's parent to be 2 after insert_obj, got %d", tree[0].Parent)
	}
	if len(tree[1].Children) != 1 || tree[1].Children[0] != 1 {
		t.Fatalf("expected object 2 to have object 1 as a child, got %v", tree[1].Children)
	}

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (remove_obj): %v", err)
	}
	tree, err = m.ObjectTree()
	if err != nil {
		t.Fatalf("ObjectTree after remove_obj: %v", err)
	}
	if tree[0].Parent != 0 {
		t.Fatalf("expected object 1 to be parentless after remove_obj, got %d", tree[0].Parent)
	}
}

// TestSaveRestoreRoundTrip exercises the canonical host-facing Save/Restore
// API (not the in-band save/restore opcodes): a snapshot taken mid-program,
// applied after further mutation, must put every global back exactly as it
// was at snapshot time. G00 is stored with object ids so the result can be
// read back through the exported CurrentRoom accessor rather than peeking
// at raw memory.
func TestSaveRestoreRoundTrip(t *testing.T) {
	program := []uint8{
		0x0D, 16, 1, // store G00 <- 1
		0x0D, 16, 2, // store G00 <- 2
		0xBA, // quit
	}
	m, _ := loadTestMachine(t, program)

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (store G00<-1): %v", err)
	}
	blob := m.Save()

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (store G00<-2): %v", err)
	}
	room, err := m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom: %v", err)
	}
	if room.Id != 2 {
		t.Fatalf("expected G00 to read 2 before restore, got %d", room.Id)
	}

	if err := m.Restore(blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	room, err = m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom after restore: %v", err)
	}
	if room.Id != 1 {
		t.Fatalf("expected restore to put G00 back to 1, got %d", room.Id)
	}
}

// TestSaveSecurityRejectsTamperedBlob confirms a corrupted save blob is
// rejected outright, per spec's "no lenient variant" decision, leaving the
// machine's own state untouched.
func TestSaveSecurityRejectsTamperedBlob(t *testing.T) {
	program := []uint8{0x14, 5, 3, 16}
	m, _ := loadTestMachine(t, program)
	if _, err := m.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	blob := m.Save()

	tampered := []byte(blob)
	tampered[len(tampered)/2] ^= 0xff

	if err := m.Restore(string(tampered)); err == nil {
		t.Fatalf("expected a tampered blob to be rejected")
	}
}

// saveBranchProgram is shared by the two bake-trick tests below: a save (or
// restore) at offset 0-1, a skipped filler store at offset 2-4, the "post
// branch" store at offset 5-7, and a quit at offset 8. Keeping the tail
// identical across the save and restore variants means a restored pc lands
// on a real, matching instruction in either machine's own memory.
func saveBranchProgram(firstOpcode, firstBranch uint8) []uint8 {
	return []uint8{
		firstOpcode, firstBranch, // save/restore; branch true, offset 5
		0x0D, 17, 99, // (skipped on success) store G01 <- 99
		0x0D, 16, 1, // store G00 <- 1 (object id, readable via CurrentRoom)
		0xBA, // quit
	}
}

// TestSaveBranchFormBakesRestoreOutcome exercises the pre-v4 branch form of
// save and the "bake trick": a successful future restore must resume past
// the branch exactly as the original save call did, landing on the same
// "post-branch" instruction rather than re-running the branch or storing
// anything extra of its own.
func TestSaveBranchFormBakesRestoreOutcome(t *testing.T) {
	m, h := loadTestMachine(t, saveBranchProgram(0xB5, 0xC5))
	runUntilQuit(t, m, 10)

	saved, ok := h.messages["save"].(string)
	if !ok || saved == "" {
		t.Fatalf("expected a save message to have been recorded")
	}

	// A second instance of the exact same program: restoring into it should
	// resume right where the original save call baked its pc to, then run
	// the G00<-1 store and quit exactly as the original run did.
	confirm, _ := loadTestMachine(t, saveBranchProgram(0xB5, 0xC5))
	if err := confirm.Restore(saved); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	room, err := confirm.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom: %v", err)
	}
	if room.Id != 0 {
		t.Fatalf("expected G00 to still read its pre-store value right after restore, got %d", room.Id)
	}
	runUntilQuit(t, confirm, 10)
	room, err = confirm.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom after running the restored state: %v", err)
	}
	if room.Id != 1 {
		t.Fatalf("expected the baked global to read 1, got %d", room.Id)
	}
}

// TestInBandRestoreAppliesHostBlob confirms the restore opcode (pulled via
// host.RequestRestore) lands the machine on the already-baked post-restore
// state without performing any store or branch of its own.
func TestInBandRestoreAppliesHostBlob(t *testing.T) {
	saver, sh := loadTestMachine(t, saveBranchProgram(0xB5, 0xC5))
	runUntilQuit(t, saver, 10)
	blob, _ := sh.messages["save"].(string)
	if blob == "" {
		t.Fatalf("expected the saver to have recorded a blob")
	}

	restorer, rh := loadTestMachine(t, saveBranchProgram(0xB6, 0xC5))
	rh.restoreBlob = blob
	rh.restoreReady = true

	if _, err := restorer.Step(); err != nil {
		t.Fatalf("Step (restore): %v", err)
	}
	room, err := restorer.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom: %v", err)
	}
	if room.Id != 0 {
		t.Fatalf("expected G00 to still read its pre-store value right after restore, got %d", room.Id)
	}

	runUntilQuit(t, restorer, 10)
	room, err = restorer.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom after running the restored state: %v", err)
	}
	if room.Id != 1 {
		t.Fatalf("expected the baked global to read 1, got %d", room.Id)
	}
}

// buildV5Story mirrors buildV3Story but with a v4+ (14-byte) object entry
// layout, since save_undo/restore_undo only exist as EXT opcodes (v5+).
func buildV5Story(t *testing.T, program []uint8) []uint8 {
	t.Helper()

	const objectTableBase = 0x0040
	const defaultsSize = 126 // 63 words, v4+
	const obj1Base = objectTableBase + defaultsSize
	const obj2Base = obj1Base + 14
	const propTable1 = obj2Base + 14
	const propTable2 = propTable1 + 2
	const dictionaryBase = propTable2 + 2
	const globalBase = dictionaryBase + 4
	const staticBase = globalBase + 240*2

	buf := make([]uint8, staticBase+len(program))

	buf[0x00] = 5 // version
	buf[0x06] = uint8(staticBase >> 8)
	buf[0x07] = uint8(staticBase & 0xff)
	buf[0x08] = uint8(dictionaryBase >> 8)
	buf[0x09] = uint8(dictionaryBase)
	buf[0x0a] = uint8(objectTableBase >> 8)
	buf[0x0b] = uint8(objectTableBase)
	buf[0x0c] = uint8(globalBase >> 8)
	buf[0x0d] = uint8(globalBase)
	buf[0x0e] = uint8(staticBase >> 8)
	buf[0x0f] = uint8(staticBase & 0xff)

	// Object 1: propPtr -> propTable1.
	buf[obj1Base+12] = uint8(propTable1 >> 8)
	buf[obj1Base+13] = uint8(propTable1)
	// Object 2: propPtr -> propTable2.
	buf[obj2Base+12] = uint8(propTable2 >> 8)
	buf[obj2Base+13] = uint8(propTable2)
	// Both property tables: name length 0, terminator 0.
	buf[propTable1] = 0
	buf[propTable1+1] = 0
	buf[propTable2] = 0
	buf[propTable2+1] = 0

	// Dictionary: no input codes, entry length 9, zero entries.
	buf[dictionaryBase] = 0
	buf[dictionaryBase+1] = 9
	buf[dictionaryBase+2] = 0
	buf[dictionaryBase+3] = 0

	copy(buf[staticBase:], program)
	return buf
}

func loadTestMachineV5(t *testing.T, program []uint8) (*zmachine.Machine, *recordingHost) {
	t.Helper()
	h := &recordingHost{}
	m, err := zmachine.LoadRom(buildV5Story(t, program), h, zmachine.Options{RandSeed: 1})
	if err != nil {
		t.Fatalf("LoadRom: %v", err)
	}
	return m, h
}

// TestSaveUndoRestoreUndoRoundTrip exercises the EXT save_undo/restore_undo
// opcodes (2OP-free, v5+) and their bake-trick semantics: a successful
// restore_undo must resume right after the save_undo call with the global
// baked to the "restore succeeded" value (2), not the real save_undo result
// (1) and not whatever ran in between.
func TestSaveUndoRestoreUndoRoundTrip(t *testing.T) {
	program := []uint8{
		0xBE, 0x09, 0xFF, 16, // EXT save_undo -> store G00
		0x0D, 16, 0, // store G00 <- 0 (no room; only objects 1 and 2 exist)
		0xBE, 0x0A, 0xFF, 17, // EXT restore_undo -> store G01 (unused on success)
		0xBA, // quit
	}
	m, _ := loadTestMachineV5(t, program)

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (save_undo): %v", err)
	}
	room, err := m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom after save_undo: %v", err)
	}
	if room.Id != 1 {
		t.Fatalf("expected save_undo's own result (1) in G00, got %d", room.Id)
	}

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (store G00<-0): %v", err)
	}
	room, err = m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom after store: %v", err)
	}
	if room.Id != 0 {
		t.Fatalf("expected G00 to read 0 before restore_undo, got %d", room.Id)
	}

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (restore_undo): %v", err)
	}
	room, err = m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom after restore_undo: %v", err)
	}
	if room.Id != 2 {
		t.Fatalf("expected restore_undo to bake G00 back to 2, got %d", room.Id)
	}
}

// TestRestoreUndoWithEmptyRingFails confirms restore_undo reports failure
// (stores 0) rather than erroring when no save_undo checkpoint exists.
func TestRestoreUndoWithEmptyRingFails(t *testing.T) {
	program := []uint8{
		0xBE, 0x0A, 0xFF, 16, // EXT restore_undo -> store G00
		0xBA, // quit
	}
	m, _ := loadTestMachineV5(t, program)

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (restore_undo): %v", err)
	}
	room, err := m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom: %v", err)
	}
	if room.Id != 0 {
		t.Fatalf("expected restore_undo with an empty ring to store 0, got %d", room.Id)
	}
}

// TestUndoWithEmptyRingFails confirms the host-facing Undo (distinct from
// the in-game restore_undo opcode above) also reports failure rather than
// touching engine state when no save_undo checkpoint exists yet.
func TestUndoWithEmptyRingFails(t *testing.T) {
	program := []uint8{0xBA} // quit
	m, _ := loadTestMachineV5(t, program)

	if m.Undo() {
		t.Fatalf("expected Undo on an empty ring to fail")
	}
	if m.Redo() {
		t.Fatalf("expected Redo with nothing armed to fail")
	}
}

// TestUndoRedoRoundTrip exercises the host-facing Machine.Undo/Machine.Redo
// pair (spec section 6's undo()/redo() -> bool), as opposed to the story's
// own save_undo/restore_undo opcodes: a save_undo checkpoint taken in-game
// can still be reverted and reapplied from outside the running story.
func TestUndoRedoRoundTrip(t *testing.T) {
	program := []uint8{
		0xBE, 0x09, 0xFF, 16, // EXT save_undo -> store G00 (baked to 2 on restore)
		0x0D, 16, 0, // store G00 <- 0 (no room; only objects 1 and 2 exist)
		0xBA, // quit
	}
	m, _ := loadTestMachineV5(t, program)

	if _, err := m.Step(); err != nil { // save_undo
		t.Fatalf("Step (save_undo): %v", err)
	}
	if _, err := m.Step(); err != nil { // store G00 <- 0
		t.Fatalf("Step (store): %v", err)
	}
	room, err := m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom before Undo: %v", err)
	}
	if room.Id != 0 {
		t.Fatalf("expected G00 to read 0 before Undo, got %d", room.Id)
	}

	if !m.Undo() {
		t.Fatalf("expected Undo to succeed against a save_undo checkpoint")
	}
	room, err = m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom after Undo: %v", err)
	}
	if room.Id != 2 {
		t.Fatalf("expected Undo to bake G00 back to 2, got %d", room.Id)
	}

	if !m.Redo() {
		t.Fatalf("expected Redo to reverse the just-applied Undo")
	}
	room, err = m.CurrentRoom()
	if err != nil {
		t.Fatalf("CurrentRoom after Redo: %v", err)
	}
	if room.Id != 0 {
		t.Fatalf("expected Redo to restore G00 to 0, got %d", room.Id)
	}
}

// TestRedoInvalidatedAfterStep confirms a Redo is only armed up to the next
// Step call (spec section 4.7's "cleared on any mutating opcode after an
// undo"): once the engine has executed another instruction, the redo path
// is gone even though nothing else touched the ring.
func TestRedoInvalidatedAfterStep(t *testing.T) {
	program := []uint8{
		0xBE, 0x09, 0xFF, 16, // EXT save_undo -> store G00
		0x0D, 16, 99, // store G00 <- 99
		0xBA, // quit
	}
	m, _ := loadTestMachineV5(t, program)

	if _, err := m.Step(); err != nil { // save_undo
		t.Fatalf("Step (save_undo): %v", err)
	}
	if _, err := m.Step(); err != nil { // store G00 <- 99
		t.Fatalf("Step (store): %v", err)
	}
	if !m.Undo() {
		t.Fatalf("expected Undo to succeed")
	}

	// Undo leaves pc right after save_undo, so this replays "store G00 <- 99".
	if _, err := m.Step(); err != nil {
		t.Fatalf("Step after Undo: %v", err)
	}
	if m.Redo() {
		t.Fatalf("expected Redo to be invalidated by the intervening Step")
	}
}

// buildV5StoryWithTextBuffer extends buildV5Story with a small dynamic-
// memory scratch region (a game's own input text buffer would normally
// live here) so a test can exercise aread without a decode-time write
// landing in read-only static memory.
func buildV5StoryWithTextBuffer(t *testing.T, program []uint8) ([]uint8, uint16) {
	t.Helper()

	const objectTableBase = 0x0040
	const defaultsSize = 126
	const obj1Base = objectTableBase + defaultsSize
	const obj2Base = obj1Base + 14
	const propTable1 = obj2Base + 14
	const propTable2 = propTable1 + 2
	const dictionaryBase = propTable2 + 2
	const globalBase = dictionaryBase + 4
	const scratchBase = globalBase + 240*2
	const scratchSize = 16
	const staticBase = scratchBase + scratchSize

	buf := make([]uint8, staticBase+len(program))

	buf[0x00] = 5 // version
	buf[0x06] = uint8(staticBase >> 8)
	buf[0x07] = uint8(staticBase & 0xff)
	buf[0x08] = uint8(dictionaryBase >> 8)
	buf[0x09] = uint8(dictionaryBase)
	buf[0x0a] = uint8(objectTableBase >> 8)
	buf[0x0b] = uint8(objectTableBase)
	buf[0x0c] = uint8(globalBase >> 8)
	buf[0x0d] = uint8(globalBase)
	buf[0x0e] = uint8(staticBase >> 8)
	buf[0x0f] = uint8(staticBase & 0xff)

	buf[obj1Base+12] = uint8(propTable1 >> 8)
	buf[obj1Base+13] = uint8(propTable1)
	buf[obj2Base+12] = uint8(propTable2 >> 8)
	buf[obj2Base+13] = uint8(propTable2)
	buf[propTable1] = 0
	buf[propTable1+1] = 0
	buf[propTable2] = 0
	buf[propTable2+1] = 0

	buf[dictionaryBase] = 0
	buf[dictionaryBase+1] = 9
	buf[dictionaryBase+2] = 0
	buf[dictionaryBase+3] = 0

	buf[scratchBase] = 10   // max input length
	buf[scratchBase+1] = 0  // existing typed length (v5+)

	copy(buf[staticBase:], program)
	return buf, uint16(scratchBase)
}

// TestAreadPushesRoomAndTreeSnapshot confirms opRead's turn-boundary push
// (SPEC_FULL.md's supplemented host message-channel feature) actually
// reaches the host once per read, rather than leaving "room"/"tree"
// snapshots as pull-only accessors nothing ever calls automatically.
func TestAreadPushesRoomAndTreeSnapshot(t *testing.T) {
	const storeVariable = 17

	// Placeholder bytes for the text buffer address, patched in below once
	// buildV5StoryWithTextBuffer has told us where the scratch region lands.
	program := []uint8{
		0xE4, 0x3F, 0, 0, storeVariable, // aread scratchBase -> store G01
		0xBA, // quit
	}
	storyBytes, scratchBase := buildV5StoryWithTextBuffer(t, program)
	// Patch the aread operand now that scratchBase is known; offsets are
	// relative to the program slice appended at the story's static base.
	staticBase := uint32(len(storyBytes) - len(program))
	storyBytes[staticBase+2] = uint8(scratchBase >> 8)
	storyBytes[staticBase+3] = uint8(scratchBase)

	h := &recordingHost{}
	m, err := zmachine.LoadRom(storyBytes, h, zmachine.Options{RandSeed: 1})
	if err != nil {
		t.Fatalf("LoadRom: %v", err)
	}

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (aread): %v", err)
	}

	if _, ok := h.messages["room"]; !ok {
		t.Fatalf("expected a \"room\" message at the aread turn boundary")
	}
	if _, ok := h.messages["tree"]; !ok {
		t.Fatalf("expected a \"tree\" message at the aread turn boundary")
	}
}
