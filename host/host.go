// Package host defines the capability-set boundary between the engine and
// its embedding presentation layer (spec section 6 "External interfaces",
// section 9 "Host callback coupling": "Model as an interface/abstract
// contract, not inheritance"). The teacher wires output through untyped
// channels (zmachine.ZMachine.outputChannel chan<- interface{}); this
// package gives that same traffic a typed interface instead, since the
// interpreter is no longer a single TUI-bound binary - cmd/goz's headless
// runner and selectstoryui's bubbletea model both need to implement it.
package host

// StatusBar mirrors the teacher's zmachine.StatusBar payload: either the
// v3 place/score/moves status line or, for time-based games, a place/time
// display using the same fields.
type StatusBar struct {
	PlaceName   string
	Right       string // score/moves rendered as text, or a clock for time-based games
	IsTimeBased bool
}

// ObjectSnapshot is one flattened object-tree node for the "tree" message
// channel (SPEC_FULL.md's supplemented host message-channel feature,
// grounded on wasm/src/lib.rs's push_updates -> ("tree", tree_json)).
type ObjectSnapshot struct {
	Id       uint16   `json:"id"`
	Name     string   `json:"name"`
	Parent   uint16   `json:"parent"`
	Children []uint16 `json:"children"`
}

// RoomSnapshot is the payload for the "room" message channel, grounded on
// push_updates's ("map", room_json).
type RoomSnapshot struct {
	Id   uint16 `json:"id"`
	Name string `json:"name"`
}

// Host is everything the engine needs from its embedding presentation
// layer. The engine never retains a pointer into host-owned buffers across
// a suspension (spec section 9) - every call here is a value handoff.
type Host interface {
	// Print writes text to the currently active window.
	Print(text string)
	// NewLine advances the active window to a new line.
	NewLine()
	// PrintObject writes an object's short name. The engine's print_obj
	// sends the name through Print like other text and does not call this.
	PrintObject(name string)
	// PrintASCIIArt offers a host-supplied decorative art lookup a chance
	// to render art for the named key; core ships no art tables itself
	// (spec.md Non-goals), and the engine does not call this hook.
	PrintASCIIArt(key string)
	// SetStatusBar updates the v3 status line or v4+ window titles.
	SetStatusBar(bar StatusBar)
	// Message delivers a structured, out-of-band notification - room/tree
	// snapshots, hints, or anything else a host wants to observe that
	// isn't part of the transcript.
	Message(channel string, payload any)
	// Flush commits any buffered output before the engine blocks for
	// input.
	Flush()
	// GetInput blocks for a line of player input.
	GetInput() string
	// GetCharacter blocks for a single keystroke (read_char).
	GetCharacter() uint8
	// RequestRestore blocks for a save blob to restore from, for a
	// story's own in-band restore opcode (spec section 4.6). ok is false
	// if the player declined (e.g. cancelled a file picker); the engine
	// leaves its state untouched in that case.
	RequestRestore() (blob string, ok bool)
}
