package host

import "testing"

// recordingHost is a minimal Host implementation used to confirm the
// interface is satisfiable and to capture calls for assertions elsewhere
// in the test suite (zmachine engine tests reuse this shape).
type recordingHost struct {
	printed   []string
	messages  map[string]any
	statusBar StatusBar
	input     string
}

func (h *recordingHost) Print(text string)        { h.printed = append(h.printed, text) }
func (h *recordingHost) NewLine()                  { h.printed = append(h.printed, "\n") }
func (h *recordingHost) PrintObject(name string)   { h.printed = append(h.printed, name) }
func (h *recordingHost) PrintASCIIArt(key string)  {}
func (h *recordingHost) SetStatusBar(bar StatusBar) { h.statusBar = bar }
func (h *recordingHost) Message(channel string, payload any) {
	if h.messages == nil {
		h.messages = map[string]any{}
	}
	h.messages[channel] = payload
}
func (h *recordingHost) Flush()             {}
func (h *recordingHost) GetInput() string   { return h.input }
func (h *recordingHost) GetCharacter() uint8 { return 0 }
func (h *recordingHost) RequestRestore() (string, bool) { return "", false }

var _ Host = (*recordingHost)(nil)

func TestRecordingHostCapturesMessages(t *testing.T) {
	h := &recordingHost{}
	h.Message("tree", ObjectSnapshot{Id: 1, Name: "West of House"})

	got, ok := h.messages["tree"].(ObjectSnapshot)
	if !ok {
		t.Fatalf("expected an ObjectSnapshot on the tree channel, got %v", h.messages["tree"])
	}
	if got.Name != "West of House" {
		t.Fatalf("expected name %q, got %q", "West of House", got.Name)
	}
}
