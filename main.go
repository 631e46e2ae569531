package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davetcode/goz/host"
	"github.com/davetcode/goz/selectstoryui"
	"github.com/davetcode/goz/zmachine"
	"github.com/muesli/reflow/wordwrap"
)

var romFilePath string

// keyToZChar maps Bubble Tea key messages to Z-machine character codes
// (spec section 10.5.2.1: cursor keys, function keys).
func keyToZChar(msg tea.KeyMsg) uint8 {
	switch msg.Type {
	case tea.KeyUp:
		return 129
	case tea.KeyDown:
		return 130
	case tea.KeyLeft:
		return 131
	case tea.KeyRight:
		return 132
	case tea.KeyF1:
		return 133
	case tea.KeyF2:
		return 134
	case tea.KeyF3:
		return 135
	case tea.KeyF4:
		return 136
	case tea.KeyF5:
		return 137
	case tea.KeyF6:
		return 138
	case tea.KeyF7:
		return 139
	case tea.KeyF8:
		return 140
	case tea.KeyF9:
		return 141
	case tea.KeyF10:
		return 142
	case tea.KeyF11:
		return 143
	case tea.KeyF12:
		return 144
	case tea.KeyEscape:
		return 27
	case tea.KeyEnter:
		return 13
	case tea.KeyDelete:
		return 8
	default:
		return 0
	}
}

// requestKind distinguishes the two shapes of blocking read the engine
// can issue; the tuiHost tags each request so Update routes keystrokes to
// the right channel instead of the textinput box.
type requestKind int

const (
	lineRequest requestKind = iota
	charRequest
)

type inputRequestMsg requestKind
type printMsg string
type statusBarMsg host.StatusBar
type warningMsg string
type runtimeErrorMsg string
type engineQuitMsg struct{}

// tuiHost bridges the engine's synchronous Host calls onto bubbletea's
// message loop: every call either posts a message on out (for bubbletea to
// render) or blocks on one of the request channels until Update supplies
// an answer, fed by whatever the player types next. The engine runs its
// Step loop on its own goroutine (see runEngine), so these blocks never
// stall the UI goroutine itself.
type tuiHost struct {
	out     chan any
	lineIn  chan string
	charIn  chan uint8
	romPath string
}

func newTUIHost(romPath string) *tuiHost {
	return &tuiHost{
		out:     make(chan any, 256),
		lineIn:  make(chan string),
		charIn:  make(chan uint8),
		romPath: romPath,
	}
}

func (h *tuiHost) Print(text string)       { h.out <- printMsg(text) }
func (h *tuiHost) NewLine()                { h.out <- printMsg("\n") }
func (h *tuiHost) PrintObject(name string) { h.out <- printMsg(name) }
func (h *tuiHost) PrintASCIIArt(key string) {}

func (h *tuiHost) SetStatusBar(bar host.StatusBar) { h.out <- statusBarMsg(bar) }

func (h *tuiHost) Message(channel string, payload any) {
	switch channel {
	case "warning":
		h.out <- warningMsg(fmt.Sprintf("%v", payload))
	case "save":
		blob, _ := payload.(string)
		_ = os.WriteFile(h.saveFilename(), []byte(blob), 0644)
	}
}

func (h *tuiHost) Flush() {}

func (h *tuiHost) GetInput() string {
	h.out <- inputRequestMsg(lineRequest)
	return <-h.lineIn
}

func (h *tuiHost) GetCharacter() uint8 {
	h.out <- inputRequestMsg(charRequest)
	return <-h.charIn
}

func (h *tuiHost) RequestRestore() (string, bool) {
	data, err := os.ReadFile(h.saveFilename())
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (h *tuiHost) saveFilename() string {
	base := h.romPath
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		base = "game"
	}
	return base + ".sav"
}

var _ host.Host = (*tuiHost)(nil)

// runEngine drives the machine to completion on its own goroutine,
// communicating purely through h.out/h.lineIn/h.charIn - Update never
// touches m directly.
func runEngine(m *zmachine.Machine, h *tuiHost) {
	for {
		more, err := m.Step()
		if err != nil {
			h.out <- runtimeErrorMsg(err.Error())
			return
		}
		if !more {
			h.out <- engineQuitMsg{}
			return
		}
	}
}

type appState int

const (
	stateRunning appState = iota
	stateWaitingForLine
	stateWaitingForChar
)

type runStoryModel struct {
	out          chan any
	host         *tuiHost
	romFilePath  string
	transcript   strings.Builder
	statusBar    host.StatusBar
	state        appState
	inputBox     textinput.Model
	width        int
	height       int
	runtimeError string
	warnings     []string
}

func waitForEngine(out chan any) tea.Cmd {
	return func() tea.Msg {
		return <-out
	}
}

func (m runStoryModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEngine(m.out),
		tea.SetWindowTitle(m.romFilePath),
	)
}

func (m runStoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.state {
		case stateWaitingForChar:
			m.state = stateRunning
			if len(msg.Runes) > 0 {
				m.host.charIn <- uint8(msg.Runes[0])
			} else {
				m.host.charIn <- keyToZChar(msg)
			}
			return m, waitForEngine(m.out)

		case stateWaitingForLine:
			if msg.Type == tea.KeyEnter {
				m.state = stateRunning
				line := m.inputBox.Value()
				m.transcript.WriteString(line + "\n")
				m.inputBox.SetValue("")
				m.host.lineIn <- line
				return m, waitForEngine(m.out)
			}
			var cmd tea.Cmd
			m.inputBox, cmd = m.inputBox.Update(msg)
			return m, cmd
		}
		return m, nil

	case printMsg:
		m.transcript.WriteString(string(msg))
		return m, waitForEngine(m.out)

	case statusBarMsg:
		m.statusBar = host.StatusBar(msg)
		return m, waitForEngine(m.out)

	case warningMsg:
		m.warnings = append(m.warnings, string(msg))
		return m, waitForEngine(m.out)

	case inputRequestMsg:
		switch requestKind(msg) {
		case lineRequest:
			m.state = stateWaitingForLine
			m.inputBox.Focus()
		case charRequest:
			m.state = stateWaitingForChar
		}
		return m, nil

	case engineQuitMsg:
		return m, tea.Quit

	case runtimeErrorMsg:
		m.runtimeError = string(msg)
		return m, tea.Quit
	}

	return m, nil
}

func (m runStoryModel) statusLine() string {
	if m.statusBar.PlaceName == "" {
		return ""
	}
	right := m.statusBar.Right
	left := m.statusBar.PlaceName
	width := m.width
	if width <= 0 {
		width = 80
	}
	pad := width - len(left) - len(right)
	if pad < 1 {
		return left + " " + right
	}
	return left + strings.Repeat(" ", pad) + right
}

func (m runStoryModel) View() string {
	if m.runtimeError != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
		return fmt.Sprintf("\n%s\n\n%s\n", errStyle.Render("Z-Machine Error:"), m.runtimeError)
	}

	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder
	if line := m.statusLine(); line != "" {
		s.WriteString(lipgloss.NewStyle().Reverse(true).Render(line))
		s.WriteString("\n")
	}

	body := wordwrap.String(m.transcript.String(), m.width)
	lines := strings.Split(body, "\n")
	visible := m.height - 2
	if visible < 1 {
		visible = 1
	}
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	s.WriteString(strings.Join(lines, "\n"))

	if m.state == stateWaitingForLine {
		s.WriteString("\n" + m.inputBox.View())
	}

	return s.String()
}

func newApplicationModel(m *zmachine.Machine, h *tuiHost, romPath string) tea.Model {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 40
	ti.Prompt = "> "

	go runEngine(m, h)

	return runStoryModel{
		out:         h.out,
		host:        h,
		romFilePath: romPath,
		state:       stateRunning,
		inputBox:    ti,
	}
}

func loadStoryModel(storyBytes []byte, romPath string) (tea.Model, error) {
	h := newTUIHost(romPath)
	m, err := zmachine.LoadRom(storyBytes, h, zmachine.Options{})
	if err != nil {
		return nil, err
	}
	return newApplicationModel(m, h, romPath), nil
}

func init() {
	flag.StringVar(&romFilePath, "rom", "", "The path of a z-machine rom")
	flag.Parse()
}

func main() {
	var model tea.Model

	if romFilePath != "" {
		romFileBytes, err := os.ReadFile(romFilePath)
		if err != nil {
			panic(err)
		}
		model, err = loadStoryModel(romFileBytes, romFilePath)
		if err != nil {
			panic(err)
		}
	} else {
		model = selectstoryui.NewUIModel(loadStoryModel, "")
	}

	tui := tea.NewProgram(model)
	if _, err := tui.Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}
