// Command goz is the headless/terminal entry point for the interpreter,
// alongside the bubbletea TUI in the repository root. It wraps the engine
// in a small cobra CLI with three subcommands: run (play a story against
// stdin/stdout), verify (smoke-test a story up to its first prompt, like
// cmd/gametest but for a single file with a process exit code), and
// inspect (print header and object-table facts without running anything).
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davetcode/goz/host"
	"github.com/davetcode/goz/zmachine"
)

// termHost is a synchronous, blocking host.Host backed by stdin/stdout -
// the terminal equivalent of the bubbletea TUI's channel-fed host, except
// GetInput/GetCharacter can block the calling goroutine directly since
// there's no event loop to deadlock.
type termHost struct {
	in      *bufio.Reader
	out     *bufio.Writer
	romPath string
	lastBar host.StatusBar

	// machine is set by newRunCmd once LoadRom returns, so GetInput can
	// intercept the interpreter's own "undo"/"redo" meta-commands (spec
	// section 6's host-facing undo()/redo(), distinct from a story's own
	// UNDO verb) without ever handing them to the running story.
	machine *zmachine.Machine
}

func newTermHost(romPath string) *termHost {
	return &termHost{
		in:      bufio.NewReader(os.Stdin),
		out:     bufio.NewWriter(os.Stdout),
		romPath: romPath,
	}
}

func (h *termHost) Print(text string)       { fmt.Fprint(h.out, text) }
func (h *termHost) NewLine()                { fmt.Fprintln(h.out) }
func (h *termHost) PrintObject(name string) { fmt.Fprint(h.out, name) }
func (h *termHost) PrintASCIIArt(key string) {}

func (h *termHost) SetStatusBar(bar host.StatusBar) {
	h.lastBar = bar
	fmt.Fprintf(os.Stderr, "[%s | %s]\n", bar.PlaceName, bar.Right)
}

func (h *termHost) Message(channel string, payload any) {
	switch channel {
	case "save":
		blob, _ := payload.(string)
		if err := os.WriteFile(h.saveFilename(), []byte(blob), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not write save file: %v\n", err)
		}
	case "warning":
		fmt.Fprintf(os.Stderr, "warning: %v\n", payload)
	}
}

func (h *termHost) Flush() { h.out.Flush() }

func (h *termHost) GetInput() string {
	for {
		h.out.Flush()
		fmt.Fprint(h.out, "> ")
		h.out.Flush()
		line, _ := h.in.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "/undo":
			if h.machine.Undo() {
				fmt.Fprintln(h.out, "(undone)")
			} else {
				fmt.Fprintln(h.out, "(nothing to undo)")
			}
		case "/redo":
			if h.machine.Redo() {
				fmt.Fprintln(h.out, "(redone)")
			} else {
				fmt.Fprintln(h.out, "(nothing to redo)")
			}
		default:
			return line
		}
	}
}

func (h *termHost) GetCharacter() uint8 {
	h.out.Flush()
	b, err := h.in.ReadByte()
	if err != nil {
		return 13
	}
	return b
}

func (h *termHost) RequestRestore() (string, bool) {
	data, err := os.ReadFile(h.saveFilename())
	if err != nil {
		return "", false
	}
	return string(data), true
}

// saveFilename derives a save path from the story file path, e.g.
// "zork1.z3" -> "zork1.sav".
func (h *termHost) saveFilename() string {
	base := filepath.Base(h.romPath)
	ext := filepath.Ext(base)
	if len(ext) >= 2 && (ext[1] == 'z' || ext[1] == 'Z') {
		base = base[:len(base)-len(ext)]
	}
	return base + ".sav"
}

var _ host.Host = (*termHost)(nil)

func loadStory(path string) ([]uint8, error) {
	return os.ReadFile(path)
}

func newRunCmd() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "run <story-file>",
		Short: "Play a Z-machine story interactively against stdin/stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyBytes, err := loadStory(args[0])
			if err != nil {
				return fmt.Errorf("reading story file: %w", err)
			}

			h := newTermHost(args[0])
			m, err := zmachine.LoadRom(storyBytes, h, zmachine.Options{RandSeed: seed})
			if err != nil {
				return fmt.Errorf("loading story: %w", err)
			}
			h.machine = m

			for {
				more, err := m.Step()
				h.out.Flush()
				if err != nil {
					return fmt.Errorf("running story at step: %w", err)
				}
				if !more {
					return nil
				}
			}
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "deterministic RNG seed (0 picks one from host entropy)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <story-file>",
		Short: "Run a story up to its first input prompt and report pass/fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyBytes, err := loadStory(args[0])
			if err != nil {
				return fmt.Errorf("reading story file: %w", err)
			}

			h := &verifyHost{}
			m, err := zmachine.LoadRom(storyBytes, h, zmachine.Options{})
			if err != nil {
				return fmt.Errorf("loading story: %w", err)
			}

			const maxSteps = 2_000_000
			for i := 0; i < maxSteps; i++ {
				more, err := m.Step()
				if err != nil {
					return fmt.Errorf("running story: %w", err)
				}
				if h.reachedInput || !more {
					break
				}
			}

			fmt.Println(h.text.String())
			fmt.Printf("ok: reached first prompt after %d byte(s) of output\n", h.text.Len())
			return nil
		},
	}
	return cmd
}

// verifyHost discards interaction the same way cmd/gametest's batchHost
// does, but keeps a single running transcript instead of a line buffer.
type verifyHost struct {
	text         strings.Builder
	reachedInput bool
}

func (h *verifyHost) Print(text string)               { h.text.WriteString(text) }
func (h *verifyHost) NewLine()                        { h.text.WriteString("\n") }
func (h *verifyHost) PrintObject(name string)         { h.text.WriteString(name) }
func (h *verifyHost) PrintASCIIArt(key string)        {}
func (h *verifyHost) SetStatusBar(bar host.StatusBar) {}
func (h *verifyHost) Message(channel string, payload any) {}
func (h *verifyHost) Flush()                          { h.reachedInput = true }
func (h *verifyHost) GetInput() string                { return "" }
func (h *verifyHost) GetCharacter() uint8              { return 0 }
func (h *verifyHost) RequestRestore() (string, bool)  { return "", false }

var _ host.Host = (*verifyHost)(nil)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <story-file>",
		Short: "Print header and object-table facts without running the story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyBytes, err := loadStory(args[0])
			if err != nil {
				return fmt.Errorf("reading story file: %w", err)
			}

			h := &verifyHost{}
			m, err := zmachine.LoadRom(storyBytes, h, zmachine.Options{})
			if err != nil {
				return fmt.Errorf("loading story: %w", err)
			}

			fmt.Printf("version:      %d\n", m.Version())
			tree, err := m.ObjectTree()
			if err != nil {
				return fmt.Errorf("reading object tree: %w", err)
			}
			fmt.Printf("object count: %d\n", len(tree))
			for _, o := range tree {
				fmt.Printf("  #%d %q parent=%d children=%v\n", o.Id, o.Name, o.Parent, o.Children)
			}
			return nil
		},
	}
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:   "goz",
		Short: "A Z-machine interpreter",
	}
	root.AddCommand(newRunCmd(), newVerifyCmd(), newInspectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
