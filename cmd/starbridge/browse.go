package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"
	"go.uber.org/multierr"

	"github.com/wippyai/starbridge/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newBrowseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "browse MODULE",
		Short: "Pick and call functions of a module interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if !isTerminal(os.Stdin) {
				return fmt.Errorf("browse needs an interactive terminal")
			}
			ctx := cmd.Context()
			var printed bytes.Buffer
			a, err := g.newApp(ctx, &printed)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close(ctx)) }()

			m := newBrowseModel(ctx, a.rt, args[0], &printed)
			defer m.release()
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
}

type browseModel struct {
	ctx      context.Context
	err      error
	rt       *runtime.Runtime
	mod      *runtime.Proxy
	printed  *bytes.Buffer
	name     string
	result   string
	output   string
	funcs    []funcInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

// funcInfo describes a callable member. Callables without a parameter
// list take their arguments from one space-separated field.
type funcInfo struct {
	name   string
	params []string
	known  bool
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newBrowseModel(ctx context.Context, rt *runtime.Runtime, name string, printed *bytes.Buffer) *browseModel {
	return &browseModel{
		ctx:     ctx,
		rt:      rt,
		name:    name,
		printed: printed,
		state:   stateSelectFunc,
	}
}

type loadedMsg struct {
	err   error
	mod   *runtime.Proxy
	funcs []funcInfo
}

type callResultMsg struct {
	err    error
	result string
	output string
}

func (m *browseModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *browseModel) loadModule() tea.Msg {
	mod, err := m.rt.Import(m.ctx, m.name, runtime.Convert(false))
	if err != nil {
		return loadedMsg{err: err}
	}
	names, err := mod.Members(m.ctx)
	if err != nil {
		mod.Release()
		return loadedMsg{err: err}
	}

	var funcs []funcInfo
	for _, name := range names {
		member, err := mod.Attr(m.ctx, name)
		if err != nil {
			continue
		}
		if member.IsCallable() {
			funcs = append(funcs, describe(name, member))
		}
		member.Release()
	}
	if len(funcs) == 0 {
		mod.Release()
		return loadedMsg{err: fmt.Errorf("module %s has no callable members", m.name)}
	}
	return loadedMsg{mod: mod, funcs: funcs}
}

func describe(name string, p *runtime.Proxy) funcInfo {
	fi := funcInfo{name: name}
	v, err := p.GuestValue()
	if err != nil {
		return fi
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return fi
	}
	fi.known = true
	for i := 0; i < fn.NumParams(); i++ {
		pname, _ := fn.Param(i)
		fi.params = append(fi.params, pname)
	}
	return fi
}

func (m *browseModel) release() {
	if m.mod != nil {
		m.mod.Release()
	}
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs
				return m, textinput.Blink

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.reset()
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs, stateShowResult:
				m.reset()
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.mod = msg.mod
		m.funcs = msg.funcs

	case callResultMsg:
		m.result = msg.result
		m.output = msg.output
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		cmds := make([]tea.Cmd, 0, len(m.inputs))
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *browseModel) reset() {
	m.state = stateSelectFunc
	m.inputs = nil
	m.result = ""
	m.output = ""
	m.err = nil
}

func (m *browseModel) prepareInputs() {
	f := m.funcs[m.selected]
	prompts := f.params
	if !f.known {
		prompts = []string{"args"}
	}
	m.inputs = make([]textinput.Model, len(prompts))
	for i, p := range prompts {
		ti := textinput.New()
		ti.Placeholder = "value"
		ti.Prompt = p + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *browseModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	var args []any
	if f.known {
		// trailing empty fields fall back to parameter defaults
		n := len(m.inputs)
		for n > 0 && m.inputs[n-1].Value() == "" {
			n--
		}
		for _, input := range m.inputs[:n] {
			args = append(args, parseArg(input.Value()))
		}
	} else if len(m.inputs) > 0 {
		args = parseArgs(strings.Fields(m.inputs[0].Value()))
	}

	m.printed.Reset()
	v, err := m.mod.CallMethod(m.ctx, f.name, args...)
	output := m.printed.String()
	if err != nil {
		return callResultMsg{err: err, output: output}
	}
	if p, ok := v.(*runtime.Proxy); ok {
		defer p.Release()
	}
	return callResultMsg{result: formatValue(v), output: output}
}

func (m *browseModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if len(m.funcs) == 0 {
		return "Loading module..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("starbridge"))
	b.WriteString(" ")
	b.WriteString(m.name)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("42L int • 4.2 float • [..] list • {..} dict"))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.output != "" {
			b.WriteString(m.output)
			if !strings.HasSuffix(m.output, "\n") {
				b.WriteString("\n")
			}
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func formatFunc(f funcInfo) string {
	if !f.known {
		return funcStyle.Render(f.name) + "(" + typeStyle.Render("...") + ")"
	}
	params := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = typeStyle.Render(p)
	}
	return funcStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")"
}
