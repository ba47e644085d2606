package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-forensics/mftwalk/walk"
)

const (
	exitCodeUserError int = iota + 2
	exitCodeTechnicalError
)

// state identifies which screen the program is currently showing.
type state int

const (
	stateLoading state = iota
	stateBrowsing
	stateDetail
	stateError
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dirStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	orphanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	detailKeyText = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// nodeItem adapts a *walk.Node to the bubbles list.Item interface.
type nodeItem struct {
	node      *walk.Node
	directory bool
}

func (i nodeItem) Title() string {
	if i.directory {
		return dirStyle.Render(i.node.Filename() + "/")
	}
	return i.node.Filename()
}

func (i nodeItem) Description() string {
	return fmt.Sprintf("record %d", i.node.RecordNumber())
}

func (i nodeItem) FilterValue() string {
	return i.node.Filename()
}

// treeLoadedMsg is delivered once the whole MFT image has been walked into a Tree.
type treeLoadedMsg struct {
	tree *walk.Tree
	enum *walk.Enumerator
}

type errMsg struct {
	err error
}

type model struct {
	mftPath string

	spinner spinner.Model
	list    list.Model

	tree *walk.Tree
	enum *walk.Enumerator

	// dirStack holds the ancestor directory nodes above the one currently listed, root first, so "backspace"
	// can pop back up without re-walking the tree.
	dirStack []*walk.Node
	current  *walk.Node

	state  state
	err    error
	width  int
	height int
}

func initialModel(mftPath string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "mftbrowse"
	l.SetShowHelp(false)

	return model{
		mftPath: mftPath,
		spinner: s,
		list:    l,
		state:   stateLoading,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadTree(m.mftPath))
}

func loadTree(mftPath string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(mftPath)
		if err != nil {
			return errMsg{fmt.Errorf("reading %s: %w", mftPath, err)}
		}
		enum := walk.NewEnumerator(data, 50000)
		tree, err := walk.BuildTree(enum, nil)
		if err != nil {
			return errMsg{fmt.Errorf("building tree: %w", err)}
		}
		return treeLoadedMsg{tree: tree, enum: enum}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateBrowsing && m.list.FilterState() == list.Filtering {
				break
			}
			return m, tea.Quit
		case "enter":
			if m.state == stateBrowsing {
				return m.enterSelection()
			}
		case "backspace", "left":
			if m.state == stateBrowsing {
				return m.ascend()
			}
		}

	case treeLoadedMsg:
		m.tree = msg.tree
		m.enum = msg.enum
		root, ok := m.tree.Root()
		if !ok {
			m.state = stateError
			m.err = fmt.Errorf("no root record (5) found in MFT image")
			return m, nil
		}
		m.current = root
		m.state = stateBrowsing
		m.list.SetItems(m.childItems(root))
		return m, nil

	case errMsg:
		m.state = stateError
		m.err = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	switch m.state {
	case stateLoading:
		m.spinner, cmd = m.spinner.Update(msg)
	case stateBrowsing:
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m model) childItems(node *walk.Node) []list.Item {
	children := node.Children()
	items := make([]list.Item, 0, len(children))
	for _, child := range children {
		directory := false
		if record, err := m.enum.Record(child.RecordNumber()); err == nil {
			directory = record.IsDirectory()
		}
		items = append(items, nodeItem{node: child, directory: directory})
	}
	return items
}

func (m model) enterSelection() (tea.Model, tea.Cmd) {
	selected, ok := m.list.SelectedItem().(nodeItem)
	if !ok {
		return m, nil
	}
	if !selected.directory {
		return m, nil
	}
	m.dirStack = append(m.dirStack, m.current)
	m.current = selected.node
	m.list.SetItems(m.childItems(m.current))
	m.list.Select(0)
	return m, nil
}

func (m model) ascend() (tea.Model, tea.Cmd) {
	if len(m.dirStack) == 0 {
		return m, nil
	}
	m.current = m.dirStack[len(m.dirStack)-1]
	m.dirStack = m.dirStack[:len(m.dirStack)-1]
	m.list.SetItems(m.childItems(m.current))
	return m, nil
}

func (m model) View() string {
	switch m.state {
	case stateLoading:
		return fmt.Sprintf("\n %s Walking %s...\n\n", m.spinner.View(), m.mftPath)
	case stateError:
		return fmt.Sprintf("\n%s\n\n%s\n", errorStyle.Render("Error:"), m.err)
	case stateBrowsing:
		var b strings.Builder
		b.WriteString(titleStyle.Render(m.currentPath()))
		b.WriteString("\n")
		b.WriteString(m.list.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter: open directory  backspace: up  /: filter  q: quit"))
		return b.String()
	}
	return ""
}

func (m model) currentPath() string {
	var segments []string
	ancestors := m.dirStack
	if len(ancestors) > 0 {
		ancestors = ancestors[1:]
	}
	for _, ancestor := range ancestors {
		segments = append(segments, ancestor.Filename())
	}
	if m.current.RecordNumber() != walk.RootRecordNumber {
		segments = append(segments, m.current.Filename())
	}
	if len(segments) == 0 {
		return `\`
	}
	return `\` + strings.Join(segments, `\`)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		printUsage()
		os.Exit(exitCodeUserError)
		return
	}

	p := tea.NewProgram(initialModel(args[0]), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mftbrowse: %v\n", err)
		os.Exit(exitCodeTechnicalError)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "\nusage: mftbrowse <mft file>\n\n")
	fmt.Fprintln(os.Stderr, "Interactively browse the directory hierarchy of an already-extracted $MFT file.")
}
