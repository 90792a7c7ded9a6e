// Package tokenmgr is the interactive scope picker behind "conductor config
// token". It prints a ready-to-paste api.auth.tokens entry.
package tokenmgr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/conductor/internal/auth"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

// Scopes lists every grantable scope with a short description.
var Scopes = []struct {
	Scope string
	Desc  string
}{
	{auth.ScopeAll, "Full administrative access"},
	{auth.ScopeProcessesRO, "Read processes and the dump"},
	{auth.ScopeProcessesRW, "Dispatch and terminate processes"},
	{auth.ScopeFeedsRW, "Post heartbeats and node states"},
	{auth.ScopeEventsRO, "Follow the event stream (SSE)"},
	{auth.ScopeRegistryRO, "Look up deployable and engine types"},
}

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

// Picker is a bubbletea model for choosing scopes.
type Picker struct {
	list      list.Model
	cancelled bool
	done      bool
	scopes    []string
}

func NewPicker() *Picker {
	items := make([]list.Item, 0, len(Scopes))
	for _, s := range Scopes {
		items = append(items, item{scope: s.Scope, desc: s.Desc})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select scopes (space toggles, enter confirms)"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return &Picker{list: l}
}

func (m *Picker) Init() tea.Cmd { return nil }

func (m *Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancelled = true
			return m, tea.Quit

		case " ":
			if i, ok := m.list.SelectedItem().(item); ok {
				i.selected = !i.selected
				m.list.SetItem(m.list.Index(), i)
			}
			return m, nil

		case "enter":
			m.done = true
			m.scopes = m.scopes[:0]
			for _, li := range m.list.Items() {
				if it, ok := li.(item); ok && it.selected {
					m.scopes = append(m.scopes, it.scope)
				}
			}
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Picker) View() string {
	if m.cancelled {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render("Selected scopes: " + strings.Join(m.scopes, ", "))
	}
	return "\n" + m.list.View()
}

// Selected returns the confirmed scopes; ok is false when the picker was
// cancelled or nothing was chosen.
func (m *Picker) Selected() ([]string, bool) {
	if m.cancelled || !m.done || len(m.scopes) == 0 {
		return nil, false
	}
	return append([]string(nil), m.scopes...), true
}

// NewToken returns a random 32-byte hex token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Snippet renders a token as a YAML list entry for api.auth.tokens.
func Snippet(token string, scopes []string) (string, error) {
	entry := []struct {
		Token  string   `yaml:"token"`
		Scopes []string `yaml:"scopes"`
	}{{Token: token, Scopes: scopes}}
	out, err := yaml.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("render token snippet: %w", err)
	}
	return string(out), nil
}
