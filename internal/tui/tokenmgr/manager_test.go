package tokenmgr

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestPickerSelectsToggledScopes(t *testing.T) {
	p := NewPicker()
	p.Update(tea.WindowSizeMsg{Width: 80, Height: 40})

	p.Update(key("down"))
	p.Update(key(" "))
	p.Update(key("down"))
	p.Update(key(" "))
	_, cmd := p.Update(key("enter"))
	require.NotNil(t, cmd)

	scopes, ok := p.Selected()
	require.True(t, ok)
	assert.Equal(t, []string{Scopes[1].Scope, Scopes[2].Scope}, scopes)
	assert.Contains(t, p.View(), "Selected scopes")
}

func TestPickerCancelled(t *testing.T) {
	p := NewPicker()
	p.Update(key("q"))

	_, ok := p.Selected()
	assert.False(t, ok)
	assert.Contains(t, p.View(), "Cancelled")
}

func TestPickerNothingSelected(t *testing.T) {
	p := NewPicker()
	p.Update(key("enter"))
	_, ok := p.Selected()
	assert.False(t, ok)
}

func TestNewTokenAndSnippet(t *testing.T) {
	tok, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, tok, 64)

	other, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)

	out, err := Snippet(tok, []string{"processes:rw"})
	require.NoError(t, err)

	var parsed []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &parsed))
	require.Len(t, parsed, 1)
	assert.Equal(t, tok, parsed[0]["token"])
	assert.Equal(t, []any{"processes:rw"}, parsed[0]["scopes"])
}
