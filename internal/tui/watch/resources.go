package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/conductor/internal/pd"
)

func newResourceTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Engine", Width: 20},
			{Title: "Node", Width: 16},
			{Title: "Slots", Width: 8},
			{Title: "Free", Width: 5},
			{Title: "On", Width: 3},
			{Title: "Seen", Width: 6},
			{Title: "Processes", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// resourceRows orders resources by engine ID. Seen is the age of the last
// heartbeat relative to now.
func resourceRows(resources map[string]pd.ResourceDump, now time.Time) []table.Row {
	ids := make([]string, 0, len(resources))
	for id := range resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		r := resources[id]
		enabled := "y"
		if !r.Enabled {
			enabled = "n"
		}
		rows = append(rows, table.Row{
			r.EEID,
			r.NodeID,
			fmt.Sprintf("%d/%d", len(r.Processes), r.SlotCount),
			fmt.Sprintf("%d", r.AvailableSlots),
			enabled,
			heartbeatAge(r.LastHeartbeat, now),
			strings.Join(r.Processes, ","),
		})
	}
	return rows
}

func heartbeatAge(last, now time.Time) string {
	if last.IsZero() {
		return "-"
	}
	age := now.Sub(last)
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(age.Hours()))
	}
}

func renderResources(t table.Model, theme Theme, width int) string {
	innerWidth := width - 4
	body := t.View()
	if len(t.Rows()) == 0 {
		body = theme.Dim.Render("  No execution engines have reported yet")
	}
	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EXECUTION ENGINES"), body),
	)
}
