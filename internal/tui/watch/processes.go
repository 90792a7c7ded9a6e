package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/notify"
	"github.com/mattjoyce/conductor/internal/pd"
)

// ProcessView is what the watch knows about one process.
type ProcessView struct {
	EPID     string
	State    pd.State
	Round    int
	Assigned string
	Changed  time.Time
}

// applyEvent folds a process.* event into the view. Other events are ignored.
func applyEvent(procs map[string]*ProcessView, e events.Event) bool {
	if !strings.HasPrefix(e.Type, events.ProcessPrefix) {
		return false
	}
	var snap notify.ProcessSnapshot
	if err := json.Unmarshal(e.Data, &snap); err != nil || snap.EPID == "" {
		return false
	}
	procs[snap.EPID] = &ProcessView{
		EPID:     snap.EPID,
		State:    snap.State,
		Round:    snap.Round,
		Assigned: snap.Assigned,
		Changed:  e.At,
	}
	return true
}

// mergeDump reconciles the view with a dump. The dump is authoritative for
// state; change times survive when the state did not move.
func mergeDump(procs map[string]*ProcessView, d pd.Dump, now time.Time) {
	for epid, pdump := range d.Processes {
		cur, ok := procs[epid]
		if ok && cur.State == pdump.State && cur.Round == pdump.Round {
			cur.Assigned = pdump.Assigned
			continue
		}
		procs[epid] = &ProcessView{
			EPID:     epid,
			State:    pdump.State,
			Round:    pdump.Round,
			Assigned: pdump.Assigned,
			Changed:  now,
		}
	}
	for epid := range procs {
		if _, ok := d.Processes[epid]; !ok {
			delete(procs, epid)
		}
	}
}

// stateCounts tallies processes per state in state order.
func stateCounts(procs map[string]*ProcessView) ([]pd.State, map[pd.State]int) {
	counts := make(map[pd.State]int)
	for _, p := range procs {
		counts[p.State]++
	}
	states := make([]pd.State, 0, len(counts))
	for s := range counts {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states, counts
}

// recentProcesses returns non-terminal processes, most recently changed first.
func recentProcesses(procs map[string]*ProcessView, limit int) []*ProcessView {
	out := make([]*ProcessView, 0, len(procs))
	for _, p := range procs {
		if !p.State.Terminal() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Changed.Equal(out[j].Changed) {
			return out[i].Changed.After(out[j].Changed)
		}
		return out[i].EPID < out[j].EPID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func renderProcesses(procs map[string]*ProcessView, queue []string, theme Theme, width int) string {
	innerWidth := width - 4

	states, counts := stateCounts(procs)
	var tally []string
	for _, s := range states {
		tally = append(tally, theme.ForState(s.String()).Render(fmt.Sprintf("%s %d", s, counts[s])))
	}
	summary := theme.Dim.Render("  No processes")
	if len(tally) > 0 {
		summary = "  " + strings.Join(tally, "  ")
	}

	queueLine := theme.Dim.Render("  Queue empty")
	if len(queue) > 0 {
		shown := queue
		if len(shown) > 8 {
			shown = shown[:8]
		}
		queueLine = fmt.Sprintf("  Queue (%d): %s", len(queue), strings.Join(shown, " → "))
		if len(queue) > len(shown) {
			queueLine += " …"
		}
	}

	lines := []string{theme.Title.Render("PROCESSES"), summary, queueLine}
	for _, p := range recentProcesses(procs, 8) {
		where := p.Assigned
		if where == "" {
			where = "-"
		}
		lines = append(lines, fmt.Sprintf("  %-24s %s round %d on %s",
			p.EPID, theme.ForState(p.State.String()).Render(fmt.Sprintf("%-14s", p.State)), p.Round, where))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
