package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/pd"
)

func processEvent(id int64, epid, state string, round int, assigned string) events.Event {
	data, _ := json.Marshal(map[string]any{"epid": epid, "state": state, "round": round, "assigned": assigned})
	return events.Event{
		ID:   id,
		Type: events.ProcessPrefix + strings.ToLower(state),
		At:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data: data,
	}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 3",
		"event: process.waiting",
		`data: {"epid":"p1"}`,
		"",
		"id: 4",
		"event: node.state",
		"",
		"id: 5",
		"event: process.pending",
		`data: {"epid":"p2",`,
		`data: "round":1}`,
		"",
	}, "\n")

	var got []events.Event
	last, err := readSSE(strings.NewReader(stream), 2, func(e events.Event) { got = append(got, e) })
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
	require.Len(t, got, 2)
	assert.Equal(t, "process.waiting", got[0].Type)
	assert.JSONEq(t, `{"epid":"p1"}`, string(got[0].Data))
	assert.Equal(t, int64(5), got[1].ID)
	assert.Equal(t, "{\"epid\":\"p2\",\n\"round\":1}", string(got[1].Data))
}

func TestClientAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/healthz":
			_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":61,"queue_depth":2,"processes":3,"resources":1}`))
		case "/dump":
			_, _ = w.Write([]byte(`{"resources":{"ee-1":{"ee_id":"ee-1","node_id":"n1","processes":["p1"],"slot_count":2,"available_slots":1,"enabled":true}},"processes":{"p1":{"epid":"p1","round":0,"state":"PENDING","assigned":"ee-1"}},"queue":["p2"]}`))
		case "/events":
			assert.Equal(t, "7", r.URL.Query().Get("since"))
			_, _ = w.Write([]byte("id: 8\nevent: process.running\ndata: {\"epid\":\"p1\"}\n\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok")
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.QueueDepth)

	d, err := c.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, d.Queue)
	assert.Equal(t, pd.StatePending, d.Processes["p1"].State)

	var got []events.Event
	last, err := c.Stream(ctx, 7, func(e events.Event) { got = append(got, e) })
	require.NoError(t, err)
	assert.Equal(t, int64(8), last)
	require.Len(t, got, 1)

	_, err = NewClient(srv.URL, "wrong").Dump(ctx)
	assert.ErrorContains(t, err, "401")
}

func TestApplyEventAndMergeDump(t *testing.T) {
	procs := map[string]*ProcessView{}
	assert.True(t, applyEvent(procs, processEvent(1, "p1", "PENDING", 0, "ee-1")))
	assert.False(t, applyEvent(procs, events.Event{Type: events.TypeNodeState, Data: []byte(`{}`)}))
	assert.False(t, applyEvent(procs, events.Event{Type: "process.running", Data: []byte(`nope`)}))

	changed := procs["p1"].Changed
	now := changed.Add(time.Minute)
	mergeDump(procs, pd.Dump{Processes: map[string]pd.ProcessDump{
		"p1": {EPID: "p1", State: pd.StatePending, Assigned: "ee-1"},
		"p2": {EPID: "p2", State: pd.StateWaiting},
	}}, now)
	assert.Equal(t, changed, procs["p1"].Changed, "unchanged state keeps its timestamp")
	assert.Equal(t, now, procs["p2"].Changed)

	mergeDump(procs, pd.Dump{Processes: map[string]pd.ProcessDump{
		"p2": {EPID: "p2", State: pd.StateTerminated},
	}}, now)
	assert.NotContains(t, procs, "p1")
	assert.Equal(t, pd.StateTerminated, procs["p2"].State)
	assert.Empty(t, recentProcesses(procs, 5))
}

func TestResourceRowsSorted(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)
	rows := resourceRows(map[string]pd.ResourceDump{
		"ee-b": {EEID: "ee-b", NodeID: "n2", SlotCount: 1, Processes: []string{}},
		"ee-a": {EEID: "ee-a", NodeID: "n1", SlotCount: 2, AvailableSlots: 1, Enabled: true, Processes: []string{"p1"},
			LastHeartbeat: now.Add(-12 * time.Second)},
	}, now)
	require.Len(t, rows, 2)
	assert.Equal(t, "ee-a", rows[0][0])
	assert.Equal(t, "1/2", rows[0][2])
	assert.Equal(t, "y", rows[0][4])
	assert.Equal(t, "12s", rows[0][5])
	assert.Equal(t, "n", rows[1][4])
	assert.Equal(t, "-", rows[1][5])
}

func TestHeartbeatAge(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)
	assert.Equal(t, "-", heartbeatAge(time.Time{}, now))
	assert.Equal(t, "0s", heartbeatAge(now.Add(time.Second), now))
	assert.Equal(t, "4m", heartbeatAge(now.Add(-4*time.Minute-10*time.Second), now))
	assert.Equal(t, "2h", heartbeatAge(now.Add(-2*time.Hour), now))
}

func TestActivityDecay(t *testing.T) {
	var a Activity
	start := time.Now()
	a.OnEvent(start)
	assert.Equal(t, 5, a.Level())
	a.Decay(start.Add(5 * time.Second))
	assert.Equal(t, 3, a.Level())
	a.Decay(start.Add(time.Minute))
	assert.Equal(t, 0, a.Level())
}

func TestModelUpdateAndView(t *testing.T) {
	m := New("http://127.0.0.1:1", "")
	fixed := time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	var model tea.Model = *m
	assert.Contains(t, model.View(), "Connecting")

	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 50})
	model, _ = model.Update(healthMsg{Status: "ok", QueueDepth: 1, Processes: 2, Resources: 1})
	model, _ = model.Update(dumpMsg(pd.Dump{
		Resources: map[string]pd.ResourceDump{"ee-1": {EEID: "ee-1", NodeID: "n1", SlotCount: 1, Enabled: true, Processes: []string{"p1"}}},
		Processes: map[string]pd.ProcessDump{
			"p1": {EPID: "p1", State: pd.StateRunning, Assigned: "ee-1"},
			"p2": {EPID: "p2", State: pd.StateWaiting},
		},
		Queue: []string{"p2"},
	}))
	model, _ = model.Update(eventMsg(processEvent(9, "p1", "RUNNING", 0, "ee-1")))

	view := model.View()
	assert.Contains(t, view, "CONDUCTOR WATCH")
	assert.Contains(t, view, "HEALTHY")
	assert.Contains(t, view, "ee-1")
	assert.Contains(t, view, "Queue (1): p2")
	assert.Contains(t, view, "process.running")

	model, _ = model.Update(sseDisconnectedMsg{lastID: 9})
	assert.Contains(t, model.View(), "reconnecting")

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	_, isQuit := cmd().(tea.QuitMsg)
	assert.True(t, isQuit)
}
