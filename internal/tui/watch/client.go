package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/conductor/internal/api"
	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/pd"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type dumpMsg pd.Dump

type tickMsg time.Time

type errMsg error

// dumpErrMsg keeps the dump poll alive separately from the health poll.
type dumpErrMsg struct{ err error }

// sseDisconnectedMsg carries the last event ID seen so the reconnect resumes.
type sseDisconnectedMsg struct{ lastID int64 }

type reconnectMsg struct{ lastID int64 }

// Client talks to the conductor API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 2 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *Client) get(ctx context.Context, client *http.Client, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, c.http, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) Health(ctx context.Context) (api.HealthzResponse, error) {
	var h api.HealthzResponse
	err := c.getJSON(ctx, "/healthz", &h)
	return h, err
}

func (c *Client) Dump(ctx context.Context) (pd.Dump, error) {
	var d pd.Dump
	err := c.getJSON(ctx, "/dump", &d)
	return d, err
}

// Stream follows /events from lastID, calling fn per event, until the
// connection drops. It returns the last ID delivered.
func (c *Client) Stream(ctx context.Context, lastID int64, fn func(events.Event)) (int64, error) {
	path := "/events"
	if lastID > 0 {
		path += "?since=" + strconv.FormatInt(lastID, 10)
	}
	resp, err := c.get(ctx, c.stream, path)
	if err != nil {
		return lastID, err
	}
	defer resp.Body.Close()

	return readSSE(resp.Body, lastID, fn)
}

// readSSE parses an event stream. Comment lines and events without data
// are skipped.
func readSSE(r io.Reader, lastID int64, fn func(events.Event)) (int64, error) {
	scanner := bufio.NewScanner(r)
	var cur events.Event
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				cur.Data = json.RawMessage(data.String())
				if cur.At.IsZero() {
					cur.At = time.Now()
				}
				fn(cur)
				if cur.ID > lastID {
					lastID = cur.ID
				}
			}
			cur = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}
	}
	return lastID, scanner.Err()
}

// --- Commands ---

func subscribeToEvents(c *Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		last, _ := c.Stream(context.Background(), lastID, func(e events.Event) { ch <- e })
		return sseDisconnectedMsg{lastID: last}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c *Client) tea.Msg {
	h, err := c.Health(context.Background())
	if err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

func fetchDump(c *Client) tea.Msg {
	d, err := c.Dump(context.Background())
	if err != nil {
		return dumpErrMsg{err: err}
	}
	return dumpMsg(d)
}
