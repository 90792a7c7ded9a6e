package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/mattjoyce/conductor/internal/api"
	"github.com/mattjoyce/conductor/internal/constraint"
	"github.com/mattjoyce/conductor/internal/pd"
	"github.com/mattjoyce/conductor/internal/tui/watch"
)

// apiClient is the thin HTTP client behind the process and system commands.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, http.StatusText(e.status), e.message)
}

func clientFlags(fs *flag.FlagSet) (*string, *string) {
	apiURL := fs.String("api-url", envOr(apiURLEnv, defaultAPIURL), "Dispatcher API URL")
	token := fs.String("token", os.Getenv(tokenEnv), "API bearer token (or "+tokenEnv+")")
	return apiURL, token
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{status: resp.StatusCode, message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseConstraints turns key=value pairs into constraints. A value with
// commas becomes a list of allowed values; integers and booleans keep their
// type.
func parseConstraints(pairs []string) (constraint.Constraints, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(constraint.Constraints, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("constraint %q is not key=value", pair)
		}
		if strings.Contains(value, ",") {
			var list []any
			for _, v := range strings.Split(value, ",") {
				list = append(list, scalar(strings.TrimSpace(v)))
			}
			out[key] = list
			continue
		}
		out[key] = scalar(value)
	}
	return out, nil
}

func scalar(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

// readSpec accepts inline JSON or @path.
func readSpec(v string) (json.RawMessage, error) {
	if v == "" {
		return nil, nil
	}
	data := []byte(v)
	if path, ok := strings.CutPrefix(v, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read spec: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, errors.New("spec is not valid JSON")
	}
	return json.RawMessage(bytes.TrimSpace(data)), nil
}

func runProcessDispatch(args []string) int {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	apiURL, token := clientFlags(fs)
	epid := fs.String("epid", "", "Process ID (default: random UUID)")
	spec := fs.String("spec", "", "Launch descriptor as JSON or @file")
	immediate := fs.Bool("immediate", false, "Reject instead of queueing when no slot is free")
	priority := fs.Int("priority", 0, "Priority (recorded, not used for ordering)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	var constraints, subscribers stringList
	fs.Var(&constraints, "constraint", "Constraint key=value (repeatable; comma-separated values form a list)")
	fs.Var(&subscribers, "subscriber", "Subscriber URL or name (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *epid == "" {
		*epid = uuid.NewString()
	}
	specJSON, err := readSpec(*spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	cons, err := parseConstraints(constraints)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	req := api.DispatchRequest{
		Spec:        specJSON,
		Subscribers: subscribers,
		Constraints: cons,
		Immediate:   *immediate,
		Priority:    *priority,
	}
	var resp api.ProcessResponse
	c := newAPIClient(*apiURL, *token)
	if err := c.do(context.Background(), http.MethodPut, "/processes/"+url.PathEscape(*epid), req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(resp)
	}
	printProcess(resp)
	return 0
}

func runProcessTerminate(args []string) int {
	positional, flags := splitPositional(args)
	fs := flag.NewFlagSet("terminate", flag.ContinueOnError)
	apiURL, token := clientFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: conductor process terminate <epid>")
		return 1
	}

	var resp api.ProcessResponse
	c := newAPIClient(*apiURL, *token)
	if err := c.do(context.Background(), http.MethodDelete, "/processes/"+url.PathEscape(positional[0]), nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Terminate failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(resp)
	}
	printProcess(resp)
	return 0
}

func runProcessShow(args []string) int {
	positional, flags := splitPositional(args)
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	apiURL, token := clientFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: conductor process show <epid> [--json]")
		return 1
	}

	var resp api.ProcessResponse
	c := newAPIClient(*apiURL, *token)
	if err := c.do(context.Background(), http.MethodGet, "/processes/"+url.PathEscape(positional[0]), nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Show failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(resp)
	}
	printProcess(resp)
	for _, h := range resp.History {
		fmt.Printf("  %s  %-14s round %d %s\n", h.RecordedAt.Format(time.RFC3339), h.State, h.Round, h.Assigned)
	}
	return 0
}

func printProcess(p api.ProcessResponse) {
	assigned := p.Assigned
	if assigned == "" {
		assigned = "-"
	}
	fmt.Printf("%s  %s  round %d  on %s\n", p.EPID, p.State, p.Round, assigned)
}

func runProcessDump(args []string) int {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	apiURL, token := clientFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var d pd.Dump
	c := newAPIClient(*apiURL, *token)
	if err := c.do(context.Background(), http.MethodGet, "/dump", nil, &d); err != nil {
		fmt.Fprintf(os.Stderr, "Dump failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(d)
	}
	printDump(os.Stdout, d)
	return 0
}

func printDump(w io.Writer, d pd.Dump) {
	fmt.Fprintf(w, "Resources (%d):\n", len(d.Resources))
	for _, id := range sortedKeys(d.Resources) {
		r := d.Resources[id]
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		seen := "never"
		if !r.LastHeartbeat.IsZero() {
			seen = r.LastHeartbeat.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  %-20s node=%s slots=%d free=%d %s seen=%s [%s]\n",
			r.EEID, r.NodeID, r.SlotCount, r.AvailableSlots, state, seen, strings.Join(r.Processes, ","))
	}

	fmt.Fprintf(w, "Processes (%d):\n", len(d.Processes))
	epids := sortedKeys(d.Processes)
	sort.SliceStable(epids, func(i, j int) bool {
		return d.Processes[epids[i]].State < d.Processes[epids[j]].State
	})
	for _, epid := range epids {
		p := d.Processes[epid]
		fmt.Fprintf(w, "  %-36s %-14s round %d %s\n", p.EPID, p.State, p.Round, p.Assigned)
	}

	fmt.Fprintf(w, "Queue (%d): %s\n", len(d.Queue), strings.Join(d.Queue, " "))
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	apiURL, token := clientFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var h api.HealthzResponse
	c := newAPIClient(*apiURL, *token)
	if err := c.do(context.Background(), http.MethodGet, "/healthz", nil, &h); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(h)
	}
	fmt.Printf("status: %s\nuptime: %s\nwaiting: %d\nprocesses: %d\nengines: %d\n",
		h.Status, time.Duration(h.UptimeSeconds)*time.Second, h.QueueDepth, h.Processes, h.Resources)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL, token := clientFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: token required. Use --token or "+tokenEnv+".")
		return 1
	}

	if _, err := tea.NewProgram(watch.New(*apiURL, *token)).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
