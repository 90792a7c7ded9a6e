package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/conductor/internal/events"
)

const (
	sseKeepAlive  = 15 * time.Second
	sseRetryMilli = 3000
)

// eventFilter keeps events whose type starts with any prefix; empty keeps all.
type eventFilter []string

func parseEventFilter(v string) eventFilter {
	var f eventFilter
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f eventFilter) match(eventType string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}

// handleEvents streams hub events as SSE. The start position comes from
// Last-Event-ID or ?since=; ?types= narrows by type prefix (an HTTP-only
// agent follows "agent."). Events older than the hub backlog are gone.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	cursor := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if v := r.URL.Query().Get("since"); v != "" {
		cursor = parseLastEventID(v)
	}
	filter := parseEventFilter(r.URL.Query().Get("types"))

	// Subscribe first; anything published during replay shows up on ch and
	// is skipped by the cursor check.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", sseRetryMilli)

	send := func(ev events.Event) error {
		if ev.ID <= cursor {
			return nil
		}
		cursor = ev.ID
		if !filter.match(ev.Type) {
			return nil
		}
		_, err := w.Write(frameSSE(ev))
		return err
	}

	for _, ev := range s.events.Since(cursor) {
		if send(ev) != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open || send(ev) != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// frameSSE renders one event. Payloads are compact JSON, so a single data
// line suffices.
func frameSSE(ev events.Event) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "id: %d\n", ev.ID)
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	b.WriteString("data: ")
	b.Write(ev.Data)
	b.WriteString("\n\n")
	return b.Bytes()
}
