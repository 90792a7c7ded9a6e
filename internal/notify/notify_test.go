package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/pd"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubNotifierPublishesStateEvent(t *testing.T) {
	hub := events.NewHub(8)
	n := NewHubNotifier(hub)

	err := n.Notify(context.Background(), pd.Process{
		EPID:     "p1",
		Round:    2,
		State:    pd.StateDiedRequested,
		Assigned: "",
		Spec:     json.RawMessage(`{"secret":"x"}`),
	})
	require.NoError(t, err)

	evs := hub.Since(0)
	require.Len(t, evs, 1)
	assert.Equal(t, "process.died_requested", evs[0].Type)
	assert.JSONEq(t, `{"epid":"p1","round":2,"state":"DIED_REQUESTED"}`, string(evs[0].Data))
}

func TestWebhookNotifierSignsAndDelivers(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []byte
		hdrs http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got, hdrs = body, r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier("s3cret", time.Second, quietLogger())
	err := n.Notify(context.Background(), pd.Process{
		EPID:        "p1",
		State:       pd.StateRunning,
		Assigned:    "ee-1",
		Subscribers: []string{"queue-subscriber", srv.URL + "/hook"},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"epid":"p1","round":0,"state":"RUNNING","assigned":"ee-1","subscribers":["queue-subscriber","`+srv.URL+`/hook"]}`, string(got))
	assert.NoError(t, Verify(got, hdrs.Get(SignatureHeader), "s3cret"))
	assert.Equal(t, "process.running", hdrs.Get(EventHeader))
	_, err = uuid.Parse(hdrs.Get(DeliveryHeader))
	assert.NoError(t, err)
}

func TestWebhookNotifierReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier("", time.Second, quietLogger())
	err := n.Notify(context.Background(), pd.Process{EPID: "p1", State: pd.StatePending, Subscribers: []string{srv.URL}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

func TestWebhookNotifierSkipsNonURLSubscribers(t *testing.T) {
	n := NewWebhookNotifier("", time.Second, quietLogger())
	err := n.Notify(context.Background(), pd.Process{EPID: "p1", Subscribers: []string{"amqp-queue", "ftp://host/x", "/relative"}})
	assert.NoError(t, err)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"epid":"p1"}`)
	sig := Sign(body, "k")

	assert.NoError(t, Verify(body, sig, "k"))
	assert.NoError(t, Verify(body, "sha256="+sig, "k"))
	assert.Error(t, Verify(body, sig, "other"))
	assert.Error(t, Verify(body, "sha256=zz", "k"))
	assert.Error(t, Verify(body, "", "k"))
	assert.Error(t, Verify(body, sig, ""))
}

type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) Notify(context.Context, pd.Process) error {
	f.calls++
	return f.err
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &fakeNotifier{}
	bad := &fakeNotifier{err: errors.New("boom")}
	m := Multi{ok, nil, bad}

	err := m.Notify(context.Background(), pd.Process{EPID: "p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, bad.err)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)
}
