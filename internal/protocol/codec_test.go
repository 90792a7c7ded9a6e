package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conductor/internal/pd"
)

func TestCommandRoundTrip(t *testing.T) {
	cmd := &AgentCommand{
		Protocol: Version,
		Op:       OpDispatch,
		EEID:     "ee-1",
		EPID:     "p1",
		Round:    2,
		Spec:     json.RawMessage(`{"exec":"/bin/true"}`),
		IssuedAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeCommand(&buf, cmd))
	assert.Contains(t, buf.String(), `"op":"dispatch"`)
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))

	got, err := DecodeCommand(&buf)
	require.NoError(t, err)
	assert.Equal(t, cmd.EPID, got.EPID)
	assert.Equal(t, 2, got.Round)
	assert.JSONEq(t, `{"exec":"/bin/true"}`, string(got.Spec))
}

func TestEncodeCommandRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		cmd  AgentCommand
		want string
	}{
		{name: "version", cmd: AgentCommand{Protocol: 2, Op: OpCleanup, EEID: "e", EPID: "p"}, want: "unsupported protocol version"},
		{name: "missing op", cmd: AgentCommand{Protocol: Version, EEID: "e", EPID: "p"}, want: "op"},
		{name: "bad op", cmd: AgentCommand{Protocol: Version, Op: "restart", EEID: "e", EPID: "p"}, want: "invalid op"},
		{name: "missing ee", cmd: AgentCommand{Protocol: Version, Op: OpTerminate, EPID: "p"}, want: "ee_id"},
		{name: "missing epid", cmd: AgentCommand{Protocol: Version, Op: OpTerminate, EEID: "e"}, want: "epid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EncodeCommand(&bytes.Buffer{}, &tt.cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	msg, err := DecodeHeartbeat(strings.NewReader(`{
		"sender_id": "ee-1",
		"node_id": "node-1",
		"engine_type": "py",
		"processes": [{"epid": "p1", "round": 1, "state": "RUNNING"}, {"epid": "p2", "round": 0, "state": 700}],
		"slot_count": 3
	}`))
	require.NoError(t, err)

	beat := msg.Heartbeat()
	assert.Equal(t, "node-1", beat.NodeID)
	assert.Equal(t, 3, beat.SlotCount)
	assert.Equal(t, []pd.ProcessReport{
		{EPID: "p1", Round: 1, State: pd.StateRunning},
		{EPID: "p2", Round: 0, State: pd.StateTerminated},
	}, beat.Processes)
}

func TestDecodeHeartbeatErrors(t *testing.T) {
	tests := map[string]struct {
		in   string
		want string
	}{
		"unknown field":       {`{"sender_id":"e","node_id":"n","engine_type":"py","processes":[],"slot_count":1,"extra":true}`, "unknown field"},
		"missing sender":      {`{"node_id":"n","engine_type":"py","processes":[],"slot_count":1}`, "sender_id"},
		"missing node":        {`{"sender_id":"e","engine_type":"py","processes":[],"slot_count":1}`, "node_id"},
		"missing engine type": {`{"sender_id":"e","node_id":"n","processes":[],"slot_count":1}`, "engine_type"},
		"missing slot count":  {`{"sender_id":"e","node_id":"n","engine_type":"py","processes":[]}`, "slot_count"},
		"missing processes":   {`{"sender_id":"e","node_id":"n","engine_type":"py","slot_count":1}`, "processes"},
		"null processes":      {`{"sender_id":"e","node_id":"n","engine_type":"py","processes":null,"slot_count":1}`, "processes"},
		"only ids":            {`{"sender_id":"ee-1","node_id":"n1"}`, "engine_type"},
		"negative slots":      {`{"sender_id":"e","node_id":"n","engine_type":"py","processes":[],"slot_count":-1}`, "negative"},
		"no epid":             {`{"sender_id":"e","node_id":"n","engine_type":"py","slot_count":1,"processes":[{"round":0,"state":"RUNNING"}]}`, "epid"},
		"no round":            {`{"sender_id":"e","node_id":"n","engine_type":"py","slot_count":1,"processes":[{"epid":"p","state":"RUNNING"}]}`, "round"},
		"negative round":      {`{"sender_id":"e","node_id":"n","engine_type":"py","slot_count":1,"processes":[{"epid":"p","round":-1,"state":"RUNNING"}]}`, "negative"},
		"no state":            {`{"sender_id":"e","node_id":"n","engine_type":"py","slot_count":1,"processes":[{"epid":"p","round":0}]}`, "state"},
		"bad state":           {`{"sender_id":"e","node_id":"n","engine_type":"py","slot_count":1,"processes":[{"epid":"p","round":0,"state":"NAPPING"}]}`, "NAPPING"},
		"not json":            {`heartbeat`, "decode heartbeat"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeHeartbeat(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeHeartbeatAcceptsIdleEngine(t *testing.T) {
	msg, err := DecodeHeartbeat(strings.NewReader(`{"sender_id":"ee-1","node_id":"n1","engine_type":"py","processes":[],"slot_count":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0, msg.SlotCount)
	assert.Empty(t, msg.Processes)
}

func TestDecodeNodeState(t *testing.T) {
	msg, err := DecodeNodeState(strings.NewReader(`{"node_id":"n1","deployable_type":"dt","state":"terminated","properties":{"site":"east"}}`))
	require.NoError(t, err)

	ns := msg.NodeState()
	assert.Equal(t, pd.NodeTerminated, ns.State)
	assert.Equal(t, "east", ns.Properties["site"])

	_, err = DecodeNodeState(strings.NewReader(`{"node_id":"n1","state":"EXPLODED"}`))
	assert.Error(t, err)
	_, err = DecodeNodeState(strings.NewReader(`{"state":"RUNNING"}`))
	assert.Error(t, err)
}
