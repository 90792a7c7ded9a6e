package pd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conductor/internal/constraint"
	"github.com/mattjoyce/conductor/internal/pd"
	"github.com/mattjoyce/conductor/internal/pd/mocks"
)

// recordingNotifier captures every notification in order.
type recordingNotifier struct {
	mu    sync.Mutex
	procs []pd.Process
}

func (n *recordingNotifier) Notify(_ context.Context, p pd.Process) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.procs = append(n.procs, p)
	return nil
}

func (n *recordingNotifier) states(epid string) []pd.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []pd.State
	for _, p := range n.procs {
		if p.EPID == epid {
			out = append(out, p.State)
		}
	}
	return out
}

type testEnv struct {
	core     *pd.Core
	agent    *mocks.MockAgentClient
	notifier *recordingNotifier
	logs     *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	agent := mocks.NewMockAgentClient(ctrl)
	notifier := &recordingNotifier{}
	return &testEnv{
		core:     pd.New(agent, notifier, logger),
		agent:    agent,
		notifier: notifier,
		logs:     &buf,
	}
}

func (e *testEnv) node(t *testing.T, nodeID string, props constraint.Properties) {
	t.Helper()
	require.NoError(t, e.core.DTState(context.Background(), pd.NodeState{
		NodeID:         nodeID,
		DeployableType: "worker-dt",
		State:          pd.NodeRunning,
		Properties:     props,
	}))
}

func (e *testEnv) beat(t *testing.T, eeID, nodeID string, slots int, reports ...pd.ProcessReport) {
	t.Helper()
	require.NoError(t, e.core.EEHeartbeat(context.Background(), eeID, pd.Heartbeat{
		NodeID:     nodeID,
		EngineType: "py",
		Processes:  reports,
		SlotCount:  slots,
	}))
}

func (e *testEnv) dispatch(t *testing.T, epid string, c constraint.Constraints, immediate bool) *pd.Process {
	t.Helper()
	p, err := e.core.DispatchProcess(context.Background(), pd.DispatchRequest{
		EPID:        epid,
		Spec:        json.RawMessage(`{"run":"` + epid + `"}`),
		Subscribers: []string{"sub-" + epid},
		Constraints: c,
		Immediate:   immediate,
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func report(epid string, round int, state pd.State) pd.ProcessReport {
	return pd.ProcessReport{EPID: epid, Round: round, State: state}
}

func TestDispatchToSingleSlotThenRunning(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 1)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil).Times(1)

	p := env.dispatch(t, "p1", nil, false)
	assert.Equal(t, pd.StatePending, p.State)
	assert.Equal(t, "ee-1", p.Assigned)

	dump := env.core.Dump()
	assert.Equal(t, 0, dump.Resources["ee-1"].AvailableSlots)

	env.beat(t, "ee-1", "node-1", 1, report("p1", 0, pd.StateRunning))

	dump = env.core.Dump()
	assert.Equal(t, pd.StateRunning, dump.Processes["p1"].State)
	assert.Equal(t, []string{"p1"}, dump.Resources["ee-1"].Processes)
	assert.Equal(t, []pd.State{pd.StatePending, pd.StateRunning}, env.notifier.states("p1"))
}

func TestDumpReportsLastHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)

	before := time.Now().UTC()
	env.beat(t, "ee-1", "node-1", 1)
	first := env.core.Dump().Resources["ee-1"].LastHeartbeat
	assert.False(t, first.Before(before))

	env.beat(t, "ee-1", "node-1", 1)
	assert.False(t, env.core.Dump().Resources["ee-1"].LastHeartbeat.Before(first))
}

func TestDispatchIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 4)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil).Times(1)

	first := env.dispatch(t, "p1", nil, false)
	second, err := env.core.DispatchProcess(context.Background(), pd.DispatchRequest{
		EPID: "p1",
		Spec: json.RawMessage(`{"run":"something else"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, env.logs.String(), "dispatch retry with a different spec")
}

func TestDispatchImmediateWithoutResourcesIsRejected(t *testing.T) {
	env := newTestEnv(t)

	p := env.dispatch(t, "p1", nil, true)

	assert.Equal(t, pd.StateRejected, p.State)
	assert.Empty(t, env.core.Dump().Queue)
	assert.Equal(t, 0, env.core.QueueDepth())
}

func TestDispatchWithoutResourcesWaitsOnce(t *testing.T) {
	env := newTestEnv(t)

	p := env.dispatch(t, "p1", nil, false)
	assert.Equal(t, pd.StateWaiting, p.State)

	again := env.dispatch(t, "p1", nil, false)
	assert.Equal(t, pd.StateWaiting, again.State)
	assert.Equal(t, []string{"p1"}, env.core.Dump().Queue)
}

func TestCompactionPrefersSmallestSlotCount(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-a", "node-1", 2)
	env.beat(t, "ee-b", "node-1", 1)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-b", "p1", 0, gomock.Any()).Return(nil)

	p := env.dispatch(t, "p1", nil, false)
	assert.Equal(t, "ee-b", p.Assigned)
}

func TestConstraintsSelectMatchingResource(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-west", constraint.Properties{"site": "west"})
	env.node(t, "node-east", constraint.Properties{"site": "east"})
	env.beat(t, "ee-a", "node-west", 1)
	env.beat(t, "ee-b", "node-east", 2)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-b", "p1", 0, gomock.Any()).Return(nil)

	p := env.dispatch(t, "p1", constraint.Constraints{"site": "east"}, false)
	assert.Equal(t, "ee-b", p.Assigned)
}

func TestEngineTypeIsAConstraintProperty(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 1)

	p := env.dispatch(t, "p1", constraint.Constraints{pd.EngineTypeProperty: "java"}, true)
	assert.Equal(t, pd.StateRejected, p.State)
}

func TestQueueDrainsInFIFOOrderOnNewSlots(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", constraint.Properties{"site": "east"})

	env.dispatch(t, "p1", nil, false)
	env.dispatch(t, "p2", nil, false)
	env.dispatch(t, "p3", nil, false)
	env.dispatch(t, "p4", constraint.Constraints{"site": "west"}, false)
	require.Equal(t, []string{"p1", "p2", "p3", "p4"}, env.core.Dump().Queue)

	gomock.InOrder(
		env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil),
		env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p2", 0, gomock.Any()).Return(nil),
	)
	env.beat(t, "ee-1", "node-1", 2)

	dump := env.core.Dump()
	assert.Equal(t, []string{"p3", "p4"}, dump.Queue)
	assert.Equal(t, pd.StatePending, dump.Processes["p1"].State)
	assert.Equal(t, pd.StatePending, dump.Processes["p2"].State)
	assert.Equal(t, pd.StateWaiting, dump.Processes["p3"].State)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p3", 0, gomock.Any()).Return(nil)
	env.beat(t, "ee-1", "node-1", 3)

	dump = env.core.Dump()
	assert.Equal(t, []string{"p4"}, dump.Queue)
	assert.Equal(t, pd.StateWaiting, dump.Processes["p4"].State)
}

func TestUnchangedSlotCountDoesNotDrain(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 0)

	env.dispatch(t, "p1", nil, false)
	env.beat(t, "ee-1", "node-1", 0)

	assert.Equal(t, []string{"p1"}, env.core.Dump().Queue)
}

func TestDeathReschedulesAndStaleRoundIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 1)

	gomock.InOrder(
		env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil),
		env.agent.EXPECT().Cleanup(gomock.Any(), "ee-1", "p1", 0).Return(nil),
		env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 1, gomock.Any()).Return(nil),
	)

	env.dispatch(t, "p1", nil, false)
	env.beat(t, "ee-1", "node-1", 1, report("p1", 0, pd.StateFailed))

	dump := env.core.Dump()
	assert.Equal(t, 1, dump.Processes["p1"].Round)
	assert.Equal(t, pd.StatePending, dump.Processes["p1"].State)
	assert.Equal(t, "ee-1", dump.Processes["p1"].Assigned)
	assert.Equal(t,
		[]pd.State{pd.StatePending, pd.StateDiedRequested, pd.StatePending},
		env.notifier.states("p1"))

	// A late report from the superseded round must not change anything.
	env.beat(t, "ee-1", "node-1", 1, report("p1", 0, pd.StateRunning))
	dump = env.core.Dump()
	assert.Equal(t, pd.StatePending, dump.Processes["p1"].State)
	assert.Equal(t, 1, dump.Processes["p1"].Round)
	assert.Equal(t, 0, dump.Resources["ee-1"].AvailableSlots)
}

func TestDeathWithoutCapacityRequeues(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 1)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil)
	env.agent.EXPECT().Cleanup(gomock.Any(), "ee-1", "p1", 0).Return(nil)

	env.dispatch(t, "p1", nil, false)
	env.beat(t, "ee-1", "node-1", 0, report("p1", 0, pd.StateRunning))
	env.beat(t, "ee-1", "node-1", 0, report("p1", 0, pd.StateTerminated))

	dump := env.core.Dump()
	assert.Equal(t, pd.StateWaiting, dump.Processes["p1"].State)
	assert.Equal(t, []string{"p1"}, dump.Queue)
}

func TestTerminateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 1)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil)
	env.agent.EXPECT().Terminate(gomock.Any(), "ee-1", "p1", 0).Return(nil).Times(1)
	env.agent.EXPECT().Cleanup(gomock.Any(), "ee-1", "p1", 0).Return(nil)

	env.dispatch(t, "p1", nil, false)
	env.beat(t, "ee-1", "node-1", 1, report("p1", 0, pd.StateRunning))

	p, err := env.core.TerminateProcess(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, pd.StateTerminating, p.State)

	// Retrying does not resend the terminate call.
	p, err = env.core.TerminateProcess(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, pd.StateTerminating, p.State)

	env.beat(t, "ee-1", "node-1", 1, report("p1", 0, pd.StateTerminated))

	dump := env.core.Dump()
	assert.Equal(t, pd.StateTerminated, dump.Processes["p1"].State)
	assert.Empty(t, dump.Processes["p1"].Assigned)
	assert.Empty(t, dump.Resources["ee-1"].Processes)

	p, err = env.core.TerminateProcess(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, pd.StateTerminated, p.State)
}

func TestTerminateFailureKeepsState(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 1)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil)
	env.agent.EXPECT().Terminate(gomock.Any(), "ee-1", "p1", 0).Return(errors.New("timeout"))

	env.dispatch(t, "p1", nil, false)
	p, err := env.core.TerminateProcess(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, pd.StatePending, p.State)
}

func TestTerminateWaitingProcessLeavesQueue(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)

	env.dispatch(t, "p1", nil, false)
	env.dispatch(t, "p2", nil, false)

	p, err := env.core.TerminateProcess(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, pd.StateTerminated, p.State)
	assert.Equal(t, []string{"p2"}, env.core.Dump().Queue)

	// New capacity must only pick up the still-waiting process.
	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p2", 0, gomock.Any()).Return(nil)
	env.beat(t, "ee-1", "node-1", 2)

	assert.Equal(t, pd.StateTerminated, env.core.Dump().Processes["p1"].State)
}

func TestTerminateUnknownProcess(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.core.TerminateProcess(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, p)
	assert.Contains(t, env.logs.String(), "terminate requested for unknown process")
}

func TestNodeTerminationReschedulesHostedProcesses(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 3)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", gomock.Any(), 0, gomock.Any()).Return(nil).Times(3)
	env.dispatch(t, "p1", nil, false)
	env.dispatch(t, "p2", nil, false)
	env.dispatch(t, "p3", nil, false)

	// p1 and p2 confirmed running; p3 still pending on the agent.
	env.beat(t, "ee-1", "node-1", 3, report("p1", 0, pd.StateRunning), report("p2", 0, pd.StateRunning))

	env.agent.EXPECT().Terminate(gomock.Any(), "ee-1", "p2", 0).Return(nil)
	_, err := env.core.TerminateProcess(context.Background(), "p2")
	require.NoError(t, err)

	env.node(t, "node-2", nil)
	env.beat(t, "ee-2", "node-2", 1)

	gomock.InOrder(
		env.agent.EXPECT().Terminate(gomock.Any(), "ee-1", "p1", 0).Return(nil),
		env.agent.EXPECT().Dispatch(gomock.Any(), "ee-2", "p1", 1, gomock.Any()).Return(nil),
		env.agent.EXPECT().Terminate(gomock.Any(), "ee-1", "p2", 0).Return(errors.New("node gone")),
		env.agent.EXPECT().Terminate(gomock.Any(), "ee-1", "p3", 0).Return(nil),
	)

	require.NoError(t, env.core.DTState(context.Background(), pd.NodeState{NodeID: "node-1", State: pd.NodeTerminated}))

	dump := env.core.Dump()
	assert.NotContains(t, dump.Resources, "ee-1")
	assert.Contains(t, dump.Resources, "ee-2")

	assert.Equal(t, pd.ProcessDump{EPID: "p1", Round: 1, State: pd.StatePending, Assigned: "ee-2"}, dump.Processes["p1"])
	assert.Equal(t, pd.ProcessDump{EPID: "p2", Round: 0, State: pd.StateTerminated}, dump.Processes["p2"])
	assert.Equal(t, pd.ProcessDump{EPID: "p3", Round: 1, State: pd.StateWaiting}, dump.Processes["p3"])
	assert.Equal(t, []string{"p3"}, dump.Queue)

	for epid, p := range dump.Processes {
		assert.NotEqual(t, "ee-1", p.Assigned, "process %s still points at a removed resource", epid)
	}
}

func TestNodeTerminationIgnoresProcessesReassignedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.node(t, "node-2", nil)
	env.beat(t, "ee-1", "node-1", 1)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil)
	env.dispatch(t, "p1", nil, false)
	env.beat(t, "ee-1", "node-1", 1, report("p1", 0, pd.StateRunning))

	// ee-1 loses p1, which moves to ee-2 at round 1, while ee-1 keeps listing it.
	env.agent.EXPECT().Cleanup(gomock.Any(), "ee-1", "p1", 0).Return(nil)
	env.beat(t, "ee-1", "node-1", 0, report("p1", 0, pd.StateRunning))
	env.beat(t, "ee-1", "node-1", 0, report("p1", 0, pd.StateFailed))
	require.Equal(t, []string{"p1"}, env.core.Dump().Queue)
	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-2", "p1", 1, gomock.Any()).Return(nil)
	env.beat(t, "ee-2", "node-2", 1)
	env.beat(t, "ee-1", "node-1", 0, report("p1", 0, pd.StateRunning))

	require.NoError(t, env.core.DTState(context.Background(), pd.NodeState{NodeID: "node-1", State: pd.NodeTerminating}))

	dump := env.core.Dump()
	assert.Equal(t, pd.ProcessDump{EPID: "p1", Round: 1, State: pd.StatePending, Assigned: "ee-2"}, dump.Processes["p1"])
}

func TestHeartbeatFromUnknownNodeIsDropped(t *testing.T) {
	env := newTestEnv(t)

	env.beat(t, "ee-1", "node-unknown", 4)

	assert.Empty(t, env.core.Dump().Resources)
	assert.Contains(t, env.logs.String(), "heartbeat from unknown node")
}

func TestHeartbeatReportingUnknownProcess(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)

	env.beat(t, "ee-1", "node-1", 0, report("ghost", 0, pd.StateRunning))

	dump := env.core.Dump()
	assert.Equal(t, []string{"ghost"}, dump.Resources["ee-1"].Processes)
	assert.Empty(t, dump.Processes)
	assert.Contains(t, env.logs.String(), "execution engine reports unknown process")
}

func TestResourceInheritsNodeProperties(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", constraint.Properties{"site": "east"})
	env.beat(t, "ee-1", "node-1", 1)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(nil)
	p := env.dispatch(t, "p1", constraint.Constraints{"site": "east", pd.EngineTypeProperty: "py"}, true)
	assert.Equal(t, pd.StatePending, p.State)
}

func TestNodeStateEdgeCases(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.NoError(t, env.core.DTState(ctx, pd.NodeState{NodeID: "nope", State: pd.NodeTerminated}))
	assert.Contains(t, env.logs.String(), "node state for unknown node")

	assert.NoError(t, env.core.DTState(ctx, pd.NodeState{NodeID: "node-1", State: pd.NodeStarted}))
	env.beat(t, "ee-1", "node-1", 1)
	assert.Empty(t, env.core.Dump().Resources, "STARTED must not register the node")

	env.node(t, "node-1", constraint.Properties{"site": "east"})
	env.node(t, "node-1", constraint.Properties{"site": "west"})
	env.beat(t, "ee-1", "node-1", 1)
	assert.Len(t, env.core.Dump().Resources, 1)
}

func TestInvalidRequestsMutateNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.core.DispatchProcess(ctx, pd.DispatchRequest{})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)

	_, err = env.core.DispatchProcess(ctx, pd.DispatchRequest{
		EPID:        "p1",
		Constraints: constraint.Constraints{"site": map[string]any{"bad": true}},
	})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)
	_, known := env.core.Process("p1")
	assert.False(t, known)

	err = env.core.EEHeartbeat(ctx, "", pd.Heartbeat{NodeID: "n", EngineType: "py"})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)
	err = env.core.EEHeartbeat(ctx, "ee-1", pd.Heartbeat{NodeID: "n"})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)
	err = env.core.EEHeartbeat(ctx, "ee-1", pd.Heartbeat{NodeID: "n", EngineType: "py", SlotCount: -1})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)
	err = env.core.EEHeartbeat(ctx, "ee-1", pd.Heartbeat{NodeID: "n", EngineType: "py", Processes: []pd.ProcessReport{{EPID: "p", State: 42}}})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)

	err = env.core.DTState(ctx, pd.NodeState{State: pd.NodeRunning})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)
	err = env.core.DTState(ctx, pd.NodeState{NodeID: "n", State: "BOGUS"})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)
	err = env.core.DTState(ctx, pd.NodeState{NodeID: "n"})
	assert.ErrorIs(t, err, pd.ErrInvalidRequest)
	assert.Empty(t, env.core.Dump().Resources)

	// Known states the core has nothing to do for are accepted.
	for _, s := range []pd.NodeLifecycle{pd.NodeRequested, pd.NodePending, pd.NodeStarted, pd.NodeFailed} {
		assert.NoError(t, env.core.DTState(ctx, pd.NodeState{NodeID: "n", State: s}), s)
	}
}

func TestDispatchFailureIsReturnedAndRetryIsSafe(t *testing.T) {
	env := newTestEnv(t)
	env.node(t, "node-1", nil)
	env.beat(t, "ee-1", "node-1", 1)

	env.agent.EXPECT().Dispatch(gomock.Any(), "ee-1", "p1", 0, gomock.Any()).Return(errors.New("agent unreachable")).Times(1)

	p, err := env.core.DispatchProcess(context.Background(), pd.DispatchRequest{EPID: "p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pd.ErrDispatchFailed)
	assert.Equal(t, pd.StatePending, p.State)
	assert.Equal(t, 1, strings.Count(env.logs.String(), `"level":"ERROR"`), env.logs.String())

	p, err = env.core.DispatchProcess(context.Background(), pd.DispatchRequest{EPID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, pd.StatePending, p.State)
}

func TestNotifierFailureDoesNotBlockTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	agent := mocks.NewMockAgentClient(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	core := pd.New(agent, notifier, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))

	notifier.EXPECT().Notify(gomock.Any(), stateMatcher{epid: "p1", state: pd.StateWaiting}).
		Return(errors.New("subscriber down"))

	p, err := core.DispatchProcess(context.Background(), pd.DispatchRequest{EPID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, pd.StateWaiting, p.State)
}

// stateMatcher matches a notified process by epid and state.
type stateMatcher struct {
	epid  string
	state pd.State
}

func (m stateMatcher) Matches(x interface{}) bool {
	p, ok := x.(pd.Process)
	return ok && p.EPID == m.epid && p.State == m.state
}

func (m stateMatcher) String() string {
	return "process " + m.epid + " in state " + m.state.String()
}
