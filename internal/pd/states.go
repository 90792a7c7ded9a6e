package pd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// State is the lifecycle state of a process. States are ordered; several
// transitions compare against StateRunning, StateTerminating and StateTerminated.
type State int

const (
	StateRequested     State = 100
	StateWaiting       State = 200
	StatePending       State = 300
	StateRunning       State = 400
	StateDiedRequested State = 500
	StateTerminating   State = 600
	StateTerminated    State = 700
	StateRejected      State = 800
	StateFailed        State = 900
)

var stateNames = map[State]string{
	StateRequested:     "REQUESTED",
	StateWaiting:       "WAITING",
	StatePending:       "PENDING",
	StateRunning:       "RUNNING",
	StateDiedRequested: "DIED_REQUESTED",
	StateTerminating:   "TERMINATING",
	StateTerminated:    "TERMINATED",
	StateRejected:      "REJECTED",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the process will never run again.
func (s State) Terminal() bool {
	return s >= StateTerminated
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseState accepts a state name (case-insensitive) or its numeric code.
func ParseState(v string) (State, error) {
	name := strings.ToUpper(strings.TrimSpace(v))
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	if code, err := strconv.Atoi(name); err == nil && State(code).Valid() {
		return State(code), nil
	}
	return 0, fmt.Errorf("unknown process state %q", v)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		parsed, err := ParseState(name)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	var code int
	if err := json.Unmarshal(b, &code); err != nil {
		return fmt.Errorf("process state must be a name or code: %s", string(b))
	}
	if !State(code).Valid() {
		return fmt.Errorf("unknown process state code %d", code)
	}
	*s = State(code)
	return nil
}

// NodeLifecycle is the provisioning state of a node reported by the node-state feed.
type NodeLifecycle string

const (
	NodeRequested   NodeLifecycle = "REQUESTED"
	NodePending     NodeLifecycle = "PENDING"
	NodeStarted     NodeLifecycle = "STARTED"
	NodeRunning     NodeLifecycle = "RUNNING"
	NodeTerminating NodeLifecycle = "TERMINATING"
	NodeTerminated  NodeLifecycle = "TERMINATED"
	NodeFailed      NodeLifecycle = "FAILED"
)

// Valid reports whether l is one of the lifecycle states above.
func (l NodeLifecycle) Valid() bool {
	switch l {
	case NodeRequested, NodePending, NodeStarted, NodeRunning,
		NodeTerminating, NodeTerminated, NodeFailed:
		return true
	}
	return false
}

// Gone reports whether the node is going away and its processes must be rescheduled.
func (l NodeLifecycle) Gone() bool {
	return l == NodeTerminating || l == NodeTerminated
}
