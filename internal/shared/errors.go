package shared

import "fmt"

// ============================================================================
// Error Types
// ============================================================================

// SwarmError is the base error type for all swarmkit errors. Code is a stable
// tag ("swarm_not_found", "swarm_full", ...) that callers can switch on.
type SwarmError struct {
	Code    string
	Message string
	Details map[string]string
}

func (e *SwarmError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any SwarmError carrying the same code, so detailed errors built
// with With compare equal to the sentinels below.
func (e *SwarmError) Is(target error) bool {
	t, ok := target.(*SwarmError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy of the error annotated with a message and key/value
// details. kv is read pairwise; a trailing odd key is ignored.
func (e *SwarmError) With(message string, kv ...string) *SwarmError {
	details := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		details[kv[i]] = kv[i+1]
	}
	return &SwarmError{Code: e.Code, Message: message, Details: details}
}

// NewSwarmError creates a new SwarmError.
func NewSwarmError(code, message string) *SwarmError {
	return &SwarmError{Code: code, Message: message}
}

// Not found.
var (
	ErrSwarmNotFound   = NewSwarmError("swarm_not_found", "")
	ErrAgentNotFound   = NewSwarmError("agent_not_found", "")
	ErrMarkerNotFound  = NewSwarmError("marker_not_found", "")
	ErrFactNotFound    = NewSwarmError("fact_not_found", "")
	ErrSessionNotFound = NewSwarmError("session_not_found", "")
	ErrAuctionNotFound = NewSwarmError("auction_not_found", "")
	ErrTaskNotFound    = NewSwarmError("task_not_found", "")
	ErrBehaviorUnknown = NewSwarmError("behavior_not_found", "")
)

// Not allowed / not applicable.
var (
	ErrSwarmDissolved      = NewSwarmError("swarm_dissolved", "")
	ErrSwarmFull           = NewSwarmError("swarm_full", "")
	ErrAlreadyMember       = NewSwarmError("already_member", "")
	ErrNotMember           = NewSwarmError("not_member", "")
	ErrInvalidState        = NewSwarmError("invalid_state", "")
	ErrInvalidKey          = NewSwarmError("invalid_key", "")
	ErrNoProposals         = NewSwarmError("no_proposals", "")
	ErrSessionResolved     = NewSwarmError("session_resolved", "")
	ErrInvalidChoice       = NewSwarmError("invalid_choice", "")
	ErrAuctionClosed       = NewSwarmError("auction_closed", "")
	ErrAuctionAwarded      = NewSwarmError("auction_awarded", "")
	ErrMissingCapability   = NewSwarmError("missing_capability", "")
	ErrNoAgents            = NewSwarmError("no_agents", "")
	ErrTaskAlreadyAssigned = NewSwarmError("task_already_assigned", "")
	ErrNothingToSteal      = NewSwarmError("nothing_to_steal", "")
	ErrRetriesExhausted    = NewSwarmError("retries_exhausted", "")
	ErrNoHealthyCandidate  = NewSwarmError("no_healthy_candidate", "")
)
