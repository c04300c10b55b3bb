package authflow

import "fmt"

// Phase is a step of the server side authorization flow. A flow moves
// strictly forward and ends in PhaseComplete or PhaseFailed.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseRedirected
	PhaseCallbackReceived
	PhaseExchanged
	PhaseSitesRegistered
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "START"
	case PhaseRedirected:
		return "REDIRECTED"
	case PhaseCallbackReceived:
		return "CALLBACK_RECEIVED"
	case PhaseExchanged:
		return "EXCHANGED"
	case PhaseSitesRegistered:
		return "SITES_REGISTERED"
	case PhaseComplete:
		return "COMPLETE"
	case PhaseFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// FlowError reports a failed flow together with the last phase it reached.
type FlowError struct {
	Phase Phase
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("authorization flow failed after %s: %v", e.Phase, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func fail(phase Phase, err error) *FlowError {
	return &FlowError{Phase: phase, Err: err}
}
