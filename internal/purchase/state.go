package purchase

import (
	"github.com/google/uuid"
)

// SessionID identifies one purchase process for its entire lifetime.
type SessionID string

// NewSessionID generates a fresh random session id.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ParseSessionID validates that raw is a UUID.
func ParseSessionID(raw string) (SessionID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", &Error{Kind: KindValidation, Op: "purchase.ParseSessionID", Message: "session id must be a uuid", Err: err}
	}
	return SessionID(id.String()), nil
}

func (id SessionID) String() string { return string(id) }

// State is the top-level lifecycle state of a purchase process.
type State string

const (
	StateValid      State = "valid"
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateProcessed  State = "processed"
	StateDeclined   State = "declined"
	StateAborted    State = "aborted"
)

// allowedTransitions lists every legal edge of the state machine.
var allowedTransitions = map[State][]State{
	StateValid:      {StatePending, StateProcessing, StateDeclined, StateAborted},
	StatePending:    {StateProcessing, StateDeclined, StateAborted},
	StateProcessing: {StatePending, StateProcessed, StateDeclined, StateAborted},
	StateProcessed:  {},
	StateDeclined:   {},
	StateAborted:    {},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateProcessed || s == StateDeclined || s == StateAborted
}

func (s State) String() string { return string(s) }

// ActionType is the hint telling a client what to do next.
type ActionType string

const (
	ActionRenderGateway     ActionType = "renderGateway"
	ActionRedirectToURL     ActionType = "redirectToUrl"
	ActionValidateCaptcha   ActionType = "validateCaptcha"
	ActionDeviceDetection3D ActionType = "deviceDetection3D"
	ActionAuthenticate3D    ActionType = "authenticate3D"
	ActionFinishProcess     ActionType = "finishProcess"
	ActionRestartProcess    ActionType = "restartProcess"
)

// NextAction is returned with every result and with recoverable errors.
type NextAction struct {
	Type        ActionType    `json:"type"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
	ThreeD      *ThreeDAction `json:"threeD,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// ThreeDAction is the client-facing subset of the 3-D Secure artifacts.
type ThreeDAction struct {
	Version             int    `json:"version,omitempty"`
	ACS                 string `json:"acs,omitempty"`
	PaReq               string `json:"pareq,omitempty"`
	DeviceCollectionURL string `json:"deviceCollectionUrl,omitempty"`
	DeviceCollectionJWT string `json:"deviceCollectionJwt,omitempty"`
}
