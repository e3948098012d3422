package purchase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind tags an Error so callers can switch on the failure category instead of
// on concrete error types.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConfig
	KindIllegalStateTransition
	KindSessionAlreadyProcessed
	KindMissingRedirectURL
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	case KindIllegalStateTransition:
		return "illegal_state_transition"
	case KindSessionAlreadyProcessed:
		return "session_already_processed"
	case KindMissingRedirectURL:
		return "missing_redirect_url"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code a controller should answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindIllegalStateTransition, KindMissingRedirectURL:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindSessionAlreadyProcessed:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single error type produced by the purchase domain.
// Recoverable flow conditions carry a NextAction so the client can resume.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	NextAction *NextAction
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error of the given kind.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError tags an underlying error with a kind.
func WrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// NextActionOf returns the resume payload attached to err, if any.
func NextActionOf(err error) *NextAction {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.NextAction
	}
	return nil
}

// ErrIllegalStateTransition builds the guard violation raised by the state machine.
func ErrIllegalStateTransition(from, to State) *Error {
	return &Error{
		Kind:    KindIllegalStateTransition,
		Op:      "purchase.transition",
		Message: fmt.Sprintf("illegal transition from %s to %s", from, to),
	}
}

// ErrSessionNotFound is raised when no purchase process exists for id.
func ErrSessionNotFound(id SessionID) *Error {
	return &Error{
		Kind:    KindNotFound,
		Op:      "purchase.load",
		Message: fmt.Sprintf("session %s not found", id),
	}
}

// ErrSessionAlreadyProcessed carries the existing redirect URL so the caller can resume.
func ErrSessionAlreadyProcessed(id SessionID, redirectURL string) *Error {
	next := &NextAction{Type: ActionFinishProcess}
	if redirectURL != "" {
		next = &NextAction{Type: ActionRedirectToURL, RedirectURL: redirectURL}
	}
	return &Error{
		Kind:       KindSessionAlreadyProcessed,
		Op:         "purchase.guard",
		Message:    fmt.Sprintf("session %s already processed", id),
		NextAction: next,
	}
}

// ErrMissingRedirectURL tells the client to restart the purchase.
func ErrMissingRedirectURL(id SessionID) *Error {
	return &Error{
		Kind:       KindMissingRedirectURL,
		Op:         "purchase.guard",
		Message:    fmt.Sprintf("session %s has no pending redirect url", id),
		NextAction: &NextAction{Type: ActionRestartProcess},
	}
}

// ErrorClass drives redelivery decisions of asynchronous command consumers.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassTransient
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps err onto Transient (redeliver), Permanent (drop) or Unknown (log and drop).
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	var pe *Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindTransient:
			return ClassTransient
		case KindValidation, KindNotFound, KindConfig, KindIllegalStateTransition,
			KindSessionAlreadyProcessed, KindMissingRedirectURL:
			return ClassPermanent
		}
	}
	return ClassUnknown
}

// IsPermanent reports whether err is a domain failure that retrying cannot fix.
func IsPermanent(err error) bool {
	return Classify(err) == ClassPermanent
}
