package calls

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusy:
		return "busy"
	default:
		return "internal"
	}
}

// Error is a classified failure with a stable reason code.
// Two *Error values match under errors.Is when their codes are equal.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyInCall      = &Error{Kind: KindConflict, Code: "ALREADY_IN_CALL", Msg: "caller already has a call in progress"}
	ErrRestaurantOffline  = &Error{Kind: KindConflict, Code: "RESTAURANT_OFFLINE", Msg: "restaurant is offline"}
	ErrInvalidTransition  = &Error{Kind: KindConflict, Code: "INVALID_TRANSITION", Msg: "call cannot move to the requested status"}
	ErrRestaurantBusy     = &Error{Kind: KindBusy, Code: "RESTAURANT_BUSY", Msg: "restaurant is in another call"}
	ErrCallNotFound       = &Error{Kind: KindNotFound, Code: "CALL_NOT_FOUND", Msg: "call not found"}
	ErrRestaurantNotFound = &Error{Kind: KindNotFound, Code: "RESTAURANT_NOT_FOUND", Msg: "restaurant not found"}
	ErrCallerNotFound     = &Error{Kind: KindNotFound, Code: "SCREEN_NOT_FOUND", Msg: "screen not found"}
	ErrInvalidArgument    = &Error{Kind: KindInvalid, Code: "INVALID_ARGUMENT", Msg: "invalid argument"}
)

const codeInternal = "INTERNAL"

func invalid(msg string) error {
	return &Error{Kind: KindInvalid, Code: ErrInvalidArgument.Code, Msg: msg}
}

func internal(op string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: KindInternal, Code: codeInternal, Msg: op, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// CodeOf returns the reason code of err.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return codeInternal
}
