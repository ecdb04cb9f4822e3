package domain

import "errors"

// Error is a client-visible failure with a stable numeric code. The codes
// predate this implementation and must not change, clients match on them.
type Error struct {
	Code int
	Name string
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnknown         = &Error{Code: 0, Name: "Unknown", msg: "unknown error"}
	ErrGeneral         = &Error{Code: 1, Name: "General", msg: "general error"}
	ErrInvalidRequest  = &Error{Code: 2, Name: "InvalidRequest", msg: "invalid request"}
	ErrUIDUnknown      = &Error{Code: 101, Name: "UIDUnknown", msg: "unknown uid"}
	ErrEpisodeNotFound = &Error{Code: 102, Name: "EpisodeNotFound", msg: "episode not found"}
	ErrStreamNotFound  = &Error{Code: 103, Name: "StreamNotFound", msg: "stream not found"}
	ErrUserNotFound    = &Error{Code: 201, Name: "UserNotFound", msg: "user not found"}
)

// ErrorCode resolves err to its client code, ErrUnknown's for plain errors.
func ErrorCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown.Code
}

// ErrorName resolves err to its client-visible name.
func ErrorName(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Name
	}
	return ErrUnknown.Name
}
