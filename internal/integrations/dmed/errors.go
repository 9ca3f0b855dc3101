package dmed

import (
	"errors"
	"fmt"
)

var (
	// ErrBadGateway marks a well-formed error payload returned by a registry.
	ErrBadGateway = errors.New("dmed: bad gateway")
	// ErrTransport covers timeouts, connection failures, unexpected statuses and undecodable bodies.
	ErrTransport = errors.New("dmed: transport failure")
)

type Error struct {
	Kind     error
	Op       string
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s (%s)", e.Kind, e.Op, e.Endpoint)
	if e.Status != 0 {
		msg += fmt.Sprintf(" http %d", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func IsBadGateway(err error) bool {
	return errors.Is(err, ErrBadGateway)
}

func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
