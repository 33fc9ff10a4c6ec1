package rpc

import (
	"errors"
	"fmt"
)

// Error is a typed RPC failure carrying a canonical code. Partitions and
// handlers return it; the gateway serializes it to the wire envelope.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Message
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromError classifies err as an *Error. A nil err maps to nil; anything
// that is not already typed becomes internal with the original message.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
