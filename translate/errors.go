package translate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an oracle failure.
type ErrorKind int

const (
	// KindTransient covers timeouts, transport errors and retryable HTTP
	// statuses. The batch retry loop retries these.
	KindTransient ErrorKind = iota + 1
	// KindMalformed means the oracle answered with something that is not a
	// JSON object. Never retried.
	KindMalformed
	// KindFormatting means placeholder markers were still wrong after every
	// repair round.
	KindFormatting
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindFormatting:
		return "formatting"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a tagged oracle failure.
type Error struct {
	Kind ErrorKind
	// Msg is the operator-facing message. When empty, Err is used.
	Msg string
	Err error
	// Timeout is set for transient failures caused by a deadline.
	Timeout bool
	// DumpPath points at the diagnostic file written for this failure, if any.
	DumpPath string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String() + " oracle error"
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable oracle failure.
func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindTransient
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

func transient(err error, timeout bool) *Error {
	return &Error{Kind: KindTransient, Err: err, Timeout: timeout}
}
