package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRange is returned for a log query whose upper bound precedes
// its lower bound. Never retryable.
var ErrInvalidRange = errors.New("invalid block range: to < from")

// TransientError marks a remote failure worth retrying: rate limiting,
// timeouts, transient server conditions.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Wrapping nil returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, or anything it wraps, is retryable.
// This is the classifier handed to the retry policy.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RPCError is a JSON-RPC 2.0 error object returned by the remote ledger.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// transientSignatures are message fragments that identify retryable
// remote failures when the transport gives no structured signal.
var transientSignatures = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"service unavailable",
	"server overloaded",
	"try again",
}

func looksTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// classifyRPCError wraps JSON-RPC errors whose code or message indicates
// a transient server condition. Anything unmatched is fatal.
func classifyRPCError(rpcErr *RPCError) error {
	// -32005 is the conventional "limit exceeded" code used by hosted
	// EVM providers for request throttling.
	if rpcErr.Code == -32005 {
		return Transient(rpcErr)
	}
	if looksTransient(rpcErr) {
		return Transient(rpcErr)
	}
	return rpcErr
}
