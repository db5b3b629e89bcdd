package fleet

import (
	"context"
	"errors"

	"github.com/srg/hopper/internal/device"
)

// Outcome messages
const (
	MessageOK      = "OK"
	MessageTimeout = "Connection timeout"
)

// Target is one panel and the payload destined for it.
type Target struct {
	Address string
	Name    string
	Payload []byte
}

// Panel identifies a panel without a payload.
type Panel struct {
	Address string
	Name    string
}

// SendOutcome is the result of delivering one payload to one panel.
// Message is "OK", "Connection timeout" or the failure text.
type SendOutcome struct {
	Address string `json:"address"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func succeeded(address string) SendOutcome {
	return SendOutcome{Address: address, Success: true, Message: MessageOK}
}

func failed(address, message string) SendOutcome {
	if message == "" {
		message = "unknown error"
	}
	return SendOutcome{Address: address, Success: false, Message: message}
}

type attemptKind int

const (
	attemptOK attemptKind = iota
	attemptTimeout
	attemptFailed
)

// attemptResult is the outcome of one bounded radio operation.
type attemptResult struct {
	kind attemptKind
	err  error
}

func (r attemptResult) message() string {
	switch r.kind {
	case attemptOK:
		return MessageOK
	case attemptTimeout:
		return MessageTimeout
	default:
		if r.err == nil {
			return "unknown error"
		}
		return r.err.Error()
	}
}

// classify maps a radio error to an attempt result. Deadline expiry of the
// attempt itself counts as a timeout; cancellation by the caller does not.
func classify(parent context.Context, err error) attemptResult {
	switch {
	case err == nil:
		return attemptResult{kind: attemptOK}
	case parent.Err() != nil:
		return attemptResult{kind: attemptFailed, err: parent.Err()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, device.ErrTimeout):
		return attemptResult{kind: attemptTimeout, err: err}
	default:
		return attemptResult{kind: attemptFailed, err: err}
	}
}
