package tp

import (
	"errors"
	"fmt"
)

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// Outcome is the final result of one message transfer.
type Outcome uint8

const (
	Success Outcome = iota
	Timeout
	SequenceError
	Overflow
	Cancelled
	CapacityExceeded
	WaitLimitExceeded
	InvalidFrame
	Interrupted
	LinkFailure
)

var outcomeNames = [...]string{
	Success:           "success",
	Timeout:           "timeout",
	SequenceError:     "sequence_error",
	Overflow:          "overflow",
	Cancelled:         "cancelled",
	CapacityExceeded:  "capacity_exceeded",
	WaitLimitExceeded: "wait_limit_exceeded",
	InvalidFrame:      "invalid_frame",
	Interrupted:       "interrupted",
	LinkFailure:       "link_failure",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// Err returns nil for Success and the matching sentinel otherwise.
func (o Outcome) Err() error {
	switch o {
	case Success:
		return nil
	case Timeout:
		return ErrTimeout
	case SequenceError:
		return ErrSequence
	case Overflow:
		return ErrOverflow
	case Cancelled:
		return ErrCancelled
	case CapacityExceeded:
		return ErrCapacityExceeded
	case WaitLimitExceeded:
		return ErrWaitLimit
	case InvalidFrame:
		return ErrInvalidFrame
	case Interrupted:
		return ErrInterrupted
	case LinkFailure:
		return ErrLinkFailure
	default:
		return NewIsoTpError(o.String())
	}
}

type IsoTpError struct {
	msg string
}

func NewIsoTpError(msg string) IsoTpError {
	return IsoTpError{msg: msg}
}

func (e IsoTpError) Error() string {
	return messageOrDefault(e.msg, "ISO-TP error")
}

var (
	ErrTimeout          = NewIsoTpError("transport timer expired")
	ErrSequence         = NewIsoTpError("wrong consecutive frame sequence number")
	ErrOverflow         = NewIsoTpError("receiver reported overflow")
	ErrCancelled        = NewIsoTpError("transfer cancelled")
	ErrCapacityExceeded = NewIsoTpError("no free channel")
	ErrWaitLimit        = NewIsoTpError("maximum number of wait frames reached")
	ErrInvalidFrame     = NewIsoTpError("invalid frame received")
	ErrInterrupted      = NewIsoTpError("reception interrupted by a new message")
	ErrLinkFailure      = NewIsoTpError("data link refused frame")
	ErrChannelBusy      = NewIsoTpError("a transfer is already active for this pair")
	ErrClosed           = NewIsoTpError("transport layer closed")
)

// TimeoutError names the timer that expired.
type TimeoutError struct {
	IsoTpError
	Timer string
}

func (e TimeoutError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("timer %s expired", e.Timer))
}

func (e TimeoutError) Unwrap() error { return ErrTimeout }

type WrongSequenceNumberError struct {
	IsoTpError
	Expected uint8
	Got      uint8
}

func (e WrongSequenceNumberError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("wrong sequence number: expected %d, got %d", e.Expected, e.Got))
}

func (e WrongSequenceNumberError) Unwrap() error { return ErrSequence }

type FrameTooLongError struct {
	IsoTpError
	Size  int
	Limit int
}

func (e FrameTooLongError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("payload of %d bytes exceeds limit %d", e.Size, e.Limit))
}

type UnknownAddressError struct {
	IsoTpError
	Pair fmt.Stringer
}

func (e UnknownAddressError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("no connection for %v", e.Pair))
}

// IsOutcome reports whether err carries the given outcome.
func IsOutcome(err error, o Outcome) bool {
	target := o.Err()
	if target == nil {
		return err == nil
	}
	return errors.Is(err, target)
}
