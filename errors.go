// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"errors"
	"fmt"
)

var (
	// ErrConnClosed is returned by operations on a handle whose netlink
	// channel has been closed.
	ErrConnClosed = errors.New("nfq: connection closed")

	// ErrNotBound is returned when a queue is created before the handle has
	// been bound to a protocol family.
	ErrNotBound = errors.New("nfq: handle not bound to a protocol family")

	// ErrTruncated is returned when a fixed-layout header is decoded from a
	// byte slice whose length does not match the wire size.
	ErrTruncated = errors.New("nfq: truncated header")
)

// PayloadSizeError reports a payload whose length does not match the wire
// size of the requested payload type. It usually means the queue's copy mode
// does not match the type the handler asked for.
type PayloadSizeError struct {
	Want int // wire size of the requested type
	Got  int // bytes the kernel actually copied
}

func (e *PayloadSizeError) Error() string {
	return fmt.Sprintf("nfq: payload is %d bytes, requested type wants %d", e.Got, e.Want)
}

// TeardownError reports a queue whose kernel-side registration could not be
// released. The registration is leaked until the netlink socket closes; the
// caller decides whether that is fatal.
type TeardownError struct {
	Queue uint16
	Err   error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("nfq: unbind queue %d: %v", e.Queue, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
