// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"io"
)

// ProtocolError reports a message that does not match the wire
// contract: a short read or write, or a value the contract forbids
// (such as a negative file size). It is always fatal for the channel.
type ProtocolError struct {
	// Channel is the name of the channel the violation occurred on.
	Channel string

	// Op describes the exchange, e.g. "read DATA reply".
	Op string

	// Want and Got are byte counts for length mismatches. Both are
	// zero when Reason is set.
	Want int
	Got  int

	// Reason describes a non-length violation.
	Reason string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	message := fmt.Sprintf("protocol violation on channel %q: %s: ", e.Channel, e.Op)
	if e.Reason != "" {
		message += e.Reason
	} else {
		message += fmt.Sprintf("transferred %d bytes, want %d", e.Got, e.Want)
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Violation returns a ProtocolError for a value the wire contract
// forbids.
func Violation(ch Channel, op, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Channel: ch.Name(),
		Op:      op,
		Reason:  fmt.Sprintf(format, args...),
	}
}

// ReadFull reads exactly len(buf) bytes from ch. Anything less,
// including a clean EOF, is a *ProtocolError.
func ReadFull(ch Channel, buf []byte, op string) error {
	count, err := io.ReadFull(ch, buf)
	if err != nil || count != len(buf) {
		return &ProtocolError{
			Channel: ch.Name(),
			Op:      op,
			Want:    len(buf),
			Got:     count,
			Err:     err,
		}
	}
	return nil
}

// ReadExact reads and returns exactly size bytes from ch.
func ReadExact(ch Channel, size int, op string) ([]byte, error) {
	buf := make([]byte, size)
	if err := ReadFull(ch, buf, op); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteExact writes all of data to ch in a single Write call. A short
// write or a transport error is a *ProtocolError.
func WriteExact(ch Channel, data []byte, op string) error {
	count, err := ch.Write(data)
	if err != nil || count != len(data) {
		return &ProtocolError{
			Channel: ch.Name(),
			Op:      op,
			Want:    len(data),
			Got:     count,
			Err:     err,
		}
	}
	return nil
}
