// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package wdt

import "fmt"

// BusError is a transport level failure (nack, timeout, arbitration
// loss) reported by a Bus implementation. The Device propagates these
// verbatim and never retries.
type BusError struct {
	Op  string // "read" or "write"
	Reg uint8
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s reg 0x%02x: %v", e.Op, e.Reg, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// ProtocolViolation reports a request outside the driver contract. It
// is returned before any bus transaction is issued.
type ProtocolViolation struct {
	Msg string
}

func (e *ProtocolViolation) Error() string { return e.Msg }

// AttachError reports an identity check or bootstrap failure during
// Attach. No device is published when attach fails.
type AttachError struct {
	Reason string
	Err    error
}

func (e *AttachError) Error() string {
	if e.Err != nil {
		return "attach: " + e.Reason + ": " + e.Err.Error()
	}
	return "attach: " + e.Reason
}

func (e *AttachError) Unwrap() error { return e.Err }
