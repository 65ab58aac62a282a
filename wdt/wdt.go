// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package wdt drives the MCOM FPGA system watchdog, a word addressed
// register file reached over an SMBus style bus. The package keeps no
// internal timer; the caller schedules Kick on its own cadence and
// must serialize all operations on a Device, because SetMode and Kick
// are multi phase bus sequences.
package wdt

import "fmt"

// Bus is the word oriented register transport. Implementations hold
// no state beyond the transport handle and may be shared freely.
type Bus interface {
	ReadWord(reg uint8) (uint16, error)
	WriteWord(reg uint8, value uint16) error
	// Addr is the endpoint address, checked once at Attach.
	Addr() int
}

// Device is an attached watchdog. It caches the last status/control
// word and timeout accepted by hardware; a failed write never
// advances the cache.
type Device struct {
	bus           Bus
	statusControl uint16
	mode          Mode
	timeout       uint32
}

// Attach checks the bus endpoint, resolves the initial timeout, and
// programs it so the cached value and hardware agree before the first
// Kick. A zero timeout adopts whatever the uptime register holds. Any
// failure aborts the attach.
func Attach(bus Bus, timeout uint32) (*Device, error) {
	if a := bus.Addr(); a != SlaveAddr {
		return nil, &AttachError{
			Reason: fmt.Sprintf("address 0x%02x, want 0x%02x",
				a, SlaveAddr),
		}
	}
	d := &Device{bus: bus}
	if timeout == 0 {
		v, err := bus.ReadWord(uint8(Uptime))
		if err != nil {
			return nil, &AttachError{Reason: "read timeout", Err: err}
		}
		timeout = uint32(v)
	}
	if err := d.SetTimeout(timeout); err != nil {
		return nil, &AttachError{Reason: "set timeout", Err: err}
	}
	return d, nil
}

// Detach drops the bus reference. Idempotent; any later operation
// returns a ProtocolViolation.
func (d *Device) Detach() { d.bus = nil }

func (d *Device) readWord(r Register) (uint16, error) {
	if d.bus == nil {
		return 0, &ProtocolViolation{Msg: "device detached"}
	}
	return d.bus.ReadWord(uint8(r))
}

func (d *Device) writeWord(r Register, v uint16) error {
	if d.bus == nil {
		return &ProtocolViolation{Msg: "device detached"}
	}
	return d.bus.WriteWord(uint8(r), v)
}

// SetMode moves the watchdog to m with a read-modify-write of the
// status/control register. The write is the only mutation point, so a
// failure leaves both hardware and the cached mode untouched.
func (d *Device) SetMode(m Mode) error {
	switch m {
	case Start, Normal, Down:
	default:
		return &ProtocolViolation{
			Msg: fmt.Sprintf("mode 0x%02x: not start, normal, or down",
				uint16(m)),
		}
	}
	old, err := d.readWord(StatusControl)
	if err != nil {
		return err
	}
	// Mask chain per the FPGA register description; keep as is.
	v := (old & disMask & modeMask) | uint16(m)
	if err = d.writeWord(StatusControl, v); err != nil {
		return err
	}
	d.statusControl = v
	d.mode = m
	return nil
}

func (d *Device) Start() error { return d.SetMode(Start) }
func (d *Device) Stop() error  { return d.SetMode(Down) }

// Mode returns the last mode accepted by hardware, zero before the
// first successful SetMode.
func (d *Device) Mode() Mode { return d.mode }

// StatusControl returns the last status/control word accepted by
// hardware.
func (d *Device) StatusControl() uint16 { return d.statusControl }

// Kick pulses the kick register low, high, low to reset the hardware
// countdown. Each phase is its own bus transaction and the first
// failure aborts the sequence; a half finished pulse is recovered by
// retrying the whole sequence on the next cycle, never by resuming
// mid pulse.
func (d *Device) Kick() error {
	for _, v := range []uint16{0x0000, 0x0100, 0x0000} {
		if err := d.writeWord(kickReg, v); err != nil {
			return err
		}
	}
	return nil
}

// SetTimeout programs the uptime register. Values that don't fit the
// 16 bit hardware field are rejected rather than truncated so the
// cached timeout can't drift from what hardware holds.
func (d *Device) SetTimeout(seconds uint32) error {
	if seconds > 0xffff {
		return &ProtocolViolation{
			Msg: fmt.Sprintf("timeout %ds: exceeds 16 bit register",
				seconds),
		}
	}
	if err := d.writeWord(Uptime, uint16(seconds)); err != nil {
		return err
	}
	d.timeout = seconds
	return nil
}

// Timeout returns the last timeout accepted by hardware, in seconds,
// zero before the first successful SetTimeout.
func (d *Device) Timeout() uint32 { return d.timeout }

// ReadRegister reads a named configuration register.
func (d *Device) ReadRegister(r Register) (uint16, error) {
	if !r.Readable() {
		return 0, &ProtocolViolation{Msg: r.String() + ": write only register"}
	}
	return d.readWord(r)
}

// WriteRegister writes a named configuration register. Raw writes to
// the status/control and uptime registers keep the mode and timeout
// caches in step with hardware.
func (d *Device) WriteRegister(r Register, v uint16) error {
	if !r.Writable() {
		return &ProtocolViolation{Msg: r.String() + ": read only register"}
	}
	if err := d.writeWord(r, v); err != nil {
		return err
	}
	switch r {
	case StatusControl:
		d.statusControl = v
		switch m := Mode(v) & (Start | Normal | Down); m {
		case Start, Normal, Down:
			d.mode = m
		}
	case Uptime:
		d.timeout = uint32(v)
	}
	return nil
}
