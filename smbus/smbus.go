// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package smbus adapts the i2c ioctl interface to the word oriented
// register bus the wdt package expects. One transaction per call, no
// retries, no interpretation of the data.
package smbus

import (
	"sync"

	"github.com/platinasystems/i2c"
	"github.com/platinasystems/mcomwd/wdt"
)

// One ioctl transaction at a time across the process.
var mutex sync.Mutex

// Dev addresses one device on one i2c bus. It is stateless beyond the
// address pair and may be shared freely.
type Dev struct {
	bus  int
	addr int
}

func New(bus, addr int) *Dev { return &Dev{bus: bus, addr: addr} }

func (h *Dev) Addr() int { return h.addr }

func (h *Dev) do(rw i2c.RW, reg uint8, data *i2c.SMBusData) error {
	mutex.Lock()
	defer mutex.Unlock()

	var bus i2c.Bus
	if err := bus.Open(h.bus); err != nil {
		return err
	}
	defer bus.Close()
	if err := bus.ForceSlaveAddress(h.addr); err != nil {
		return err
	}
	return bus.Do(rw, reg, i2c.WordData, data)
}

// ReadWord performs one SMBus read word transaction.
func (h *Dev) ReadWord(reg uint8) (uint16, error) {
	var data i2c.SMBusData
	if err := h.do(i2c.Read, reg, &data); err != nil {
		return 0, &wdt.BusError{Op: "read", Reg: reg, Err: err}
	}
	// SMBus words are little endian on the wire.
	return uint16(data[1])<<8 | uint16(data[0]), nil
}

// WriteWord performs one SMBus write word transaction.
func (h *Dev) WriteWord(reg uint8, v uint16) error {
	var data i2c.SMBusData
	data[0] = uint8(v)
	data[1] = uint8(v >> 8)
	if err := h.do(i2c.Write, reg, &data); err != nil {
		return &wdt.BusError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}
