// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package wdt

// SlaveAddr is the fixed I2C address of the MCOM FPGA.
const SlaveAddr = 0x3c

// Status/control register fields.
const (
	disMask  = 0x7f // low 7 bits hold the disable field
	modeMask = 0xf8 // high 5 bits hold the mode field
)

// Mode selects the action the watchdog takes when its countdown
// expires. The zero value means no mode has been written yet.
type Mode uint16

const (
	Start  Mode = 0x01
	Normal Mode = 0x02
	Down   Mode = 0x04
)

func (m Mode) String() string {
	switch m {
	case Start:
		return "start"
	case Normal:
		return "normal"
	case Down:
		return "down"
	}
	return "none"
}

// Register is a word offset in the FPGA register file.
type Register uint8

const (
	StatusControl   Register = 0x00
	DisableUbs      Register = 0x12
	Uptime          Register = 0x20
	NormalTime      Register = 0x22
	DownTime        Register = 0x24
	UbsTime         Register = 0x26
	PeripheralReset Register = 0x28
	WindowTime      Register = 0x2c
	kickReg         Register = 0x2e
	Temperature     Register = 0x50
	MvbStatus       Register = 0x90
	MvbControl      Register = 0x92
)

const (
	rd = 1 << iota
	wr
)

type regInfo struct {
	name string
	mode int
}

// The kick register is driven only by (*Device).Kick and is kept out
// of this table; some registers silently accept the wrong direction,
// so direction is enforced here rather than left to the hardware.
var regTab = map[Register]regInfo{
	StatusControl:   {"status_control", rd | wr},
	DisableUbs:      {"disable_ubs", rd | wr},
	Uptime:          {"uptime", rd | wr},
	NormalTime:      {"normaltime", rd | wr},
	DownTime:        {"downtime", rd | wr},
	UbsTime:         {"ubstime", rd | wr},
	PeripheralReset: {"peripheral_reset", wr},
	WindowTime:      {"windowtime", rd | wr},
	Temperature:     {"temperature", rd},
	MvbStatus:       {"mvb_status", rd},
	MvbControl:      {"mvb_ctrl", rd | wr},
}

var regList = []Register{
	StatusControl,
	DisableUbs,
	Uptime,
	NormalTime,
	DownTime,
	UbsTime,
	PeripheralReset,
	WindowTime,
	Temperature,
	MvbStatus,
	MvbControl,
}

// Registers lists the named configuration registers in address order.
func Registers() []Register {
	regs := make([]Register, len(regList))
	copy(regs, regList)
	return regs
}

func (r Register) String() string {
	if ri, found := regTab[r]; found {
		return ri.name
	}
	return "unknown"
}

func (r Register) Readable() bool { return regTab[r].mode&rd != 0 }
func (r Register) Writable() bool { return regTab[r].mode&wr != 0 }

// RegisterByName resolves a register from its published name.
func RegisterByName(name string) (Register, bool) {
	for r, ri := range regTab {
		if ri.name == name {
			return r, true
		}
	}
	return 0, false
}
