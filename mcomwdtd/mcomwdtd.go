// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package mcomwdtd supervises the MCOM FPGA system watchdog: it kicks
// the device on a fixed cadence and exposes the register file through
// the redis config plane. The kick path and the config path share one
// device instance and are serialized by the Info mutex.
package mcomwdtd

import (
	"errors"
	"fmt"
	"net/rpc"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/atsock"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/gpio"
	"github.com/platinasystems/log"
	"github.com/platinasystems/mcomwd/smbus"
	"github.com/platinasystems/mcomwd/wdt"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/redis"
	"github.com/platinasystems/redis/publisher"
	"github.com/platinasystems/redis/rpc/args"
	"github.com/platinasystems/redis/rpc/reply"
)

const Name = "mcomwdtd"

// HeartbeatPin, if set by the machine, is strobed after each
// successful kick.
var HeartbeatPin string

type Command struct {
	Info
	Init func()
	init sync.Once
}

type Info struct {
	mutex sync.Mutex
	rpc   *atsock.RpcServer
	pub   *publisher.Publisher
	stop  chan struct{}
	dev   *wdt.Device
	last  map[string]string
}

func (*Command) String() string { return Name }

func (*Command) Usage() string {
	return "mcomwdtd [-nostart] [-b BUS] [-t SECONDS] [-T SECONDS]"
}

func (*Command) Apropos() string { return "MCOM FPGA watchdog daemon" }

func (*Command) Kind() string { return "daemon" }

func (c *Command) Main(arg ...string) error {
	if c.Init != nil {
		c.init.Do(c.Init)
	}

	flag, arg := flags.New(arg, "-nostart")
	parm, arg := parms.New(arg, "-b", "-t", "-T")
	if len(arg) > 0 {
		return fmt.Errorf("%v: unexpected", arg)
	}
	for k, v := range map[string]string{
		"-b": "0",
		"-T": "0",
	} {
		if len(parm.ByName[k]) == 0 {
			parm.ByName[k] = v
		}
	}

	busNo, err := strconv.Atoi(parm.ByName["-b"])
	if err != nil {
		return fmt.Errorf("%s: invalid bus: %v", parm.ByName["-b"], err)
	}
	timeout, err := strconv.ParseUint(parm.ByName["-T"], 0, 32)
	if err != nil {
		return fmt.Errorf("%s: invalid timeout: %v", parm.ByName["-T"], err)
	}

	if err = redis.IsReady(); err != nil {
		return err
	}

	c.stop = make(chan struct{})
	c.last = make(map[string]string)

	if c.pub, err = publisher.New(); err != nil {
		return err
	}

	c.dev, err = c.attach(busNo, uint32(timeout))
	if err != nil {
		return err
	}
	defer c.dev.Detach()

	// The config plane comes up only after attach; Hset reads c.dev.
	if c.rpc, err = atsock.NewRpcServer(Name); err != nil {
		return err
	}
	rpc.Register(&c.Info)
	if err = redis.Assign(redis.DefaultHash+":mcom.", Name, "Info"); err != nil {
		return err
	}

	if !flag.ByName["-nostart"] {
		if err = c.dev.Start(); err != nil {
			return err
		}
	}

	period := time.Duration(c.dev.Timeout()/2) * time.Second
	if len(parm.ByName["-t"]) > 0 {
		sec, err := strconv.ParseUint(parm.ByName["-t"], 0, 32)
		if err != nil {
			return fmt.Errorf("%s: invalid period: %v",
				parm.ByName["-t"], err)
		}
		period = time.Duration(sec) * time.Second
	}
	if period < time.Second {
		period = time.Second
	}

	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return nil
		case <-t.C:
			c.update()
		}
	}
}

func (c *Command) Close() error {
	close(c.stop)
	return nil
}

// attach keeps trying while the bus enumerates; the FPGA may come up
// after us.
func (c *Command) attach(busNo int, timeout uint32) (*wdt.Device, error) {
	b := &backoff.Backoff{
		Min:    1 * time.Second,
		Max:    30 * time.Second,
		Factor: 2,
	}
	for {
		dev, err := wdt.Attach(smbus.New(busNo, wdt.SlaveAddr), timeout)
		if err == nil {
			log.Print("notice: ", Name, ": timeout ",
				dev.Timeout(), "s")
			return dev, nil
		}
		var be *wdt.BusError
		if !errors.As(err, &be) || b.Attempt() >= 8 {
			return nil, err
		}
		d := b.Duration()
		log.Print("err: ", Name, ": ", err, "; retry in ", d)
		select {
		case <-c.stop:
			return nil, err
		case <-time.After(d):
		}
	}
}

// update services the watchdog, then publishes whatever changed. A
// failed kick means the device was not serviced this cycle; the next
// tick retries the whole pulse.
func (c *Command) update() {
	c.Info.mutex.Lock()
	defer c.Info.mutex.Unlock()

	if err := c.dev.Kick(); err != nil {
		log.Print("err: ", Name, ": kick: ", err)
		return
	}
	heartbeat()

	c.publish("mcom.mode", c.dev.Mode())
	c.publish("mcom.timeout.units.sec",
		strconv.FormatUint(uint64(c.dev.Timeout()), 10))
	for _, r := range wdt.Registers() {
		if !r.Readable() {
			continue
		}
		v, err := c.dev.ReadRegister(r)
		if err != nil {
			log.Print("err: ", Name, ": read ", r, ": ", err)
			continue
		}
		c.publish("mcom."+r.String(), fmt.Sprintf("0x%04x", v))
	}
}

func heartbeat() {
	if len(HeartbeatPin) == 0 {
		return
	}
	pin, found := gpio.Pins[HeartbeatPin]
	if !found {
		return
	}
	pin.SetValue(false)
	time.Sleep(10 * time.Microsecond)
	pin.SetValue(true)
}

func modeByName(s string) (wdt.Mode, bool) {
	switch s {
	case "start":
		return wdt.Start, true
	case "normal":
		return wdt.Normal, true
	case "down":
		return wdt.Down, true
	}
	return 0, false
}

// Register values are given in hex, with or without the 0x prefix.
func parseWord(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: not a 16 bit hex value", s)
	}
	return uint16(v), nil
}

func (i *Info) Hset(a args.Hset, r *reply.Hset) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.dev == nil {
		return errors.New("device not attached")
	}

	field := strings.TrimPrefix(a.Field, "mcom.")
	v := string(a.Value)
	v = strings.TrimRight(v, "\n") // Be conservative in what we accept

	// published in the same form update uses, so the dedupe map holds
	pub := v
	switch field {
	case "mode":
		m, found := modeByName(v)
		if !found {
			return fmt.Errorf("%s: not start, normal, or down", v)
		}
		if err := i.dev.SetMode(m); err != nil {
			return err
		}
		pub = m.String()
	case "timeout.units.sec":
		sec, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return err
		}
		if err = i.dev.SetTimeout(uint32(sec)); err != nil {
			return err
		}
		pub = strconv.FormatUint(sec, 10)
	default:
		reg, found := wdt.RegisterByName(field)
		if !found {
			return fmt.Errorf("don't know how to set %s", a.Field)
		}
		w, err := parseWord(v)
		if err != nil {
			return err
		}
		if err = i.dev.WriteRegister(reg, w); err != nil {
			return err
		}
		pub = fmt.Sprintf("0x%04x", w)
	}
	i.publish(a.Field, pub)
	*r = 1
	return nil
}

func (i *Info) publish(key string, value interface{}) {
	s := fmt.Sprint(value)
	if i.last[key] == s {
		return
	}
	i.pub.Print(key, ": ", s)
	i.last[key] = s
}
