// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/platinasystems/mcomwd/mcomwdtd"
)

func main() {
	cmd := new(mcomwdtd.Command)
	if err := cmd.Main(os.Args[1:]...); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}
