// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package sources

import (
	"golang.org/x/sys/unix"

	"github.com/hostsnap/agent/pkg/sysinfo"
)

func uname() (sysinfo.KernelInfo, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return sysinfo.KernelInfo{}, err
	}
	return sysinfo.KernelInfo{
		Sysname:  unix.ByteSliceToString(u.Sysname[:]),
		Release:  unix.ByteSliceToString(u.Release[:]),
		Version:  unix.ByteSliceToString(u.Version[:]),
		Machine:  unix.ByteSliceToString(u.Machine[:]),
		Hostname: unix.ByteSliceToString(u.Nodename[:]),
	}, nil
}
