// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build !linux

package sources

import (
	"errors"

	"github.com/hostsnap/agent/pkg/sysinfo"
)

func uname() (sysinfo.KernelInfo, error) {
	return sysinfo.KernelInfo{}, errors.New("kernel info is only supported on linux")
}
