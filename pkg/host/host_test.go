// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package host_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostsnap/agent/pkg/host"
)

func fixturePaths(t *testing.T) host.Paths {
	t.Helper()
	tmpDir := t.TempDir()
	paths := host.Paths{
		Proc: filepath.Join(tmpDir, "proc"),
		Sys:  filepath.Join(tmpDir, "sys"),
		Etc:  filepath.Join(tmpDir, "etc"),
		Var:  filepath.Join(tmpDir, "var"),
	}
	for _, dir := range []string{
		filepath.Join(paths.Proc, "sys/kernel"),
		filepath.Join(paths.Sys, "class/dmi/id"),
		paths.Etc,
		filepath.Join(paths.Var, "lib/dbus"),
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	return paths
}

func TestHostnameFromProc(t *testing.T) {
	paths := fixturePaths(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(paths.Proc, "sys/kernel/hostname"), []byte("web-01\n"), 0o644))

	hostname, err := host.Hostname(paths)
	require.NoError(t, err)
	assert.Equal(t, "web-01", hostname)
}

func TestHostnameFallsBackToOS(t *testing.T) {
	paths := fixturePaths(t)
	// No hostname file in the fixture proc.

	hostname, err := host.Hostname(paths)
	require.NoError(t, err)
	assert.NotEmpty(t, hostname)
}

func TestMachineID(t *testing.T) {
	paths := fixturePaths(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(paths.Etc, "machine-id"), []byte("abc123def456\n"), 0o644))

	id, err := host.MachineID(paths)
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", id)
}

func TestMachineIDDbusFallback(t *testing.T) {
	paths := fixturePaths(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(paths.Var, "lib/dbus/machine-id"), []byte("dbus789\n"), 0o644))

	id, err := host.MachineID(paths)
	require.NoError(t, err)
	assert.Equal(t, "dbus789", id)
}

func TestMachineIDNotFound(t *testing.T) {
	paths := fixturePaths(t)
	_, err := host.MachineID(paths)
	assert.Error(t, err)
}

func TestBootTime(t *testing.T) {
	paths := fixturePaths(t)
	statContent := `cpu  1234567 0 2345678 98765432 123456 78901 234567 0 0 0
btime 1638360000
processes 1234567
`
	require.NoError(t, os.WriteFile(
		filepath.Join(paths.Proc, "stat"), []byte(statContent), 0o644))

	bootTime, err := host.BootTime(paths)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1638360000, 0), bootTime)
}

func TestBootTimeMissing(t *testing.T) {
	paths := fixturePaths(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(paths.Proc, "stat"), []byte("cpu 1 2 3\n"), 0o644))

	_, err := host.BootTime(paths)
	assert.Error(t, err)
}

func TestCollectIsBestEffort(t *testing.T) {
	paths := fixturePaths(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(paths.Proc, "sys/kernel/hostname"), []byte("web-01\n"), 0o644))
	// No machine-id, no btime, no DMI uuid.

	info := host.Collect(paths)
	assert.Equal(t, "web-01", info.Hostname)
	assert.Empty(t, info.MachineID)
	assert.Empty(t, info.SystemUUID)
	assert.True(t, info.BootTime.IsZero())
}
