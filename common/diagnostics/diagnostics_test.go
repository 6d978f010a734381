// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package diagnostics

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

var (
	portFlag        = cli.IntFlag{Name: "diagnostics"}
	cpuProfileFlag  = cli.StringFlag{Name: "cpu-profile"}
	heapProfileFlag = cli.StringFlag{Name: "heap-profile"}
	traceFlag       = cli.StringFlag{Name: "trace"}
	allFlags        = Flags{Port: &portFlag, CpuProfile: &cpuProfileFlag, HeapProfile: &heapProfileFlag, Trace: &traceFlag}
)

func newTestApp(action cli.ActionFunc) *cli.App {
	return &cli.App{
		Action: WrapAction(action, allFlags),
		Flags:  []cli.Flag{&portFlag, &cpuProfileFlag, &heapProfileFlag, &traceFlag},
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func TestWrapAction_ProfilesAndServerAreActiveDuringAction(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	url := "http://localhost:" + strconv.Itoa(port) + "/debug/pprof/"
	called := false
	action := func(ctx *cli.Context) error {
		require.FileExists(t, filepath.Join(dir, "cpu.profile"))
		require.FileExists(t, filepath.Join(dir, "trace.out"))

		var statusCode int
		var lastErr error
		wait := 10 * time.Millisecond
		for i := 0; i < 10 && statusCode != http.StatusOK; i++ {
			resp, err := http.Get(url)
			lastErr = err
			if resp != nil {
				statusCode = resp.StatusCode
				_ = resp.Body.Close()
			}
			time.Sleep(wait)
			wait *= 2
		}
		require.NoError(t, lastErr)
		require.Equal(t, http.StatusOK, statusCode)

		called = true
		return nil
	}

	err := newTestApp(action).RunContext(context.Background(), []string{
		"cmd",
		"--diagnostics", strconv.Itoa(port),
		"--cpu-profile", filepath.Join(dir, "cpu.profile"),
		"--heap-profile", filepath.Join(dir, "heap.profile"),
		"--trace", filepath.Join(dir, "trace.out"),
	})
	require.NoError(t, err)
	require.True(t, called, "action should be called")
	require.FileExists(t, filepath.Join(dir, "heap.profile"))

	// The server is stopped with the action.
	_, err = http.Get(url)
	require.Error(t, err)
}

func TestWrapAction_NoDiagnosticsByDefault(t *testing.T) {
	called := false
	err := newTestApp(func(*cli.Context) error {
		called = true
		return nil
	}).RunContext(context.Background(), []string{"cmd"})
	require.NoError(t, err)
	require.True(t, called)
}

func TestWrapAction_InvalidPortIsRejected(t *testing.T) {
	err := newTestApp(func(*cli.Context) error {
		t.Fatal("action must not be called")
		return nil
	}).RunContext(context.Background(), []string{"cmd", "--diagnostics", "70000"})
	require.ErrorContains(t, err, "invalid diagnostics port")
}

func TestWrapAction_UnwritableProfileIsReported(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing", "cpu.profile")
	err := newTestApp(func(*cli.Context) error {
		t.Fatal("action must not be called")
		return nil
	}).RunContext(context.Background(), []string{"cmd", "--cpu-profile", missing})
	require.ErrorContains(t, err, "could not create CPU profile")
}
